package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORS(t *testing.T) {
	var reached int
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached++
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name       string
		origins    []string
		method     string
		origin     string
		preflight  bool
		wantStatus int
		wantAllow  string
		wantReach  bool
	}{
		{"listed origin", []string{"https://dash.example/"}, http.MethodGet, "https://dash.example", false, http.StatusOK, "https://dash.example", true},
		{"unlisted origin", []string{"https://dash.example"}, http.MethodGet, "https://evil.example", false, http.StatusOK, "", true},
		{"wildcard", []string{"*"}, http.MethodGet, "https://any.example", false, http.StatusOK, "https://any.example", true},
		{"preflight", nil, http.MethodOptions, "https://any.example", true, http.StatusNoContent, "https://any.example", false},
		{"bare options reaches mux", nil, http.MethodOptions, "", false, http.StatusOK, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reached = 0
			req := httptest.NewRequest(tt.method, "/api/trades", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.preflight {
				req.Header.Set("Access-Control-Request-Method", http.MethodGet)
			}
			rec := httptest.NewRecorder()
			CORS(tt.origins)(next).ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllow {
				t.Errorf("allow origin = %q, want %q", got, tt.wantAllow)
			}
			if (reached > 0) != tt.wantReach {
				t.Errorf("reached next = %v, want %v", reached > 0, tt.wantReach)
			}
		})
	}
}
