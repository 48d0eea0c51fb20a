package postgres

import (
	"testing"
	"time"

	"github.com/alanyoungcy/txoracle/internal/domain"
)

func TestAppendListOpts(t *testing.T) {
	since := time.Unix(1_700_000_000, 0)
	tests := []struct {
		name     string
		opts     domain.ListOpts
		wantSQL  string
		wantArgs int
	}{
		{"none", domain.ListOpts{}, "SELECT x FROM t WHERE status = $1 ORDER BY created_at DESC", 1},
		{"window and page", domain.ListOpts{Since: &since, Limit: 10, Offset: 20},
			"SELECT x FROM t WHERE status = $1 AND created_at >= $2 ORDER BY created_at DESC LIMIT $3 OFFSET $4", 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args := appendListOpts("SELECT x FROM t WHERE status = $1", []any{"matched"}, tt.opts)
			if sql != tt.wantSQL {
				t.Errorf("sql = %q, want %q", sql, tt.wantSQL)
			}
			if len(args) != tt.wantArgs {
				t.Errorf("args = %d, want %d", len(args), tt.wantArgs)
			}
		})
	}
}

func TestDSN(t *testing.T) {
	got := DSN(ClientConfig{Host: "db", Database: "txoracle", User: "u", Password: "p"})
	if want := "postgres://u:p@db:5432/txoracle?sslmode=disable"; got != want {
		t.Errorf("DSN = %q, want %q", got, want)
	}
	if got := DSN(ClientConfig{DSN: "postgres://x"}); got != "postgres://x" {
		t.Errorf("explicit DSN = %q", got)
	}
}
