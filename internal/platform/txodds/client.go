// Package txodds is the REST and streaming client for the sports data
// provider. Every authenticated call takes the caller's domain.Session
// explicitly so one client can serve several identities.
package txodds

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alanyoungcy/txoracle/internal/domain"
)

// Config configures a Client.
type Config struct {
	BaseURL string
	// Timeout bounds every non-streaming request.
	Timeout time.Duration
	// ActivationTimeout bounds a single activation attempt.
	ActivationTimeout  time.Duration
	ActivationAttempts int
	ActivationDelay    time.Duration
}

func (c *Config) setDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.ActivationTimeout <= 0 {
		c.ActivationTimeout = 15 * time.Second
	}
	if c.ActivationAttempts <= 0 {
		c.ActivationAttempts = 3
	}
	if c.ActivationDelay <= 0 {
		c.ActivationDelay = 2 * time.Second
	}
}

// Client talks to the provider's REST surface.
type Client struct {
	baseURL    string
	httpClient *http.Client
	streamHTTP *http.Client
	cfg        Config
	validator  *bundleValidator
	logger     *slog.Logger
}

// NewClient creates a provider client.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	cfg.setDefaults()
	if cfg.BaseURL == "" {
		return nil, errors.New("txodds: base url is required")
	}
	v, err := newBundleValidator()
	if err != nil {
		return nil, err
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		// Streams stay open indefinitely; cancellation comes from ctx.
		streamHTTP: &http.Client{},
		cfg:        cfg,
		validator:  v,
		logger:     logger.With(slog.String("component", "txodds")),
	}, nil
}

func authorize(req *http.Request, s domain.Session) {
	if s.JWT != "" {
		req.Header.Set("Authorization", "Bearer "+s.JWT)
	}
	if s.APIToken != "" {
		req.Header.Set("X-Api-Token", s.APIToken)
	}
}

// doRequest performs an HTTP request with the session's credentials and
// returns the response body.
func (c *Client) doRequest(ctx context.Context, s domain.Session, method, path string, query url.Values, body any) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	authorize(req, s)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response body: %w", domain.ErrTransient, err)
	}

	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

func (c *Client) getJSON(ctx context.Context, s domain.Session, path string, query url.Values, out any) error {
	body, err := c.doRequest(ctx, s, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode %s: %w", domain.ErrMalformedPayload, path, err)
	}
	return nil
}

func transportError(err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", domain.ErrContextDone, err)
	}
	return fmt.Errorf("%w: %w", domain.ErrTransient, err)
}

// checkHTTPStatus maps non-2xx status codes to appropriate domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := strings.TrimSpace(string(body))
	switch {
	case statusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case statusCode == http.StatusUnauthorized, statusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w: %s", domain.ErrRateLimited, domain.ErrTransient, bodyStr)
	case statusCode == http.StatusConflict || statusCode == http.StatusGone:
		return fmt.Errorf("%w: %s", domain.ErrOfferUnavailable, bodyStr)
	case statusCode >= 500:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrTransient, statusCode, bodyStr)
	default:
		return &StatusError{Code: statusCode, Body: bodyStr}
	}
}

// StatusError is a non-2xx response that maps to no domain error.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string { return fmt.Sprintf("HTTP %d: %s", e.Code, e.Body) }

// acceptRejections are body fragments the matching service uses when an
// acceptance loses to another participant or the offer is gone.
var acceptRejections = []string{
	"already accepted", "already matched", "not available", "no longer",
	"not found", "expired", "cancelled", "canceled", "filled",
}

// classifyAccept turns the matching service's 4xx rejection of an acceptance
// into domain.ErrOfferUnavailable.
func classifyAccept(err error) error {
	var se *StatusError
	if !errors.As(err, &se) || se.Code < 400 || se.Code >= 500 {
		return err
	}
	body := strings.ToLower(se.Body)
	for _, frag := range acceptRejections {
		if strings.Contains(body, frag) {
			return fmt.Errorf("%w: %w", domain.ErrOfferUnavailable, err)
		}
	}
	return err
}
