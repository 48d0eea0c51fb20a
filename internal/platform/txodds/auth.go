package txodds

import (
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

// GuestLogin starts a guest session and returns it carrying only the JWT.
func (c *Client) GuestLogin(ctx context.Context) (domain.Session, error) {
	body, err := c.doRequest(ctx, domain.Session{}, http.MethodPost, "/auth/guest/start", nil, nil)
	if err != nil {
		return domain.Session{}, fmt.Errorf("txodds: guest login: %w", err)
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.Token == "" {
		return domain.Session{}, fmt.Errorf("txodds: guest login: %w: no token in response", domain.ErrMalformedPayload)
	}
	return domain.Session{JWT: resp.Token}, nil
}

// ActivationURL builds the activation request for a funding transaction.
func (c *Client) ActivationURL(txSig, key, iv string) string {
	q := url.Values{}
	q.Set("txsig", txSig)
	q.Set("key", key)
	q.Set("iv", iv)
	return c.baseURL + "/api/token/activate?" + q.Encode()
}

// Activate exchanges a funding transaction signature and the key material
// that encrypted the session token for an API token. Any failed attempt,
// including an empty body, is retried with a fixed delay since the provider
// may not have observed the transaction yet. The error from the final attempt
// wraps domain.ErrActivationFailed.
func (c *Client) Activate(ctx context.Context, s domain.Session, txSig, key, iv string) (string, error) {
	if s.JWT == "" {
		return "", fmt.Errorf("txodds: activate: %w", domain.ErrNoSession)
	}
	u := c.ActivationURL(txSig, key, iv)

	var lastErr error
	for attempt := 1; attempt <= c.cfg.ActivationAttempts; attempt++ {
		token, err := c.activateOnce(ctx, s, u)
		if err == nil {
			c.logger.InfoContext(ctx, "txodds: subscription activated", slog.Int("attempt", attempt))
			return token, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", fmt.Errorf("txodds: activate: %w", ctx.Err())
		}
		c.logger.WarnContext(ctx, "txodds: activation attempt failed",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", c.cfg.ActivationAttempts),
			slog.String("error", err.Error()),
		)
		if attempt == c.cfg.ActivationAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("txodds: activate: %w", ctx.Err())
		case <-time.After(c.cfg.ActivationDelay):
		}
	}
	return "", fmt.Errorf("txodds: activate: %w: %w", domain.ErrActivationFailed, lastErr)
}

var errEmptyToken = errors.New("no api token received")

func (c *Client) activateOnce(ctx context.Context, s domain.Session, u string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ActivationTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+s.JWT)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", transportError(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrTransient, err)
	}
	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return "", err
	}
	token := parseToken(body)
	if token == "" {
		return "", errEmptyToken
	}
	return token, nil
}

// parseToken accepts either a bare token or a JSON string.
func parseToken(body []byte) string {
	raw := strings.TrimSpace(string(body))
	var s string
	if err := json.Unmarshal([]byte(raw), &s); err == nil {
		return strings.TrimSpace(s)
	}
	return raw
}
