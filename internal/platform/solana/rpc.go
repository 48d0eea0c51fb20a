package solana

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mr-tron/base58"

	"github.com/alanyoungcy/txoracle/internal/domain"
)

// RPCClient is a JSON-RPC client for a ledger node.
type RPCClient struct {
	url          string
	httpClient   *http.Client
	commitment   string
	pollInterval time.Duration
	logger       *slog.Logger
	nextID       atomic.Int64
}

// RPCConfig configures an RPCClient.
type RPCConfig struct {
	URL          string
	Timeout      time.Duration
	Commitment   string
	PollInterval time.Duration
}

// NewRPCClient creates a JSON-RPC client.
func NewRPCClient(cfg RPCConfig, logger *slog.Logger) *RPCClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Commitment == "" {
		cfg.Commitment = "confirmed"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &RPCClient{
		url:          cfg.URL,
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		commitment:   cfg.Commitment,
		pollInterval: cfg.PollInterval,
		logger:       logger.With(slog.String("component", "solana_rpc")),
	}
}

// RPCError is an error object returned by the node. Logs carries program
// log lines from a failed simulation when the node includes them.
type RPCError struct {
	Code    int
	Message string
	Logs    []string
}

func (e *RPCError) Error() string {
	if len(e.Logs) == 0 {
		return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("rpc error %d: %s [%s]", e.Code, e.Message, strings.Join(e.Logs, " | "))
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int             `json:"code"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	} `json:"error"`
}

func (c *RPCClient) call(ctx context.Context, method string, params []any, out any) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: c.nextID.Add(1), Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("solana/rpc: marshal %s: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("solana/rpc: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("solana/rpc: %s: %w", method, ctx.Err())
		}
		return fmt.Errorf("solana/rpc: %s: %w: %v", method, domain.ErrTransient, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("solana/rpc: %s: read response: %w: %v", method, domain.ErrTransient, err)
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("solana/rpc: %s: %w: %w", method, domain.ErrRateLimited, domain.ErrTransient)
	case resp.StatusCode >= 500:
		return fmt.Errorf("solana/rpc: %s: %w: HTTP %d", method, domain.ErrTransient, resp.StatusCode)
	case resp.StatusCode >= 300:
		return fmt.Errorf("solana/rpc: %s: HTTP %d: %s", method, resp.StatusCode, string(respBody))
	}

	var rr rpcResponse
	if err := json.Unmarshal(respBody, &rr); err != nil {
		return fmt.Errorf("solana/rpc: %s: decode response: %w", method, err)
	}
	if rr.Error != nil {
		rpcErr := &RPCError{Code: rr.Error.Code, Message: rr.Error.Message}
		var data struct {
			Logs []string `json:"logs"`
		}
		if len(rr.Error.Data) > 0 && json.Unmarshal(rr.Error.Data, &data) == nil {
			rpcErr.Logs = data.Logs
		}
		return rpcErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(rr.Result, out); err != nil {
		return fmt.Errorf("solana/rpc: %s: decode result: %w", method, err)
	}
	return nil
}

// AccountInfo is the subset of account state the client reads.
type AccountInfo struct {
	Lamports uint64
	Owner    domain.PublicKey
	Data     []byte
}

// GetAccountInfo returns the account at pk, or nil when it does not exist.
func (c *RPCClient) GetAccountInfo(ctx context.Context, pk domain.PublicKey) (*AccountInfo, error) {
	var result struct {
		Value *struct {
			Lamports uint64    `json:"lamports"`
			Owner    string    `json:"owner"`
			Data     [2]string `json:"data"`
		} `json:"value"`
	}
	params := []any{pk.String(), map[string]any{"encoding": "base64", "commitment": c.commitment}}
	if err := c.call(ctx, "getAccountInfo", params, &result); err != nil {
		return nil, err
	}
	if result.Value == nil {
		return nil, nil
	}
	owner, err := domain.PublicKeyFromBase58(result.Value.Owner)
	if err != nil {
		return nil, fmt.Errorf("solana/rpc: account owner: %w", err)
	}
	data, err := base64.StdEncoding.DecodeString(result.Value.Data[0])
	if err != nil {
		return nil, fmt.Errorf("solana/rpc: account data: %w", err)
	}
	return &AccountInfo{Lamports: result.Value.Lamports, Owner: owner, Data: data}, nil
}

// GetLatestBlockhash returns a recent blockhash for transaction assembly.
func (c *RPCClient) GetLatestBlockhash(ctx context.Context) ([32]byte, error) {
	var out [32]byte
	var result struct {
		Value struct {
			Blockhash string `json:"blockhash"`
		} `json:"value"`
	}
	if err := c.call(ctx, "getLatestBlockhash", []any{map[string]any{"commitment": c.commitment}}, &result); err != nil {
		return out, err
	}
	raw, err := base58.Decode(result.Value.Blockhash)
	if err != nil || len(raw) != 32 {
		return out, fmt.Errorf("solana/rpc: bad blockhash %q", result.Value.Blockhash)
	}
	copy(out[:], raw)
	return out, nil
}

// SendTransaction submits a signed wire transaction after preflight
// simulation and returns its base58 signature.
func (c *RPCClient) SendTransaction(ctx context.Context, tx []byte) (string, error) {
	var sig string
	params := []any{
		base64.StdEncoding.EncodeToString(tx),
		map[string]any{"encoding": "base64", "preflightCommitment": c.commitment},
	}
	if err := c.call(ctx, "sendTransaction", params, &sig); err != nil {
		return "", err
	}
	return sig, nil
}

// SignatureStatus is the confirmation state of a transaction.
type SignatureStatus struct {
	ConfirmationStatus string          `json:"confirmationStatus"`
	Err                json.RawMessage `json:"err"`
}

// Failed reports whether the transaction executed with an error.
func (s SignatureStatus) Failed() bool {
	return len(s.Err) > 0 && string(s.Err) != "null"
}

// GetSignatureStatus returns the status of sig, or nil when unknown.
func (c *RPCClient) GetSignatureStatus(ctx context.Context, sig string) (*SignatureStatus, error) {
	var result struct {
		Value []*SignatureStatus `json:"value"`
	}
	params := []any{[]string{sig}, map[string]any{"searchTransactionHistory": true}}
	if err := c.call(ctx, "getSignatureStatuses", params, &result); err != nil {
		return nil, err
	}
	if len(result.Value) == 0 {
		return nil, nil
	}
	return result.Value[0], nil
}

// ConfirmTransaction polls at a fixed interval until sig reaches the
// client's commitment level, fails, or ctx ends.
func (c *RPCClient) ConfirmTransaction(ctx context.Context, sig string) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		st, err := c.GetSignatureStatus(ctx, sig)
		if err != nil && !errors.Is(err, domain.ErrTransient) {
			return err
		}
		if st != nil {
			if st.Failed() {
				return fmt.Errorf("solana/rpc: transaction %s failed: %s", sig, string(st.Err))
			}
			if reached(st.ConfirmationStatus, c.commitment) {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("solana/rpc: confirm %s: %w", sig, ctx.Err())
		case <-ticker.C:
		}
	}
}

func reached(status, want string) bool {
	rank := map[string]int{"processed": 1, "confirmed": 2, "finalized": 3}
	return rank[status] >= rank[want] && rank[status] > 0
}

// SendAndConfirm assembles, signs, submits and confirms ixs with payer as
// fee payer.
func (c *RPCClient) SendAndConfirm(ctx context.Context, payer TxSigner, ixs []Instruction, extra ...TxSigner) (string, error) {
	blockhash, err := c.GetLatestBlockhash(ctx)
	if err != nil {
		return "", err
	}
	msg, err := CompileMessage(payer.PublicKey(), blockhash, ixs)
	if err != nil {
		return "", err
	}
	tx, err := SignTransaction(msg, append([]TxSigner{payer}, extra...)...)
	if err != nil {
		return "", err
	}
	sig, err := c.SendTransaction(ctx, tx)
	if err != nil {
		return "", err
	}
	c.logger.DebugContext(ctx, "solana_rpc: transaction sent", slog.String("signature", sig))
	if err := c.ConfirmTransaction(ctx, sig); err != nil {
		return sig, err
	}
	return sig, nil
}
