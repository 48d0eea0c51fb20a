package solana

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alanyoungcy/txoracle/internal/crypto"
	"github.com/alanyoungcy/txoracle/internal/domain"
)

func TestWellKnownIDsDecode(t *testing.T) {
	for _, id := range []string{SystemProgramID, TokenProgramID, ComputeBudgetProgramID, SysvarRentID} {
		if _, err := domain.PublicKeyFromBase58(id); err != nil {
			t.Errorf("%s: %v", id, err)
		}
	}
}

func TestFindProgramAddress(t *testing.T) {
	program := domain.PublicKey{7, 7, 7}
	seeds := [][]byte{[]byte("daily_scores_roots"), {0x36, 0x2d}}

	addr, bump, err := FindProgramAddress(seeds, program)
	if err != nil {
		t.Fatalf("FindProgramAddress: %v", err)
	}
	if IsOnCurve(addr[:]) {
		t.Error("derived address is on curve")
	}
	again, bump2, _ := FindProgramAddress(seeds, program)
	if again != addr || bump2 != bump {
		t.Error("derivation is not deterministic")
	}
	direct, err := CreateProgramAddress(append(seeds, []byte{bump}), program)
	if err != nil || direct != addr {
		t.Errorf("CreateProgramAddress with bump = %v, %v", direct, err)
	}
	other, _, _ := FindProgramAddress([][]byte{[]byte("daily_scores_roots"), {0x37, 0x2d}}, program)
	if other == addr {
		t.Error("different index derived the same address")
	}
	if _, _, err := FindProgramAddress([][]byte{make([]byte, 33)}, program); err == nil {
		t.Error("oversized seed: expected error")
	}
}

func TestIsOnCurveForRealKey(t *testing.T) {
	s, err := crypto.GenerateSigner()
	if err != nil {
		t.Fatal(err)
	}
	pk := s.PublicKey()
	if !IsOnCurve(pk[:]) {
		t.Error("ed25519 public key reported off curve")
	}
}

func TestCompileMessageOrdering(t *testing.T) {
	payer := domain.PublicKey{1}
	program := domain.PublicKey{2}
	ro := domain.PublicKey{3}
	rw := domain.PublicKey{4}
	ix := Instruction{
		ProgramID: program,
		Accounts:  []AccountMeta{Readonly(ro), Writable(rw), Readonly(payer)},
		Data:      []byte{9},
	}
	msg, err := CompileMessage(payer, [32]byte{5}, []Instruction{ix})
	if err != nil {
		t.Fatal(err)
	}
	want := []domain.PublicKey{payer, rw, ro, program}
	if len(msg.AccountKeys) != len(want) {
		t.Fatalf("keys = %v", msg.AccountKeys)
	}
	for i := range want {
		if msg.AccountKeys[i] != want[i] {
			t.Errorf("key %d = %v, want %v", i, msg.AccountKeys[i], want[i])
		}
	}
	if msg.NumRequiredSignatures != 1 || msg.NumReadonlySignedAccounts != 0 || msg.NumReadonlyUnsignedAccounts != 2 {
		t.Errorf("header = %d/%d/%d", msg.NumRequiredSignatures, msg.NumReadonlySignedAccounts, msg.NumReadonlyUnsignedAccounts)
	}
	if got := msg.Instructions[0].accounts; got[0] != 2 || got[1] != 1 || got[2] != 0 {
		t.Errorf("instruction account indices = %v", got)
	}
}

func TestSignTransaction(t *testing.T) {
	s, _ := crypto.GenerateSigner()
	ix := Instruction{ProgramID: domain.PublicKey{2}, Data: []byte{1}}
	msg, err := CompileMessage(s.PublicKey(), [32]byte{}, []Instruction{ix})
	if err != nil {
		t.Fatal(err)
	}
	tx, err := SignTransaction(msg, s)
	if err != nil {
		t.Fatal(err)
	}
	sig, err := FirstSignature(tx)
	if err != nil {
		t.Fatal(err)
	}
	if !crypto.Verify(s.PublicKey(), msg.Serialize(), sig) {
		t.Error("transaction signature does not verify")
	}
	if _, err := SignTransaction(msg); err == nil {
		t.Error("missing signer: expected error")
	}
}

func TestCompactU16(t *testing.T) {
	for _, n := range []int{0, 1, 127, 128, 255, 16383, 16384, 65535} {
		buf := appendCompactU16(nil, n)
		got, used, err := readCompactU16(buf)
		if err != nil || got != n || used != len(buf) {
			t.Errorf("compact-u16 %d: got %d used %d err %v", n, got, used, err)
		}
	}
}

func TestSetComputeUnitLimit(t *testing.T) {
	ix, err := SetComputeUnitLimit(600_000)
	if err != nil {
		t.Fatal(err)
	}
	if len(ix.Data) != 5 || ix.Data[0] != 2 || ix.Data[1] != 0xc0 || ix.Data[2] != 0x27 || ix.Data[3] != 0x09 {
		t.Errorf("data = %x", ix.Data)
	}
}

func newTestRPC(t *testing.T, handler func(method string, params []json.RawMessage) (any, *RPCError)) *RPCClient {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req struct {
			ID     int64             `json:"id"`
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("bad request: %v", err)
		}
		result, rpcErr := handler(req.Method, req.Params)
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			resp["error"] = map[string]any{
				"code": rpcErr.Code, "message": rpcErr.Message,
				"data": map[string]any{"logs": rpcErr.Logs},
			}
		} else {
			resp["result"] = result
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return NewRPCClient(RPCConfig{URL: srv.URL, PollInterval: time.Millisecond}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestGetAccountInfo(t *testing.T) {
	owner := domain.PublicKey{8}
	client := newTestRPC(t, func(method string, params []json.RawMessage) (any, *RPCError) {
		if method != "getAccountInfo" {
			t.Errorf("method = %s", method)
		}
		var key string
		_ = json.Unmarshal(params[0], &key)
		if key == (domain.PublicKey{1}).String() {
			return map[string]any{"value": nil}, nil
		}
		return map[string]any{"value": map[string]any{
			"lamports": 42, "owner": owner.String(), "data": []string{"AQID", "base64"},
		}}, nil
	})

	info, err := client.GetAccountInfo(context.Background(), domain.PublicKey{1})
	if err != nil || info != nil {
		t.Errorf("missing account = %v, %v; want nil, nil", info, err)
	}
	info, err = client.GetAccountInfo(context.Background(), domain.PublicKey{2})
	if err != nil {
		t.Fatal(err)
	}
	if info.Lamports != 42 || info.Owner != owner || len(info.Data) != 3 || info.Data[2] != 3 {
		t.Errorf("account = %+v", info)
	}
}

func TestSendTransactionError(t *testing.T) {
	client := newTestRPC(t, func(method string, params []json.RawMessage) (any, *RPCError) {
		return nil, &RPCError{Code: -32002, Message: "Transaction simulation failed", Logs: []string{"Program log: AnchorError: TradeAlreadySettled"}}
	})
	_, err := client.SendTransaction(context.Background(), []byte{1, 2, 3})
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("error = %v, want *RPCError", err)
	}
	if len(rpcErr.Logs) != 1 || rpcErr.Code != -32002 {
		t.Errorf("rpc error = %+v", rpcErr)
	}
}

func TestConfirmTransaction(t *testing.T) {
	calls := 0
	client := newTestRPC(t, func(method string, params []json.RawMessage) (any, *RPCError) {
		calls++
		if calls < 3 {
			return map[string]any{"value": []any{nil}}, nil
		}
		return map[string]any{"value": []any{map[string]any{"confirmationStatus": "confirmed", "err": nil}}}, nil
	})
	if err := client.ConfirmTransaction(context.Background(), "sig"); err != nil {
		t.Fatalf("ConfirmTransaction: %v", err)
	}
	if calls != 3 {
		t.Errorf("polled %d times, want 3", calls)
	}
}

func TestTransientOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	client := NewRPCClient(RPCConfig{URL: srv.URL}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	_, err := client.GetLatestBlockhash(context.Background())
	if !errors.Is(err, domain.ErrTransient) {
		t.Errorf("error = %v, want ErrTransient", err)
	}
}
