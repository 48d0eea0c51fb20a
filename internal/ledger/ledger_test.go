package ledger

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alanyoungcy/txoracle/internal/crypto"
	"github.com/alanyoungcy/txoracle/internal/domain"
	"github.com/alanyoungcy/txoracle/internal/merkle"
	"github.com/alanyoungcy/txoracle/internal/platform/solana"
)

type fakeRPC struct {
	accounts map[domain.PublicKey][]byte
	sent     [][]solana.Instruction
	sendErr  error
}

func (f *fakeRPC) GetAccountInfo(_ context.Context, pk domain.PublicKey) (*solana.AccountInfo, error) {
	data, ok := f.accounts[pk]
	if !ok {
		return nil, nil
	}
	return &solana.AccountInfo{Data: data}, nil
}

func (f *fakeRPC) SendAndConfirm(_ context.Context, _ solana.TxSigner, ixs []solana.Instruction, _ ...solana.TxSigner) (string, error) {
	f.sent = append(f.sent, ixs)
	if f.sendErr != nil {
		return "", f.sendErr
	}
	return "sig", nil
}

func key(b byte) domain.PublicKey {
	var pk domain.PublicKey
	for i := range pk {
		pk[i] = b
	}
	return pk
}

func newTestClient(t *testing.T) (*Client, *fakeRPC) {
	t.Helper()
	signer, err := crypto.GenerateSigner()
	if err != nil {
		t.Fatalf("GenerateSigner: %v", err)
	}
	rpc := &fakeRPC{accounts: map[domain.PublicKey][]byte{}}
	c, err := NewClient(rpc, signer, Config{
		ProgramID:    key(7),
		Mint:         key(9),
		TokenAccount: key(11),
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c, rpc
}

func TestDiscriminator(t *testing.T) {
	sum := sha256.Sum256([]byte("global:settle_trade"))
	if got := discriminator("settle_trade"); !bytes.Equal(got, sum[:8]) {
		t.Errorf("discriminator = %x, want %x", got, sum[:8])
	}
}

func TestAddressesDistinct(t *testing.T) {
	a := Addresses{Program: key(7), Mint: key(9)}
	owner := key(3)
	stake, err := a.Stake(owner)
	if err != nil {
		t.Fatal(err)
	}
	legacy, err := a.LegacyStake(owner)
	if err != nil {
		t.Fatal(err)
	}
	vault, err := a.Vault(owner)
	if err != nil {
		t.Fatal(err)
	}
	if stake == legacy || stake == vault {
		t.Error("stake, legacy stake and vault addresses must differ")
	}
	e1, _ := a.Escrow(1)
	e2, _ := a.Escrow(2)
	if e1 == e2 {
		t.Error("escrow addresses for different trades must differ")
	}
	other := Addresses{Program: key(7), Mint: key(10)}
	if s2, _ := other.Stake(owner); s2 == stake {
		t.Error("stake address must depend on the mint")
	}
}

func TestStakeAccountRoundTrip(t *testing.T) {
	in := domain.StakeAccount{Owner: key(1), Mint: key(2), Amount: 5_000, UnlockTs: 1_700_000_000}
	out, err := DecodeStakeAccount(key(4), EncodeStakeAccount(in))
	if err != nil {
		t.Fatal(err)
	}
	in.Address = key(4)
	if out != in {
		t.Errorf("decoded = %+v, want %+v", out, in)
	}
	if _, err := DecodeStakeAccount(key(4), make([]byte, 10)); !errors.Is(err, domain.ErrMalformedPayload) {
		t.Errorf("short account err = %v, want ErrMalformedPayload", err)
	}
}

func TestStakeAccountMissing(t *testing.T) {
	c, _ := newTestClient(t)
	_, err := c.StakeAccount(context.Background())
	if !errors.Is(err, domain.ErrNoStake) || !errors.Is(err, domain.ErrMissingPrecondition) {
		t.Errorf("err = %v, want ErrNoStake", err)
	}
}

func TestUnstakeLocked(t *testing.T) {
	c, rpc := newTestClient(t)
	now := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return now }
	addr, _ := c.addrs.Stake(c.Authority())
	rpc.accounts[addr] = EncodeStakeAccount(domain.StakeAccount{
		Owner: c.Authority(), Mint: key(9), Amount: 10, UnlockTs: now.Unix() + 60,
	})

	if _, err := c.Unstake(context.Background()); !errors.Is(err, domain.ErrStakeLocked) {
		t.Fatalf("err = %v, want ErrStakeLocked", err)
	}
	if len(rpc.sent) != 0 {
		t.Error("locked unstake must not submit a transaction")
	}

	c.now = func() time.Time { return now.Add(2 * time.Minute) }
	if _, err := c.Unstake(context.Background()); err != nil {
		t.Fatalf("Unstake after unlock: %v", err)
	}
	if got := rpc.sent[0][0].Data; !bytes.Equal(got, discriminator("unstake")) {
		t.Errorf("unstake data = %x", got)
	}
}

func TestStakeInstruction(t *testing.T) {
	c, rpc := newTestClient(t)
	if _, err := c.Stake(context.Background()); err != nil {
		t.Fatal(err)
	}
	ix := rpc.sent[0][0]
	if ix.ProgramID != key(7) {
		t.Errorf("program = %s", ix.ProgramID)
	}
	if len(ix.Accounts) != 8 || ix.Accounts[0].PublicKey != c.Authority() || !ix.Accounts[0].IsSigner {
		t.Errorf("accounts = %+v", ix.Accounts)
	}
	if !bytes.Equal(ix.Data, discriminator("stake")) {
		t.Errorf("stake data = %x", ix.Data)
	}
}

func TestCommitmentPublished(t *testing.T) {
	c, rpc := newTestClient(t)
	ref, err := merkle.DailyScoresRoot(1_000_000_000_000)
	if err != nil {
		t.Fatal(err)
	}
	ok, err := c.CommitmentPublished(context.Background(), ref)
	if err != nil || ok {
		t.Fatalf("published = %v, %v; want false, nil", ok, err)
	}
	addr, _ := c.addrs.Commitment(ref)
	rpc.accounts[addr] = []byte{1}
	if ok, _ := c.CommitmentPublished(context.Background(), ref); !ok {
		t.Error("expected published root")
	}
}

func TestSettleTradeBudgetAndWinner(t *testing.T) {
	c, rpc := newTestClient(t)
	proof := domain.StatProof{Ts: 1, Predicate: domain.Predicate{Threshold: 2}}
	proof.Commitment, _ = merkle.DailyScoresRoot(1_000_000_000_000)

	if _, err := c.SettleTrade(context.Background(), domain.Settlement{TradeID: 9, Winner: key(1), Proof: proof}); err == nil {
		t.Fatal("settling for another winner should fail")
	}
	if _, err := c.SettleTrade(context.Background(), domain.Settlement{TradeID: 9, Winner: c.Authority(), Proof: proof}); err != nil {
		t.Fatal(err)
	}
	ixs := rpc.sent[0]
	if len(ixs) != 2 {
		t.Fatalf("instructions = %d, want 2", len(ixs))
	}
	if units := binary.LittleEndian.Uint32(ixs[0].Data[1:]); units != DefaultSettleComputeUnits {
		t.Errorf("compute units = %d, want %d", units, DefaultSettleComputeUnits)
	}
	data := ixs[1].Data
	if !bytes.Equal(data[:8], discriminator("settle_trade")) {
		t.Errorf("discriminator = %x", data[:8])
	}
	if id := binary.LittleEndian.Uint64(data[8:16]); id != 9 {
		t.Errorf("trade id = %d, want 9", id)
	}
	escrow, _ := c.addrs.Escrow(9)
	if ixs[1].Accounts[2].PublicKey != escrow {
		t.Error("escrow account mismatch")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"settled", &solana.RPCError{Message: "simulation failed", Logs: []string{"Program log: AnchorError ... TradeAlreadySettled"}}, domain.ErrAlreadySettled},
		{"funds", &solana.RPCError{Message: "Transfer: insufficient funds"}, domain.ErrInsufficientFunds},
		{"predicate", &solana.RPCError{Logs: []string{"Error Code: PredicateNotMet"}}, domain.ErrPredicateFailed},
		{"proof", &solana.RPCError{Logs: []string{"Error Code: InvalidProof"}}, domain.ErrProofInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify("op", tt.err)
			if !errors.Is(got, tt.want) {
				t.Errorf("classify = %v, want %v", got, tt.want)
			}
			var rpcErr *solana.RPCError
			if !errors.As(got, &rpcErr) {
				t.Error("classified error should keep the rpc error")
			}
		})
	}
	plain := errors.New("boom")
	if got := classify("op", plain); !errors.Is(got, plain) || domain.Category(got) != nil {
		t.Errorf("unclassified = %v", got)
	}
}

func TestClassifyUninitializedAccountByOperation(t *testing.T) {
	closed := &solana.RPCError{Logs: []string{
		"Program log: AnchorError caused by account: trade_escrow. Error Code: AccountNotInitialized. Error Number: 3012. Error Message: The program expected this account to be already initialized.",
	}}
	tests := []struct {
		op   string
		want error
		not  error
	}{
		{"settle_trade", domain.ErrAlreadySettled, domain.ErrNoStake},
		{"validate_stat", domain.ErrCommitmentNotPublished, domain.ErrNoStake},
		{"unstake", domain.ErrNoStake, domain.ErrAlreadySettled},
	}
	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			got := classify(tt.op, closed)
			if !errors.Is(got, tt.want) {
				t.Errorf("classify(%s) = %v, want %v", tt.op, got, tt.want)
			}
			if errors.Is(got, tt.not) {
				t.Errorf("classify(%s) = %v, should not be %v", tt.op, got, tt.not)
			}
		})
	}
	if got := classify("deposit", closed); domain.Category(got) != nil {
		t.Errorf("deposit classified as %v", domain.Category(got))
	}
}

func TestSendErrorClassified(t *testing.T) {
	c, rpc := newTestClient(t)
	rpc.sendErr = &solana.RPCError{Code: -32002, Logs: []string{"insufficient funds"}}
	_, err := c.Deposit(context.Background(), 5)
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Errorf("err = %v, want ErrInsufficientFunds", err)
	}
}
