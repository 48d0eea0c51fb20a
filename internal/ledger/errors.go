package ledger

import (
	"errors"
	"fmt"
	"strings"

	"github.com/alanyoungcy/txoracle/internal/domain"
	"github.com/alanyoungcy/txoracle/internal/platform/solana"
)

type logRule struct {
	fragment string
	err      error
}

// opRules are consulted before logRules for the named instruction. An
// uninitialised account means something different to each of them: the
// program closes the trade escrow once it pays out, and validation reads a
// root account that the oracle may not have written yet.
var opRules = map[string][]logRule{
	"settle_trade":     {{"accountnotinitialized", domain.ErrAlreadySettled}},
	"validate_fixture": {{"accountnotinitialized", domain.ErrCommitmentNotPublished}},
	"validate_odds":    {{"accountnotinitialized", domain.ErrCommitmentNotPublished}},
	"validate_stat":    {{"accountnotinitialized", domain.ErrCommitmentNotPublished}},
	"unstake":          {{"accountnotinitialized", domain.ErrNoStake}},
	"subscribe":        {{"accountnotinitialized", domain.ErrNoStake}},
}

// logRules maps program log fragments to the failure they report. The first
// matching rule wins.
var logRules = []logRule{
	{"already settled", domain.ErrAlreadySettled},
	{"tradealreadysettled", domain.ErrAlreadySettled},
	{"insufficient funds", domain.ErrInsufficientFunds},
	{"insufficientfunds", domain.ErrInsufficientFunds},
	{"stakelocked", domain.ErrStakeLocked},
	{"stake is locked", domain.ErrStakeLocked},
	{"predicatenotmet", domain.ErrPredicateFailed},
	{"predicate not satisfied", domain.ErrPredicateFailed},
	{"invalidproof", domain.ErrProofInvalid},
	{"invalid merkle proof", domain.ErrProofInvalid},
	{"missing required signature", domain.ErrSignatureRejected},
}

// classify attaches a domain failure to an RPC error based on the program
// logs and message. Errors that match no rule are returned unchanged.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var rpcErr *solana.RPCError
	if !errors.As(err, &rpcErr) {
		return fmt.Errorf("ledger: %s: %w", op, err)
	}
	haystack := strings.ToLower(rpcErr.Message + "\n" + strings.Join(rpcErr.Logs, "\n"))
	for _, r := range append(opRules[op], logRules...) {
		if strings.Contains(haystack, r.fragment) {
			return fmt.Errorf("ledger: %s: %w: %w", op, r.err, err)
		}
	}
	return fmt.Errorf("ledger: %s: %w", op, err)
}
