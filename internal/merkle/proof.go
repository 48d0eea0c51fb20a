package merkle

import (
	"fmt"

	"github.com/alanyoungcy/txoracle/internal/domain"
)

// AssembleProof normalises raw provider nodes into ProofNodes, preserving the
// provider's leaf-to-root order.
func AssembleProof(raw []RawNode) ([]domain.ProofNode, error) {
	out := make([]domain.ProofNode, len(raw))
	for i, n := range raw {
		h, err := n.Hash.Hash()
		if err != nil {
			return nil, fmt.Errorf("merkle: proof node %d: %w", i, err)
		}
		out[i] = domain.ProofNode{Hash: h, IsRightSibling: n.IsRightSibling}
	}
	return out, nil
}

// ComputeRoot folds proof over leaf from leaf to root. A right sibling is
// hashed after the running value, a left sibling before it.
func ComputeRoot(leaf domain.Hash, proof []domain.ProofNode, h HashFunc) domain.Hash {
	cur := leaf
	for _, n := range proof {
		if n.IsRightSibling {
			cur = h(cur[:], n.Hash[:])
		} else {
			cur = h(n.Hash[:], cur[:])
		}
	}
	return cur
}

// VerifyProof reports whether proof links leaf to root.
func VerifyProof(leaf domain.Hash, proof []domain.ProofNode, root domain.Hash, h HashFunc) bool {
	return ComputeRoot(leaf, proof, h) == root
}
