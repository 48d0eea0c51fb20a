package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestCategorizedErrors(t *testing.T) {
	tests := []struct {
		err      error
		category error
	}{
		{ErrAlreadySettled, ErrBusinessRejection},
		{ErrPredicateFailed, ErrBusinessRejection},
		{ErrStakeLocked, ErrBusinessRejection},
		{ErrCommitmentNotPublished, ErrMissingPrecondition},
		{ErrNoStake, ErrMissingPrecondition},
		{ErrProofInvalid, ErrProtocolMismatch},
		{ErrSignatureRejected, ErrProtocolMismatch},
		{ErrActivationFailed, ErrTransient},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			wrapped := fmt.Errorf("service: op: %w", tt.err)
			if !errors.Is(wrapped, tt.err) {
				t.Errorf("errors.Is(wrapped, specific) = false")
			}
			if !errors.Is(wrapped, tt.category) {
				t.Errorf("errors.Is(wrapped, %v) = false", tt.category)
			}
			if got := Category(wrapped); got != tt.category {
				t.Errorf("Category() = %v, want %v", got, tt.category)
			}
		})
	}
}

func TestPredicateFailureIsNotProofFailure(t *testing.T) {
	if errors.Is(ErrPredicateFailed, ErrProofInvalid) {
		t.Error("predicate failure matches proof failure")
	}
	if errors.Is(ErrProofInvalid, ErrPredicateFailed) {
		t.Error("proof failure matches predicate failure")
	}
	if errors.Is(ErrCommitmentNotPublished, ErrProofInvalid) {
		t.Error("unpublished commitment matches proof failure")
	}
}

func TestCategoryUnclassified(t *testing.T) {
	if got := Category(errors.New("boom")); got != nil {
		t.Errorf("Category() = %v, want nil", got)
	}
}
