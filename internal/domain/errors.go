package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrInvalidOffer  = errors.New("invalid offer parameters")
	ErrSigningFailed = errors.New("signing failed")
	ErrContextDone   = errors.New("context cancelled")
	ErrLockHeld      = errors.New("lock already held")
)

// Failure categories. Every error produced by the provider client, the ledger
// client or the services unwraps to one of these.
var (
	ErrTransient           = errors.New("transient network failure")
	ErrMissingPrecondition = errors.New("missing precondition")
	ErrProtocolMismatch    = errors.New("protocol mismatch")
	ErrBusinessRejection   = errors.New("business rejection")
	ErrStreamDisruption    = errors.New("stream disrupted")
)

var (
	ErrNoStake                = categorized(ErrMissingPrecondition, "no stake account")
	ErrNoFixtures             = categorized(ErrMissingPrecondition, "no fixtures found")
	ErrCommitmentNotPublished = categorized(ErrMissingPrecondition, "commitment root not yet published")
	ErrNoSession              = categorized(ErrMissingPrecondition, "no active session")

	ErrSignatureRejected = categorized(ErrProtocolMismatch, "signature rejected")
	ErrProofInvalid      = categorized(ErrProtocolMismatch, "merkle proof verification failed")
	ErrMalformedPayload  = categorized(ErrProtocolMismatch, "malformed payload")

	ErrInsufficientFunds = categorized(ErrBusinessRejection, "insufficient funds")
	ErrAlreadySettled    = categorized(ErrBusinessRejection, "trade already settled")
	ErrStakeLocked       = categorized(ErrBusinessRejection, "stake still locked")
	ErrPredicateFailed   = categorized(ErrBusinessRejection, "predicate not satisfied")
	ErrOfferUnavailable  = categorized(ErrBusinessRejection, "offer no longer available")

	ErrActivationFailed = categorized(ErrTransient, "token activation failed")
)

// categorizedError is a specific failure that also matches its category via
// errors.Is.
type categorizedError struct {
	category error
	msg      string
}

func categorized(category error, msg string) error {
	return &categorizedError{category: category, msg: msg}
}

func (e *categorizedError) Error() string { return e.msg }

func (e *categorizedError) Unwrap() error { return e.category }

// Category returns the taxonomy bucket err belongs to, or nil when err is not
// classified.
func Category(err error) error {
	for _, c := range []error{
		ErrTransient,
		ErrMissingPrecondition,
		ErrProtocolMismatch,
		ErrBusinessRejection,
		ErrStreamDisruption,
	} {
		if errors.Is(err, c) {
			return c
		}
	}
	return nil
}
