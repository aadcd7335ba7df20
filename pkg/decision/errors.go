package decision

import "fmt"

// ErrPolicyNotLoaded is returned when Decide is called before any policy
// has been published via SetPolicy (spec.md §4.3/§7).
var ErrPolicyNotLoaded = fmt.Errorf("decision: no policy loaded")

// ErrTimeout is returned when the caller's deadline elapses before
// signing begins (spec.md §5).
var ErrTimeout = fmt.Errorf("decision: timeout before signing")

// ErrCancelled is returned when the caller's context is cancelled before
// signing begins.
var ErrCancelled = fmt.Errorf("decision: cancelled before signing")

// ErrBackpressure is returned when Config.MaxInFlight Decide calls are
// already in progress; the service fails fast rather than queueing the
// request (spec.md §5). The ledger writer's own queue is not bounded.
var ErrBackpressure = fmt.Errorf("decision: backpressure, too many decisions in flight")

// LedgerUnavailableError wraps a failure to append to the ledger. Per
// spec.md §4.4, a ledger append failure means the Decision — and any
// minted token — is discarded; the caller sees this error, not a partial
// Decision.
type LedgerUnavailableError struct {
	Err error
}

func (e *LedgerUnavailableError) Error() string {
	return fmt.Sprintf("decision: ledger unavailable: %v", e.Err)
}

func (e *LedgerUnavailableError) Unwrap() error { return e.Err }

// EvidenceStoreFullError wraps a failure to persist an evidence artifact.
type EvidenceStoreFullError struct {
	Err error
}

func (e *EvidenceStoreFullError) Error() string {
	return fmt.Sprintf("decision: evidence store full: %v", e.Err)
}

func (e *EvidenceStoreFullError) Unwrap() error { return e.Err }

// SigningError wraps any failure of the signing step (risk record,
// token, or decision signature).
type SigningError struct {
	Op  string
	Err error
}

func (e *SigningError) Error() string {
	return fmt.Sprintf("decision: signing failed (%s): %v", e.Op, e.Err)
}

func (e *SigningError) Unwrap() error { return e.Err }

// CanonicalEncodingError wraps a failure to canonicalize a value destined
// for a hash or signature.
type CanonicalEncodingError struct {
	Op  string
	Err error
}

func (e *CanonicalEncodingError) Error() string {
	return fmt.Sprintf("decision: canonical encoding failed (%s): %v", e.Op, e.Err)
}

func (e *CanonicalEncodingError) Unwrap() error { return e.Err }
