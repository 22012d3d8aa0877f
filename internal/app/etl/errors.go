package etl

import "fmt"

const (
	RejectMissingField    RejectReason = "missing_field"
	RejectInvalidDate     RejectReason = "invalid_date"
	RejectInvalidCategory RejectReason = "invalid_category"
	RejectOutOfRangeRate  RejectReason = "out_of_range_rate"
)

// RejectReason classifies why a single record was dropped by the normalizer.
type RejectReason string

// Rejection is a per-record failure. It is counted and logged by the service
// but never aborts a run.
type Rejection struct {
	Reason RejectReason
	Field  string
	Detail string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("record rejected (%s): field %q: %s", r.Reason, r.Field, r.Detail)
}

// TransientSourceError means the source stayed unavailable past the retry
// budget. The run aborts without touching storage.
type TransientSourceError struct {
	Attempts int
	Err      error
}

func (e *TransientSourceError) Error() string {
	return fmt.Sprintf("source unavailable after %d attempts: %v", e.Attempts, e.Err)
}

func (e *TransientSourceError) Unwrap() error { return e.Err }

// SourceContractError means the source rejected the request or returned a
// payload we cannot interpret. Retrying would not help.
type SourceContractError struct {
	Status int
	Err    error
}

func (e *SourceContractError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("source contract violation (status %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("source contract violation: %v", e.Err)
}

func (e *SourceContractError) Unwrap() error { return e.Err }

// LoadFailure means the storage transaction failed and was rolled back; the
// database is exactly as it was before the run.
type LoadFailure struct {
	Err error
}

func (e *LoadFailure) Error() string {
	return fmt.Sprintf("load transaction failed and was rolled back: %v", e.Err)
}

func (e *LoadFailure) Unwrap() error { return e.Err }
