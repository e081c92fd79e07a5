package types

import "fmt"

// NetworkError covers timeouts, connection failures, and retryable HTTP
// statuses. Pages failing with it are re-enqueued with backoff.
type NetworkError struct {
	Status int
	Err    error
}

func (e *NetworkError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("network error: status %d", e.Status)
	}
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ParsingError means readability or content extraction failed on the fetched
// document. Deterministic input, so never retried.
type ParsingError struct {
	Err error
}

func (e *ParsingError) Error() string { return fmt.Sprintf("parsing error: %v", e.Err) }

func (e *ParsingError) Unwrap() error { return e.Err }

// ContentQualityError marks a page rejected by the quality gate: empty or
// too-short text, or an error-page phrase in the title or body. Tracked
// separately from hard failures for anomaly accounting.
type ContentQualityError struct {
	Reason string
}

func (e *ContentQualityError) Error() string { return "content quality: " + e.Reason }
