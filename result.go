package sqlgpt

import (
	"errors"
	"fmt"
)

// Reason classifies a failed operation so callers can pick their fallback
// behavior without parsing messages.
type Reason string

const (
	ReasonConnectionError   Reason = "connection_error"
	ReasonCredentialMissing Reason = "credential_missing"
	ReasonTableNotFound     Reason = "table_not_found"
	ReasonSetupError        Reason = "setup_error"
	ReasonExecutionError    Reason = "execution_error"
)

// QueryError carries a Reason alongside the underlying error.
type QueryError struct {
	Reason Reason
	Err    error
}

func (e *QueryError) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// ReasonOf returns the Reason tagged on err, or "" when err carries none.
func ReasonOf(err error) Reason {
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe.Reason
	}
	return ""
}
