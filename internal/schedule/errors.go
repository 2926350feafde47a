package schedule

import (
	"errors"
	"fmt"
)

// ErrSkipUpdate may be returned by a Store.Update mutator to leave the record
// untouched without failing the call.
var ErrSkipUpdate = errors.New("skip update")

// Reason classifies a ValidationError.
type Reason string

const (
	ReasonInvalidTime         Reason = "InvalidTime"
	ReasonEmptyWindow         Reason = "EmptyWindow"
	ReasonMissingField        Reason = "MissingField"
	ReasonDuplicate           Reason = "Duplicate"
	ReasonNamespaceNotAllowed Reason = "NamespaceNotAllowed"
)

// ValidationError rejects a request synchronously. It is never retried.
type ValidationError struct {
	Reason  Reason
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NotFoundError reports a missing schedule or deployment.
type NotFoundError struct {
	Kind string
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
}

// ClusterTransientError wraps a failed cluster call made while applying a
// transition. Ticks retry it on the next minute.
type ClusterTransientError struct {
	Op         string
	Namespace  string
	Deployment string
	Err        error
}

func (e *ClusterTransientError) Error() string {
	return fmt.Sprintf("%s %s/%s: %v", e.Op, e.Namespace, e.Deployment, e.Err)
}

func (e *ClusterTransientError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is or wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ReasonOf returns the reason of a ValidationError in err's chain, or "".
func ReasonOf(err error) Reason {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Reason
	}
	return ""
}
