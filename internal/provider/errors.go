package provider

import (
	"errors"
	"fmt"
)

// Sentinel errors for the provider taxonomy. Check with
// errors.Is(err, provider.ErrAuth) etc.
var (
	// ErrAuth covers missing, rejected or expired credentials.
	ErrAuth = errors.New("provider: authentication failed")
	// ErrNotFound covers missing shares, paths, files or remote resources.
	ErrNotFound = errors.New("provider: not found")
	// ErrValidation covers malformed caller input (bad paths, bad enums).
	ErrValidation = errors.New("provider: invalid argument")
	// ErrTransient covers network failures, timeouts, 5xx and rate limits.
	// Retried inside the client before surfacing.
	ErrTransient = errors.New("provider: transient provider error")
	// ErrBusiness covers non-retryable provider rejections: quota, duplicate,
	// share revoked, size or batch limits.
	ErrBusiness = errors.New("provider: provider rejected the operation")
	// ErrUnsupported marks operations a provider cannot express.
	ErrUnsupported = errors.New("provider: operation not supported")
	// ErrInternal covers bugs and invariant violations.
	ErrInternal = errors.New("provider: internal error")
)

// Error wraps a taxonomy sentinel with the operation, drive type and the
// provider's own code and message for audit records.
type Error struct {
	Op        string
	DriveType DriveType
	Code      string
	Message   string
	Err       error // sentinel, for errors.Is()
}

func (e *Error) Error() string {
	var b []byte

	b = append(b, "provider: "...)

	if e.DriveType != "" {
		b = append(b, string(e.DriveType)...)
		b = append(b, ' ')
	}

	if e.Op != "" {
		b = append(b, e.Op...)
	}

	if e.Code != "" {
		b = append(b, fmt.Sprintf(" [code %s]", e.Code)...)
	}

	if e.Message != "" {
		b = append(b, ": "...)
		b = append(b, e.Message...)
	}

	return string(b)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a taxonomy error for a provider operation.
func NewError(dt DriveType, op, code, message string, sentinel error) *Error {
	return &Error{Op: op, DriveType: dt, Code: code, Message: message, Err: sentinel}
}

// IsRetryable reports whether the error is transient and worth retrying.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}
