package ierr

import (
	"errors"
	"strings"
)

var (
	ErrValidation      = errors.New("validation failed")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("resource not found")
	ErrConflict        = errors.New("resource conflict")
	ErrTooManyRequests = errors.New("too many requests")
	ErrInternalServer  = errors.New("internal server error")

	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrTokenInvalidClaims = errors.New("token contains invalid claims type")
)

var sentinels = []error{
	ErrValidation,
	ErrUnauthorized,
	ErrForbidden,
	ErrNotFound,
	ErrConflict,
	ErrTooManyRequests,
	ErrInternalServer,
	ErrInvalidCredentials,
	ErrInvalidToken,
	ErrTokenInvalidClaims,
}

// Message strips the leading sentinel text from errors built as fmt.Errorf("%w: detail", sentinel)
// so the detail can be shown to API clients.
func Message(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	for _, s := range sentinels {
		prefix := s.Error() + ": "
		if errors.Is(err, s) && strings.HasPrefix(msg, prefix) {
			return strings.TrimPrefix(msg, prefix)
		}
	}
	return msg
}
