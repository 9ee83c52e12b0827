package shared

import "errors"

var (
	// ErrNotFound indicates resource not found or not owned by the caller.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUnauthenticated indicates a missing or rejected auth token.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrValidation marks user input problems.
	ErrValidation = errors.New("validation failed")
	// ErrSessionMissing occurs when no session is attached to the request.
	ErrSessionMissing = errors.New("session missing")
	// ErrCSRFTokenMissing occurs when CSRF token missing.
	ErrCSRFTokenMissing = errors.New("csrf token missing")
	// ErrCSRFTokenMismatch occurs when CSRF tokens do not match.
	ErrCSRFTokenMismatch = errors.New("csrf token mismatch")
)

// UserError is an error whose message can be shown to end users.
type UserError struct {
	Message string
	Err     error
}

func (e *UserError) Error() string {
	return e.Message
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError wraps err with a message safe to display.
func NewUserError(message string, err error) error {
	return &UserError{Message: message, Err: err}
}

// UserSafeMessage returns the displayable part of err, or the fallback.
func UserSafeMessage(err error, fallback string) string {
	var ue *UserError
	if errors.As(err, &ue) && ue.Message != "" {
		return ue.Message
	}
	if errors.Is(err, ErrNotFound) {
		return "The requested item was not found"
	}
	return fallback
}
