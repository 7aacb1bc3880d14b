package model

import "errors"

var (
	ErrAuthentication = errors.New("authentication failed")
	ErrMembership     = errors.New("not a participant of the conversation")
	ErrValidation     = errors.New("invalid input")
	ErrNotFound       = errors.New("not found")
	ErrStorage        = errors.New("storage unavailable")
)

// ErrorCode maps an error to the code carried by protocol replies.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuthentication):
		return "authentication"
	case errors.Is(err, ErrMembership):
		return "membership"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrStorage):
		return "storage"
	default:
		return "internal"
	}
}
