package core

import "errors"

// Error codes for domain errors.
const (
	ErrCodeRoomNotFound = "room_not_found"
	ErrCodeRoomExists   = "room_exists"
	ErrCodeNotInRoom    = "not_in_room"
	ErrCodeBadRequest   = "bad_request"
	ErrCodeRateLimited  = "rate_limited"
)

var (
	ErrRoomNotFound      = errors.New("room not found")
	ErrRoomAlreadyExists = errors.New("room already exists")
	ErrNotInRoom         = errors.New("not in room")
	ErrBadRequest        = errors.New("bad request")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}

// NewError builds a CoreError for callers outside the package (transport layer).
func NewError(code, msg string) *CoreError {
	return coreError(code, msg)
}

// ToCoreError maps a registry error to its wire code.
func ToCoreError(err error) *CoreError {
	var ce *CoreError
	switch {
	case errors.As(err, &ce):
		return ce
	case errors.Is(err, ErrRoomNotFound):
		return coreError(ErrCodeRoomNotFound, err.Error())
	case errors.Is(err, ErrRoomAlreadyExists):
		return coreError(ErrCodeRoomExists, err.Error())
	case errors.Is(err, ErrNotInRoom):
		return coreError(ErrCodeNotInRoom, err.Error())
	default:
		return coreError(ErrCodeBadRequest, err.Error())
	}
}
