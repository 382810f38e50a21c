package types

import "errors"

var (
	ErrTransport          = errors.New("transport failure")
	ErrDecode             = errors.New("decode failure")
	ErrNoDecodePath       = errors.New("codec kind has no decode path")
	ErrUnrecognizedDevice = errors.New("unrecognized device")
	ErrNotConnected       = errors.New("not connected")
	ErrInvalidLabel       = errors.New("invalid label")
	ErrMissingFieldValue  = errors.New("missing field value")
	ErrValueOutOfRange    = errors.New("value out of range")
	ErrUnknownRegister    = errors.New("unknown register")
	ErrReadOnly           = errors.New("register is not writable")
	ErrCycleDeadline      = errors.New("refresh cycle deadline exceeded")
)

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// NewErrorResponse builds a consistent API error payload.
// details can be string, map, struct, etc.
func NewErrorResponse(code, message string, details any) ErrorResponse {
	return ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}
