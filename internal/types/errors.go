package types

import (
	"errors"
	"fmt"
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

var (
	ErrNotConnected           = errors.New("engine not connected")
	ErrTransportFault         = errors.New("engine transport fault")
	ErrHandshakeFailed        = errors.New("engine handshake failed")
	ErrInvalidTransition      = errors.New("invalid state transition")
	ErrUnknownMemberReference = errors.New("unknown multi member reference")
	ErrMissingTriggerBinding  = errors.New("missing trigger binding")
	ErrComponentNotFound      = errors.New("component not found")
	ErrComponentExists        = errors.New("component already exists")
	ErrPageNotFound           = errors.New("page not found")
	ErrImmutableField         = errors.New("field cannot be changed")
	ErrMembershipOutsideEdit  = errors.New("multi membership changes need an edit session")
	ErrNotMultiOption         = errors.New("component cannot be a multi member")
	ErrEditSessionOpen        = errors.New("a multi edit session is already open")
	ErrNoEditSession          = errors.New("no multi edit session is open")
	ErrRunNotFound            = errors.New("sequencer run not found")
	ErrProjectNotFound        = errors.New("project not found")
	ErrInvalidProject         = errors.New("invalid project")
)

type UnknownComponentTypeError struct {
	Type string
}

func (e *UnknownComponentTypeError) Error() string {
	return fmt.Sprintf("unknown component type %q", e.Type)
}
