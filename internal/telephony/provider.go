package telephony

import (
	"context"
	"errors"
	"fmt"

	"github.com/acme/outbound-call-queue/internal/domain"
)

// SubmitCallRequest carries one outbound call to the provider.
type SubmitCallRequest struct {
	Phone    string
	Name     string
	OwnerID  string
	Metadata map[string]string
}

// SubmitCallResult is the provider's acknowledgement of a submitted call.
type SubmitCallResult struct {
	CallID string
}

// Dispatcher abstracts the remote calling provider.
type Dispatcher interface {
	SubmitCall(ctx context.Context, req SubmitCallRequest) (SubmitCallResult, error)
	GetCallStatus(ctx context.Context, callID string) (domain.Interaction, error)
}

// DispatchError is the single failure variant surfaced by a Dispatcher.
type DispatchError struct {
	Kind       domain.ErrorKind
	StatusCode int
	Message    string
}

func (e *DispatchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s error (%d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

// ErrorKindOf classifies err; anything that is not a DispatchError is local.
func ErrorKindOf(err error) domain.ErrorKind {
	var de *DispatchError
	if errors.As(err, &de) {
		return de.Kind
	}
	return domain.ErrorKindLocal
}

// ErrorMessage returns the human-readable reason stored on a failed entry.
func ErrorMessage(err error) string {
	var de *DispatchError
	if errors.As(err, &de) && de.Message != "" {
		return de.Message
	}
	return err.Error()
}

func configurationError(msg string) *DispatchError {
	return &DispatchError{Kind: domain.ErrorKindConfiguration, Message: msg}
}
