package xbroker

import (
	"errors"
	"fmt"
)

var (
	ErrNoBroker                    = errors.New("xbroker: application has no broker")
	ErrInvalidDestination          = errors.New("xbroker: invalid destination")
	ErrDialectMismatch             = errors.New("xbroker: routers use different dialects")
	ErrSelfInclude                 = errors.New("xbroker: router cannot include itself")
	ErrAlreadyProcessed            = errors.New("xbroker: message already processed")
	ErrPublisherNotBound           = errors.New("xbroker: publisher is not attached to a broker")
	ErrBusClosed                   = errors.New("xbroker: bus is closed")
	ErrBusStarted                  = errors.New("xbroker: bus already started")
	ErrNoTransportConfigured       = errors.New("xbroker: no transport configured")
	ErrInvalidPayload              = errors.New("xbroker: invalid payload")
	ErrHandlerPanic                = errors.New("xbroker: handler panic")
	ErrObserverPoolShutdownTimeout = errors.New("xbroker: observer pool shutdown timeout")

	// ErrReject marks a handler error that should reject the message instead of nacking it.
	ErrReject = errors.New("xbroker: message rejected")
)

type ErrUnknownTransport struct{ name string }

func (e ErrUnknownTransport) Error() string { return fmt.Sprintf("unknown transport: %s", e.name) }

// Reject wraps err so the Bus rejects the message (no redelivery) when a handler returns it.
func Reject(err error) error {
	if err == nil {
		return ErrReject
	}
	return fmt.Errorf("%w: %w", ErrReject, err)
}

// HookError reports which lifecycle hook failed.
type HookError struct {
	Stage string
	Index int
	Err   error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("xbroker: %s hook #%d failed: %v", e.Stage, e.Index, e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }
