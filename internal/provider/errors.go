package provider

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies provider failures
type Kind string

const (
	KindAuth            Kind = "auth"
	KindRateLimit       Kind = "rate_limit"
	KindMalformedInput  Kind = "malformed_input"
	KindTimeout         Kind = "timeout"
	KindUnavailable     Kind = "unavailable"
	KindUnknownProvider Kind = "unknown_provider"
)

// Error is a failure reported by, or on the way to, a provider
type Error struct {
	Provider string
	Kind     Kind
	Err      error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("provider %s: %s", e.Provider, e.Kind)
	}
	return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Message is the human readable failure stored on the job
func (e *Error) Message() string {
	switch e.Kind {
	case KindAuth:
		return fmt.Sprintf("provider %s rejected the configured credentials", e.Provider)
	case KindRateLimit:
		return fmt.Sprintf("provider %s rate limit exceeded, please retry later", e.Provider)
	case KindMalformedInput:
		return fmt.Sprintf("provider %s could not process the audio file%s", e.Provider, detail(e.Err))
	case KindTimeout:
		return fmt.Sprintf("provider %s did not finish in time", e.Provider)
	case KindUnknownProvider:
		return fmt.Sprintf("unknown transcription provider %q", e.Provider)
	default:
		return fmt.Sprintf("provider %s is unavailable%s", e.Provider, detail(e.Err))
	}
}

// Classify turns any error from Transcribe into a *Error
func Classify(name string, err error) *Error {
	var perr *Error
	if errors.As(err, &perr) {
		return perr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Provider: name, Kind: KindTimeout, Err: err}
	}
	return &Error{Provider: name, Kind: KindUnavailable, Err: err}
}

func detail(err error) string {
	if err == nil {
		return ""
	}
	return ": " + err.Error()
}
