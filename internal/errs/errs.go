// Package errs defines the failure kinds shared by the cognition pipeline.
//
// Transport, AuthOrRateLimit and MalformedResponse are recoverable: the step
// that hit them reports no change and the tick goes on. PromptState and
// DomainInvariant are contract violations and always reach the caller.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

const (
	KindTransport         Kind = "transport"
	KindAuthOrRateLimit   Kind = "auth_or_rate_limit"
	KindMalformedResponse Kind = "malformed_response"
	KindPromptState       Kind = "prompt_state"
	KindDomainInvariant   Kind = "domain_invariant"
)

// Sentinels usable with errors.Is.
var (
	ErrTransport         = &Error{Kind: KindTransport}
	ErrAuthOrRateLimit   = &Error{Kind: KindAuthOrRateLimit}
	ErrMalformedResponse = &Error{Kind: KindMalformedResponse}
	ErrPromptState       = &Error{Kind: KindPromptState}
	ErrDomainInvariant   = &Error{Kind: KindDomainInvariant}
)

// Error is a classified failure.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the package sentinels work with
// errors.Is regardless of Op and Msg.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Transport reports a network or IO failure talking to the model service.
func Transport(op string, err error) error {
	return &Error{Kind: KindTransport, Op: op, Err: err}
}

// AuthOrRateLimit reports a reply without completions, a rejected credential
// or a throttled request.
func AuthOrRateLimit(op, msg string) error {
	return &Error{Kind: KindAuthOrRateLimit, Op: op, Msg: msg}
}

// Malformed reports a reply that did not match the expected structure.
func Malformed(op string, format string, args ...any) error {
	return &Error{Kind: KindMalformedResponse, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// PromptState reports a builder asked to build without a template.
func PromptState(op, msg string) error {
	return &Error{Kind: KindPromptState, Op: op, Msg: msg}
}

// DomainInvariant reports a violated model invariant.
func DomainInvariant(op string, format string, args ...any) error {
	return &Error{Kind: KindDomainInvariant, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// Recoverable reports whether a step may swallow err and report no change.
func Recoverable(err error) bool {
	k, ok := KindOf(err)
	if !ok {
		return false
	}
	switch k {
	case KindTransport, KindAuthOrRateLimit, KindMalformedResponse:
		return true
	}
	return false
}

// Retryable reports whether another attempt, possibly on another provider,
// could succeed. Only transport failures qualify.
func Retryable(err error) bool {
	return Is(err, KindTransport)
}
