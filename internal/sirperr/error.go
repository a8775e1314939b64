// Package sirperr defines the component-typed error wrapper every engine
// component uses to surface failures, and the severity-ordered kind taxonomy
// the workflow engine branches on when deciding how a stage failure should
// affect session state.
package sirperr

import "fmt"

type Kind int

const (
	KindFatal Kind = iota
	KindUpstreamTransient
	KindValidatorWarning
	KindPartialFetch
	KindParseFailure
	KindDeploymentFailed
	KindSessionNotFound
)

func (k Kind) String() string {
	switch k {
	case KindFatal:
		return "fatal"
	case KindUpstreamTransient:
		return "upstream_transient"
	case KindValidatorWarning:
		return "validator_warning"
	case KindPartialFetch:
		return "partial_fetch"
	case KindParseFailure:
		return "parse_failure"
	case KindDeploymentFailed:
		return "deployment_failed"
	case KindSessionNotFound:
		return "session_not_found"
	default:
		return "unknown"
	}
}

// Error is the wrapper every component returns. It never discards the
// original error text; the engine reads Kind to decide how to update
// session state and always has Err available for logging.
type Error struct {
	Kind      Kind
	Component string
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Component, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func Wrap(kind Kind, component string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Component: component, Err: err}
}

// Fatal fails the whole workflow: validator hard failure, credential-broker
// verification failure, sandbox install failure, upstream not-found.
func Fatal(component string, err error) error {
	return Wrap(KindFatal, component, err)
}

// Transient marks an upstream throttle/5xx the caller already retried
// internally; surfaced only so callers can log it, never fails the session.
func Transient(component string, err error) error {
	return Wrap(KindUpstreamTransient, component, err)
}

func DeploymentFailed(component string, err error) error {
	return Wrap(KindDeploymentFailed, component, err)
}

func SessionNotFound(component string, err error) error {
	return Wrap(KindSessionNotFound, component, err)
}

// As reports whether err (or something it wraps) is a *Error, returning it.
func As(err error) (*Error, bool) {
	type unwrapper interface{ Unwrap() error }
	for err != nil {
		if ae, ok := err.(*Error); ok {
			return ae, true
		}
		u, ok := err.(unwrapper)
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}
