// Package errdefs defines the error kinds surfaced by graph construction
// and reconciliation. Callers match them with errors.Is.
package errdefs

import (
	"errors"
	"fmt"
)

type Kind string

const (
	// KindConfig marks a malformed or unresolvable template/overlay.
	// Fatal to graph construction, no partial graph is produced.
	KindConfig Kind = "config"
	// KindConflict marks a duplicate application name or overlapping
	// destination ownership. Fatal to graph construction.
	KindConflict Kind = "conflict"
	// KindApply marks a transient failure applying a resource. Retried
	// per policy, then surfaces as Degraded.
	KindApply Kind = "apply"
	// KindTimeout marks an application or wave exceeding its bounded
	// wait for health.
	KindTimeout Kind = "timeout"
	// KindDrift marks live state diverging from desired state outside a
	// revision change. Informational unless self-heal is on.
	KindDrift Kind = "drift"
)

// Error carries the kind plus enough context to satisfy the reporting
// contract: failing application, failing resource if known, attempts used.
type Error struct {
	Kind        Kind
	Application string
	Resource    string
	Attempts    int
	Message     string
	Cause       error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s]", e.Kind)
	if e.Application != "" {
		msg += " application " + e.Application
	}
	if e.Resource != "" {
		msg += " resource " + e.Resource
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Attempts > 0 {
		msg += fmt.Sprintf(" (after %d attempts)", e.Attempts)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error of the same kind, so sentinel-style checks like
// errors.Is(err, errdefs.NewConfig("")) work.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

func NewConfig(format string, args ...interface{}) *Error {
	return &Error{Kind: KindConfig, Message: fmt.Sprintf(format, args...)}
}

func NewConflict(format string, args ...interface{}) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

func NewApply(app, resource string, cause error) *Error {
	return &Error{Kind: KindApply, Application: app, Resource: resource, Cause: cause}
}

func NewTimeout(app string, cause error) *Error {
	return &Error{Kind: KindTimeout, Application: app, Cause: cause}
}

func NewDrift(app, resource string, message string) *Error {
	return &Error{Kind: KindDrift, Application: app, Resource: resource, Message: message}
}

func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

func IsConfig(err error) bool   { return IsKind(err, KindConfig) }
func IsConflict(err error) bool { return IsKind(err, KindConflict) }
func IsApply(err error) bool    { return IsKind(err, KindApply) }
func IsTimeout(err error) bool  { return IsKind(err, KindTimeout) }
func IsDrift(err error) bool    { return IsKind(err, KindDrift) }
