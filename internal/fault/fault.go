package fault

import (
	"errors"
	"strings"
)

// Kinds of failure surfaced by the console.
//
// Recovery policy:
// - ErrTransport: recoverable, the agent may dial again.
// - ErrPrecondition: fatal to the current action; the agent has to redo the prior step.
// - ErrValidation: recoverable; carries the violated rule.
// - ErrNetwork: generic failure notice, never retried automatically.
var (
	ErrTransport    = errors.New("transport error")
	ErrPrecondition = errors.New("precondition failed")
	ErrValidation   = errors.New("validation failed")
	ErrNetwork      = errors.New("network error")
)

// Error carries a kind, the operation that failed and an optional cause.
type Error struct {
	Kind error
	Op   string
	// Rule names the violated rule for validation errors (e.g. "non_working_day").
	Rule string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Msg != "" {
		b.WriteString(e.Msg)
	} else if e.Kind != nil {
		b.WriteString(e.Kind.Error())
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

func Transport(op string, err error) error {
	return &Error{Kind: ErrTransport, Op: op, Err: err}
}

func Transportf(op, msg string) error {
	return &Error{Kind: ErrTransport, Op: op, Msg: msg}
}

func Precondition(op, msg string) error {
	return &Error{Kind: ErrPrecondition, Op: op, Msg: msg}
}

func Validation(op, rule, msg string) error {
	return &Error{Kind: ErrValidation, Op: op, Rule: rule, Msg: msg}
}

func Network(op string, err error) error {
	return &Error{Kind: ErrNetwork, Op: op, Err: err}
}

// KindOf returns the kind sentinel of err, or nil when err is not classified.
func KindOf(err error) error {
	for _, k := range []error{ErrTransport, ErrPrecondition, ErrValidation, ErrNetwork} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// RuleOf returns the violated rule of a validation error, if any.
func RuleOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Rule
	}
	return ""
}
