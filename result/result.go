// Package result defines the success/failure envelope every docqa operation returns.
//
// Operations never let an error escape their boundary. They return a Result whose
// Value type is specific to the operation, and whose Reason classifies a failure.
// The HTTP layer flattens any Result into the wire Envelope.
package result

import "fmt"

// Reason classifies a failed operation.
type Reason int

const (
	// ReasonNone marks a successful result.
	ReasonNone Reason = iota
	// ReasonPrecondition means required state is missing (no file, no model).
	ReasonPrecondition
	// ReasonUnsupported means an identifier is not known.
	ReasonUnsupported
	// ReasonUpstream means a model, vector store or filesystem call failed.
	ReasonUpstream
	// ReasonValidation means the caller's input was rejected.
	ReasonValidation
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonPrecondition:
		return "precondition"
	case ReasonUnsupported:
		return "unsupported"
	case ReasonUpstream:
		return "upstream"
	case ReasonValidation:
		return "validation"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// Result is the outcome of one operation.
type Result[T any] struct {
	Source  string
	OK      bool
	Message string
	Reason  Reason
	Value   T
}

// Ok builds a successful result.
func Ok[T any](source, message string, value T) Result[T] {
	return Result[T]{Source: source, OK: true, Message: message, Value: value}
}

// Fail builds a failed result.
func Fail[T any](source string, reason Reason, message string) Result[T] {
	return Result[T]{Source: source, Reason: reason, Message: message}
}

// Failf builds a failed result with a formatted message.
func Failf[T any](source string, reason Reason, format string, args ...any) Result[T] {
	return Fail[T](source, reason, fmt.Sprintf(format, args...))
}

// Upstream wraps an error raised by a dependency. The error text follows the message
// on a new line.
func Upstream[T any](source, message string, err error) Result[T] {
	return Fail[T](source, ReasonUpstream, message+"\n"+err.Error())
}

// Trace is the message prefixed with its source, the form surfaced to callers.
func (r Result[T]) Trace() string {
	return r.Source + ": " + r.Message
}

// Propagate re-tags a failed result under another value type, keeping its source,
// message and reason.
func Propagate[T, U any](r Result[U]) Result[T] {
	return Result[T]{Source: r.Source, Reason: r.Reason, Message: r.Message}
}

// Nest reports inner under an outer source; the inner source is kept in the message.
func Nest[T, U any](source string, inner Result[U]) Result[T] {
	return Result[T]{Source: source, Reason: inner.Reason, Message: inner.Trace()}
}

// Envelope flattens r into its wire form with args as addition_args.
func (r Result[T]) Envelope(args any) Envelope {
	return Envelope{Source: r.Source, State: r.OK, Message: r.Message, AdditionArgs: args}
}

// Envelope is the JSON shape of every HTTP response.
type Envelope struct {
	Source       string `json:"source"`
	State        bool   `json:"state"`
	Message      string `json:"message"`
	AdditionArgs any    `json:"addition_args"`
}
