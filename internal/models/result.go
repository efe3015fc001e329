package models

// Result is the uniform envelope returned by every public service
// operation. Failures never escape as faults; they come back here as a
// localized or verbatim error string. Warnings carry failures of
// best-effort side steps (for example the profile write after
// registration) that must not sink the primary operation.
type Result[T any] struct {
	Success     bool     `json:"success"`
	Data        T        `json:"data,omitzero"`
	OrderID     string   `json:"orderId,omitempty"`
	Error       string   `json:"error,omitempty"`
	Instruction string   `json:"instruction,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
}

// None marks envelopes that carry no payload.
type None struct{}

// Done is a successful envelope with no payload.
func Done() Result[None] {
	return Result[None]{Success: true}
}

// OK wraps data in a successful envelope.
func OK[T any](data T) Result[T] {
	return Result[T]{Success: true, Data: data}
}

// Fail builds a failed envelope with a caller-facing message.
func Fail[T any](msg string) Result[T] {
	return Result[T]{Error: msg}
}
