package epierr

// Result is the typed success/failure envelope action handlers return.
// Handlers never panic or return a bare Go error across the action
// boundary; they return a Result whose Err, when present, is an *Error.
type Result[T any] struct {
	value T
	err   *Error
	ok    bool
}

// Ok builds a successful Result.
func Ok[T any](value T) Result[T] {
	return Result[T]{value: value, ok: true}
}

// Err builds a failed Result.
func Err[T any](err *Error) Result[T] {
	return Result[T]{err: err}
}

// IsOk reports whether the Result succeeded.
func (r Result[T]) IsOk() bool { return r.ok }

// Value returns the success value and whether the Result was Ok.
func (r Result[T]) Value() (T, bool) {
	return r.value, r.ok
}

// Error returns the failure, or nil if the Result was Ok.
func (r Result[T]) Error() *Error {
	return r.err
}

// Unwrap returns the success value, or the zero value of T if the Result
// failed. Callers that need to distinguish should use Value or IsOk.
func (r Result[T]) Unwrap() T {
	return r.value
}
