// Package fn provides small generic building blocks for the engine's
// pipelines: a Result type, composable stages with tracing, bounded
// parallelism, retry, and slice helpers.
package fn

import "fmt"

// Result[T] carries a value or an error, never both.
type Result[T any] struct {
	val T
	err error
}

// Ok creates a successful Result.
func Ok[T any](v T) Result[T] {
	return Result[T]{val: v}
}

// Err creates a failed Result.
func Err[T any](err error) Result[T] {
	return Result[T]{err: err}
}

// Errf creates a failed Result from a format string.
func Errf[T any](format string, args ...any) Result[T] {
	return Result[T]{err: fmt.Errorf(format, args...)}
}

// Of lifts a conventional (value, error) pair into a Result.
func Of[T any](v T, err error) Result[T] {
	if err != nil {
		return Err[T](err)
	}
	return Ok(v)
}

// OK reports whether the result holds a value.
func (r Result[T]) OK() bool { return r.err == nil }

// Failed reports whether the result holds an error.
func (r Result[T]) Failed() bool { return r.err != nil }

// Unwrap returns the value and error.
func (r Result[T]) Unwrap() (T, error) { return r.val, r.err }

// Must returns the value or panics. For tests and init paths only.
func (r Result[T]) Must() T {
	if r.err != nil {
		panic(r.err)
	}
	return r.val
}

// Or returns the value, or fallback when failed.
func (r Result[T]) Or(fallback T) T {
	if r.err != nil {
		return fallback
	}
	return r.val
}

// Context wraps the error with formatted context, passing values through.
func (r Result[T]) Context(format string, args ...any) Result[T] {
	if r.err == nil {
		return r
	}
	return Err[T](fmt.Errorf(format+": %w", append(args, r.err)...))
}

// Collect returns all values if every result succeeded, else the first error.
func Collect[T any](results []Result[T]) Result[[]T] {
	out := make([]T, len(results))
	for i, r := range results {
		if r.err != nil {
			return Err[[]T](r.err)
		}
		out[i] = r.val
	}
	return Ok(out)
}
