// Package panicerr converts panics in background loops into returned errors,
// so the server's wait group can log a crashed watcher or listener instead of
// taking the whole process down.
package panicerr

import (
	"context"

	"github.com/sourcegraph/conc/panics"
)

// Safe wraps fn so a panic inside it comes back as the returned error. A
// panic wins over an error returned before it.
func Safe(fn func() error) func() error {
	return func() error {
		var err error
		if recovered := panics.Try(func() { err = fn() }); recovered != nil {
			return recovered.AsError()
		}
		return err
	}
}

// SafeContext is Safe for context-taking loop functions.
func SafeContext(fn func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		var err error
		if recovered := panics.Try(func() { err = fn(ctx) }); recovered != nil {
			return recovered.AsError()
		}
		return err
	}
}
