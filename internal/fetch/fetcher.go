// Package fetch retrieves raw feed documents. Retrieval is kept apart from
// parsing so the strategy (direct or through proxies) can be swapped.
package fetch

import (
	"context"
	"errors"
	"fmt"
)

// Fetcher returns the raw bytes of the document at url.
// Failures are reported as *Error.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Func adapts a function to the Fetcher interface.
type Func func(ctx context.Context, url string) ([]byte, error)

// Fetch calls f.
func (f Func) Fetch(ctx context.Context, url string) ([]byte, error) { return f(ctx, url) }

// Error is a failed retrieval: network failure, timeout or non-success status.
type Error struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	default:
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Timeout reports whether the retrieval ran out of time.
func (e *Error) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var t interface{ Timeout() bool }
	return errors.As(e.Err, &t) && t.Timeout()
}

// Chain tries each fetcher in order and returns the first success.
// If all fail, the returned *Error joins every attempt.
func Chain(fetchers ...Fetcher) Fetcher {
	if len(fetchers) == 1 {
		return fetchers[0]
	}
	return Func(func(ctx context.Context, url string) ([]byte, error) {
		var errs []error
		for _, f := range fetchers {
			body, err := f.Fetch(ctx, url)
			if err == nil {
				return body, nil
			}
			errs = append(errs, err)
			if ctx.Err() != nil {
				break
			}
		}
		return nil, &Error{URL: url, Err: errors.Join(errs...)}
	})
}
