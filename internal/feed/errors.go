package feed

import (
	"errors"
	"fmt"
)

// ErrInvalidItem marks a raw element that cannot become an item. Such elements are skipped.
var ErrInvalidItem = errors.New("invalid item")

// ParseError reports a document that is not a usable RSS or Atom feed.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse feed: %s: %v", e.Reason, e.Err)
	}
	return "parse feed: " + e.Reason
}

func (e *ParseError) Unwrap() error { return e.Err }
