// Package iox provides I/O helpers for resource cleanup.
package iox

import (
	"errors"
	"io"
	"slices"
)

// DiscardClose closes c and discards the error.
// Use in defer statements where close errors are unactionable:
//
//	defer iox.DiscardClose(resp.Body)
func DiscardClose(c io.Closer) { _ = c.Close() }

// Closers collects cleanup functions of resources opened in sequence.
// The zero value is ready to use.
type Closers struct {
	fns []func() error
}

// Add registers fn. A nil fn is ignored.
func (c *Closers) Add(fn func() error) {
	if fn != nil {
		c.fns = append(c.fns, fn)
	}
}

// Close runs every registered function, last added first, and joins their
// errors. Close empties the set, so a second call is a no-op.
func (c *Closers) Close() error {
	var errs []error
	for _, fn := range slices.Backward(c.fns) {
		errs = append(errs, fn())
	}
	c.fns = nil
	return errors.Join(errs...)
}
