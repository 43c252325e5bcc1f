//go:build !linux

package gpio

import "errors"

// RealChip is not available on non-Linux platforms.
type RealChip struct{}

// RealLine is not available on non-Linux platforms.
type RealLine struct{}

// OpenChip returns an error on non-Linux platforms.
func OpenChip(name string) (*RealChip, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

// Output is not implemented on non-Linux platforms.
func (c *RealChip) Output(pin int) (*RealLine, error) {
	return nil, errors.New("gpio: not supported")
}

// Close is not implemented on non-Linux platforms.
func (c *RealChip) Close() error {
	return nil
}

// Set is not implemented on non-Linux platforms.
func (l *RealLine) Set(high bool) error {
	return errors.New("gpio: not supported")
}

// Close is not implemented on non-Linux platforms.
func (l *RealLine) Close() error {
	return nil
}
