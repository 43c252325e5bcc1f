//go:build linux

package gpio

import (
	"fmt"
	"sync"

	"github.com/warthog618/go-gpiocdev"
)

// RealChip hands out output lines from an actual GPIO chip using the
// Linux GPIO character device.
type RealChip struct {
	mu    sync.Mutex
	chip  *gpiocdev.Chip
	lines []*RealLine
}

// RealLine is one requested output line.
type RealLine struct {
	pin  int
	line *gpiocdev.Line
}

// OpenChip opens the named GPIO chip, e.g. "gpiochip0".
func OpenChip(name string) (*RealChip, error) {
	chip, err := gpiocdev.NewChip(name)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}
	return &RealChip{chip: chip}, nil
}

// Output requests pin as an output, initially LOW so a relay is never
// energised by start-up.
func (c *RealChip) Output(pin int) (*RealLine, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	line, err := c.chip.RequestLine(pin, gpiocdev.AsOutput(0))
	if err != nil {
		return nil, fmt.Errorf("request output pin %d: %w", pin, err)
	}
	l := &RealLine{pin: pin, line: line}
	c.lines = append(c.lines, l)
	return l, nil
}

// Set drives the line.
func (l *RealLine) Set(high bool) error {
	v := 0
	if high {
		v = 1
	}
	if err := l.line.SetValue(v); err != nil {
		return fmt.Errorf("set pin %d: %w", l.pin, err)
	}
	return nil
}

// Close drives the line LOW and releases it.
// The pin is reconfigured to input with pull-down (matching Pi boot
// defaults) so a reboot never leaves a relay held closed.
func (l *RealLine) Close() error {
	if l.line == nil {
		return nil
	}
	var errs []error
	if err := l.line.SetValue(0); err != nil {
		errs = append(errs, fmt.Errorf("drive pin %d low: %w", l.pin, err))
	}
	if err := l.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
		errs = append(errs, fmt.Errorf("reconfigure pin %d: %w", l.pin, err))
	}
	if err := l.line.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close pin %d: %w", l.pin, err))
	}
	l.line = nil

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

// Close releases every line handed out and the chip itself.
func (c *RealChip) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for _, l := range c.lines {
		if err := l.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.lines = nil
	if c.chip != nil {
		if err := c.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		c.chip = nil
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
