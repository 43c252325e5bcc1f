// Package gpio provides GPIO output lines with hardware abstraction.
// The real implementation uses Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// Line drives a single GPIO output.
type Line interface {
	// Set drives the line HIGH (true) or LOW (false).
	Set(high bool) error

	// Close releases the line.
	Close() error
}

// DefaultChip is the GPIO character device on a Raspberry Pi.
const DefaultChip = "gpiochip0"

// Pin definitions (BCM numbering)
const (
	DefaultRelayPin     = 2
	DefaultIndicatorPin = -1 // disabled
)
