package clock

import (
	"io"
	"sync"
)

// UnsetStamp replaces the timestamp on log lines until the first sync.
const UnsetStamp = "[time unset]"

const stampLayout = "2006-01-02 15:04:05"

// LogWriter prefixes every write with the clock's local time. Use it as
// the output of a log.Logger created with flags 0; the logger issues one
// Write per line.
type LogWriter struct {
	clock *Clock
	mu    sync.Mutex
	out   io.Writer
}

// NewLogWriter wraps out.
func NewLogWriter(c *Clock, out io.Writer) *LogWriter {
	return &LogWriter{clock: c, out: out}
}

// Write emits p with a timestamp prefix.
func (w *LogWriter) Write(p []byte) (int, error) {
	stamp := UnsetStamp
	if w.clock.Synced() {
		stamp = w.clock.LocalTime().Format(stampLayout)
	}
	line := make([]byte, 0, len(stamp)+1+len(p))
	line = append(line, stamp...)
	line = append(line, ' ')
	line = append(line, p...)

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.out.Write(line); err != nil {
		return 0, err
	}
	return len(p), nil
}
