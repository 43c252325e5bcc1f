package clock

import (
	"context"
	"fmt"
	"time"

	"github.com/beevik/ntp"
)

// DefaultNTPServer is used when none is configured.
const DefaultNTPServer = "pool.ntp.org"

// NTPSyncer queries an NTP server for the local clock offset.
type NTPSyncer struct {
	Server  string
	Timeout time.Duration
}

// Offset queries the server once. The query is bounded by Timeout and by
// ctx's deadline, whichever is sooner.
func (s NTPSyncer) Offset(ctx context.Context) (time.Duration, error) {
	timeout := s.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left < timeout {
			timeout = left
		}
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	resp, err := ntp.QueryWithOptions(s.Server, ntp.QueryOptions{Timeout: timeout})
	if err != nil {
		return 0, fmt.Errorf("ntp query %s: %w", s.Server, err)
	}
	if err := resp.Validate(); err != nil {
		return 0, fmt.Errorf("ntp response from %s: %w", s.Server, err)
	}
	return resp.ClockOffset, nil
}
