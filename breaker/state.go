package breaker

import (
	"math"
	"time"
)

// State is a circuit breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Snapshot is the persisted breaker state for one endpoint.
type Snapshot struct {
	EndpointID          string    `json:"endpoint_id"`
	State               State     `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	OpenCount           int       `json:"open_count"`
	OpenedAt            time.Time `json:"opened_at,omitzero"`
	NextProbeAt         time.Time `json:"next_probe_at,omitzero"`
	ProbeLeaseUntil     time.Time `json:"probe_lease_until,omitzero"`
	UpdatedAt           time.Time `json:"updated_at,omitzero"`
}

// Decision is the answer to Allow.
type Decision struct {
	Allowed bool  `json:"allowed"`
	Probe   bool  `json:"probe"`
	State   State `json:"state"`

	// RetryAt is when a denied caller should ask again.
	RetryAt time.Time `json:"retry_at,omitzero"`
}

func closedSnapshot(endpointID string) Snapshot {
	return Snapshot{EndpointID: endpointID, State: StateClosed}
}

// openWindow returns how long the breaker stays open after its n-th
// consecutive opening.
func (c Config) openWindow(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	mult := c.OpenDurationMultiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(c.OpenDuration) * math.Pow(mult, float64(n-1))
	if c.MaxOpenDuration > 0 && d > float64(c.MaxOpenDuration) {
		return c.MaxOpenDuration
	}
	if d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}
