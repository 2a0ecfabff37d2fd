package retry

import (
	"fmt"
	"time"

	"github.com/luxiaoyu/claw-app/internal/config"
)

// Policy describes a bounded series of delays between attempts.
// It is immutable after construction.
type Policy struct {
	Mode       config.RetryBackoffMode // fixed|linear|exponential
	Initial    time.Duration           // base delay
	Max        time.Duration           // cap for growth
	MaxRetries int                     // attempts after the first one
}

// DefaultPolicy returns the policy used to resolve a freshly spawned daemon's PID
// (linear, 500ms initial, 2s cap, 5 retries).
func DefaultPolicy() Policy {
	return Policy{Mode: config.RetryBackoffLinear, Initial: 500 * time.Millisecond, Max: 2 * time.Second, MaxRetries: 5}
}

// NewPolicy builds a policy from raw config fields; zero/invalid values fall back to defaults.
func NewPolicy(mode config.RetryBackoffMode, initial, maxDuration time.Duration, maxRetries int) Policy {
	p := DefaultPolicy()
	if maxRetries >= 0 {
		p.MaxRetries = maxRetries
	}
	if initial > 0 {
		p.Initial = initial
	}
	if maxDuration > 0 {
		p.Max = maxDuration
	}
	switch mode {
	case config.RetryBackoffFixed, config.RetryBackoffLinear, config.RetryBackoffExponential:
		p.Mode = mode
	}
	if p.Initial > p.Max {
		p.Initial = p.Max
	}
	return p
}

// FromConfig builds a policy from the gateway resolve section.
func FromConfig(rc config.ResolveConfig) Policy {
	return NewPolicy(rc.Backoff, rc.Initial.Std(), rc.Max.Std(), rc.MaxRetries)
}

// Delay returns the backoff delay for the given retry attempt number (1-based: first retry => 1).
func (p Policy) Delay(retryCount int) time.Duration {
	if retryCount <= 0 {
		return 0
	}
	switch p.Mode {
	case config.RetryBackoffFixed:
		return p.Initial
	case config.RetryBackoffExponential:
		// Guard the shift; anything past 30 doublings is capped anyway.
		if retryCount > 31 {
			return p.Max
		}
		d := p.Initial * (1 << (retryCount - 1))
		if d > p.Max || d <= 0 {
			return p.Max
		}
		return d
	default: // linear
		d := time.Duration(retryCount) * p.Initial
		if d > p.Max {
			return p.Max
		}
		return d
	}
}

// Schedule lists the delay before every attempt: the first wait is Initial, then
// one entry per retry. Shell scripts render it as a fixed sequence of sleeps.
func (p Policy) Schedule() []time.Duration {
	out := make([]time.Duration, 0, p.MaxRetries+1)
	out = append(out, p.Initial)
	for i := 1; i <= p.MaxRetries; i++ {
		out = append(out, p.Delay(i))
	}
	return out
}

// Total is the worst-case time spent sleeping through the whole schedule.
func (p Policy) Total() time.Duration {
	var total time.Duration
	for _, d := range p.Schedule() {
		total += d
	}
	return total
}

// Validate ensures invariants; returns error if policy impossible to apply.
func (p Policy) Validate() error {
	if p.Initial <= 0 {
		return fmt.Errorf("initial must be >0")
	}
	if p.Max <= 0 {
		return fmt.Errorf("max must be >0")
	}
	if p.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	return nil
}
