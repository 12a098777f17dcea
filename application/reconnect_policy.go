package application

import (
	"time"

	"github.com/benbjohnson/clock"
)

const (
	DefaultPublisherReconnectInterval  = 20 * time.Second
	DefaultSubscriberReconnectInterval = 30 * time.Second
)

// ReconnectPolicy decides when a disconnected bridge issues a fresh connect
// request. Retries are unbounded and evenly spaced. Not safe for concurrent
// use; only the bridge loop drives it.
type ReconnectPolicy struct {
	interval time.Duration
	clock    clock.Clock

	since time.Time
	armed bool
}

func NewReconnectPolicy(interval time.Duration, clk clock.Clock) *ReconnectPolicy {
	if clk == nil {
		clk = clock.New()
	}
	return &ReconnectPolicy{interval: interval, clock: clk}
}

// Due is called once per disconnected loop pass. The first call arms the
// deadline and counts as elapsed time zero; the pass on which a full
// interval has elapsed reports true and disarms, so the following pass
// starts a new interval. With an interval of N ticks, reconnects happen on
// passes N+1, 2(N+1), ...
func (p *ReconnectPolicy) Due() bool {
	now := p.clock.Now()
	if !p.armed {
		p.since = now
		p.armed = true
		return false
	}
	if now.Sub(p.since) >= p.interval {
		p.armed = false
		return true
	}
	return false
}

// Reset is called on every connected pass.
func (p *ReconnectPolicy) Reset() {
	p.armed = false
}

func (p *ReconnectPolicy) Interval() time.Duration {
	return p.interval
}
