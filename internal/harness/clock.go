package harness

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/time/rate"
)

// DefaultClockHz is the nominal bus clock, 156.25 MHz.
const DefaultClockHz = 156.25e6

// GateFunc returns the data-available signal for a cycle.
type GateFunc func(cycle uint64) bool

// AlwaysOn keeps data available on every cycle.
func AlwaysOn(uint64) bool { return true }

// ParseGate builds a gate from a repeating pattern of '1' (active) and '0' (inactive)
// cycles, e.g. "1101". An empty pattern is AlwaysOn.
func ParseGate(pattern string) (GateFunc, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return AlwaysOn, nil
	}

	cycles := make([]bool, len(pattern))
	active := false
	for i, c := range pattern {
		switch c {
		case '1':
			cycles[i] = true
			active = true
		case '0':
		default:
			return nil, fmt.Errorf("gate pattern %q: unexpected %q at %d", pattern, c, i)
		}
	}
	if !active {
		return nil, fmt.Errorf("gate pattern %q never opens", pattern)
	}
	return func(cycle uint64) bool {
		return cycles[cycle%uint64(len(cycles))]
	}, nil
}

// Edge is one clock edge.
type Edge struct {
	Cycle uint64
	Gate  bool
}

// Clock counts edges and samples the gate. A paced clock limits Wait to the configured
// frequency; an unpaced one runs as fast as the bench can step.
type Clock struct {
	hz      float64
	limiter *rate.Limiter
	gate    GateFunc
	cycle   uint64
}

// NewClock creates a clock. With paced false, or hz <= 0, Wait never blocks.
func NewClock(hz float64, paced bool, gate GateFunc) *Clock {
	if gate == nil {
		gate = AlwaysOn
	}
	c := &Clock{hz: hz, gate: gate}
	if paced && hz > 0 {
		// Let the limiter catch up in bursts of up to 10ms worth of edges
		burst := int(hz / 100)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(hz), burst)
	}
	return c
}

// Hz returns the nominal frequency.
func (c *Clock) Hz() float64 {
	return c.hz
}

// Paced reports whether Wait limits the edge rate.
func (c *Clock) Paced() bool {
	return c.limiter != nil
}

// Wait blocks until the next edge is due.
func (c *Clock) Wait(ctx context.Context) error {
	if c.limiter == nil {
		return ctx.Err()
	}
	return c.limiter.Wait(ctx)
}

// Tick takes the next edge.
func (c *Clock) Tick() Edge {
	e := Edge{Cycle: c.cycle, Gate: c.gate(c.cycle)}
	c.cycle++
	return e
}

// Cycles returns the number of edges taken.
func (c *Clock) Cycles() uint64 {
	return c.cycle
}
