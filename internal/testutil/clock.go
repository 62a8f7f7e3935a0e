package testutil

import (
	"fmt"
	"sync"
	"time"

	"offsite-go/internal/offsite"
)

// StubClock is an offsite.Clock that only moves when a test advances it.
type StubClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewStubClock creates a StubClock reading t.
func NewStubClock(t time.Time) *StubClock {
	return &StubClock{now: t}
}

// FixedClock returns a StubClock at Tuesday 2024-01-16 16:00 UTC, inside the
// week the scheduling tests use.
func FixedClock() *StubClock {
	return NewStubClock(time.Date(2024, 1, 16, 16, 0, 0, 0, time.UTC))
}

func (c *StubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d, e.g. to let a local pause expire.
func (c *StubClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// StubIDGenerator hands out event and run IDs "id-1", "id-2", ...
type StubIDGenerator struct {
	mu   sync.Mutex
	next int
}

func NewStubIDGenerator() *StubIDGenerator {
	return &StubIDGenerator{}
}

func (g *StubIDGenerator) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("id-%d", g.next)
}

var (
	_ offsite.Clock       = (*StubClock)(nil)
	_ offsite.IDGenerator = (*StubIDGenerator)(nil)
)
