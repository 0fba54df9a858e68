package remote

import (
	"sync"
	"time"
)

const (
	DefaultDuplicateWindow   = 30 * time.Second
	DefaultDuplicateCapacity = 100
)

// CommandRecord is one executed command.
type CommandRecord struct {
	Command    string
	ExecutedAt time.Time
	Success    bool
}

// DuplicateGuard remembers recently executed commands in a bounded buffer,
// evicting by age and by capacity.
type DuplicateGuard struct {
	window   time.Duration
	capacity int
	now      func() time.Time

	mu      sync.Mutex
	records []CommandRecord
}

// GuardOption configures a DuplicateGuard.
type GuardOption func(*DuplicateGuard)

// WithNow sets the time source.
func WithNow(now func() time.Time) GuardOption {
	return func(g *DuplicateGuard) {
		g.now = now
	}
}

// NewDuplicateGuard creates a guard. Non-positive arguments select the
// defaults.
func NewDuplicateGuard(window time.Duration, capacity int, opts ...GuardOption) *DuplicateGuard {
	if window <= 0 {
		window = DefaultDuplicateWindow
	}
	if capacity <= 0 {
		capacity = DefaultDuplicateCapacity
	}
	g := &DuplicateGuard{window: window, capacity: capacity, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Window returns the suppression window.
func (g *DuplicateGuard) Window() time.Duration { return g.window }

// Check reports whether command already succeeded inside the window.
func (g *DuplicateGuard) Check(command string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.evict(g.now())
	for _, r := range g.records {
		if r.Success && r.Command == command {
			return true
		}
	}
	return false
}

// Record stores an executed command.
func (g *DuplicateGuard) Record(command string, success bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	g.records = append(g.records, CommandRecord{Command: command, ExecutedAt: now, Success: success})
	g.evict(now)
}

// Records returns a copy of the retained records, oldest first.
func (g *DuplicateGuard) Records() []CommandRecord {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]CommandRecord, len(g.records))
	copy(out, g.records)
	return out
}

func (g *DuplicateGuard) evict(now time.Time) {
	drop := 0
	for drop < len(g.records) && now.Sub(g.records[drop].ExecutedAt) >= g.window {
		drop++
	}
	if over := len(g.records) - drop - g.capacity; over > 0 {
		drop += over
	}
	if drop > 0 {
		g.records = append(g.records[:0], g.records[drop:]...)
	}
}
