package remote

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeNow struct{ t time.Time }

func newFakeNow() *fakeNow {
	return &fakeNow{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (f *fakeNow) now() time.Time { return f.t }

func (f *fakeNow) advance(d time.Duration) { f.t = f.t.Add(d) }

func guardAt(f *fakeNow, capacity int) *DuplicateGuard {
	return NewDuplicateGuard(0, capacity, WithNow(f.now))
}

func TestDuplicateGuardWindow(t *testing.T) {
	clock := newFakeNow()
	g := guardAt(clock, 0)

	assert.False(t, g.Check("ls"))
	g.Record("ls", true)
	assert.True(t, g.Check("ls"))
	assert.False(t, g.Check("ls -la"))

	clock.advance(29 * time.Second)
	assert.True(t, g.Check("ls"))

	clock.advance(2 * time.Second)
	assert.False(t, g.Check("ls"))
	assert.Empty(t, g.Records())
}

func TestDuplicateGuardIgnoresFailures(t *testing.T) {
	g := guardAt(newFakeNow(), 0)
	g.Record("make test", false)
	assert.False(t, g.Check("make test"))
	assert.Len(t, g.Records(), 1)
}

func TestDuplicateGuardCapacity(t *testing.T) {
	g := guardAt(newFakeNow(), 3)
	for i := 0; i < 5; i++ {
		g.Record(fmt.Sprintf("cmd-%d", i), true)
	}

	records := g.Records()
	assert.Len(t, records, 3)
	assert.Equal(t, "cmd-2", records[0].Command)
	assert.False(t, g.Check("cmd-0"))
	assert.True(t, g.Check("cmd-4"))
}

func TestDuplicateGuardDefaults(t *testing.T) {
	g := NewDuplicateGuard(-1, -1)
	assert.Equal(t, DefaultDuplicateWindow, g.Window())
	for i := 0; i < DefaultDuplicateCapacity+10; i++ {
		g.Record(fmt.Sprintf("cmd-%d", i), true)
	}
	assert.Len(t, g.Records(), DefaultDuplicateCapacity)
}
