package localexec

import (
	"strings"
	"sync"
)

// DefaultScrollbackLines bounds the retained terminal history.
const DefaultScrollbackLines = 10000

// Window is a slice of scrollback. End is exclusive.
type Window struct {
	Total   int
	Start   int
	End     int
	Content string
	HasMore bool
}

// Scrollback retains the most recent lines of terminal output.
type Scrollback struct {
	mu      sync.Mutex
	lines   []string
	dropped int
	limit   int
}

// NewScrollback creates a buffer keeping at most limit lines.
func NewScrollback(limit int) *Scrollback {
	if limit <= 0 {
		limit = DefaultScrollbackLines
	}
	return &Scrollback{limit: limit}
}

// Append adds output, split into lines.
func (s *Scrollback) Append(output string) {
	output = strings.TrimSuffix(output, "\n")
	if output == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, strings.Split(output, "\n")...)
	if over := len(s.lines) - s.limit; over > 0 {
		s.lines = append(s.lines[:0], s.lines[over:]...)
		s.dropped += over
	}
}

// Read returns count lines starting at absolute line start. A nil start reads
// the most recent lines. HasMore reports earlier lines outside the window.
func (s *Scrollback) Read(start *int, count int) Window {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := s.dropped + len(s.lines)
	if count <= 0 {
		count = len(s.lines)
	}
	first := total - count
	if start != nil {
		first = *start
	}
	first = max(first, s.dropped)
	first = min(first, total)
	last := min(first+count, total)

	return Window{
		Total:   total,
		Start:   first,
		End:     last,
		Content: strings.Join(s.lines[first-s.dropped:last-s.dropped], "\n"),
		HasMore: first > s.dropped,
	}
}
