package supervisor

import "sync"

// logRing is a fixed-capacity line buffer; appending past capacity evicts
// the oldest line. Safe for one writer and many readers.
type logRing struct {
	mu    sync.Mutex
	lines []string
	max   int
	start int
	count int
}

func newLogRing(max int) *logRing {
	if max <= 0 {
		max = 100
	}
	return &logRing{lines: make([]string, max), max: max}
}

func (r *logRing) Append(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.count < r.max {
		r.lines[(r.start+r.count)%r.max] = line
		r.count++
		return
	}
	r.lines[r.start] = line
	r.start = (r.start + 1) % r.max
}

// Snapshot returns the buffered lines, oldest first / most recent last.
func (r *logRing) Snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.lines[(r.start+i)%r.max]
	}
	return out
}
