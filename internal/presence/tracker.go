// Package presence tracks which subjects currently hold at least one live
// connection. A subject is online iff its connection count is positive.
// Online/offline transitions fire only at the 0<->1 boundary, so a second
// browser tab never re-announces the subject to everyone else.
package presence

import "sync"

// Tracker maintains per-subject connection counts in memory. It is owned by
// the gateway and rebuilt from zero on process restart; durable state lives
// in the chat and notification stores only.
type Tracker struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{counts: make(map[string]int)}
}

// RegisterConnection increments the subject's connection count and reports
// whether this was the 0->1 transition (i.e. the subject just came online).
func (t *Tracker) RegisterConnection(subjectID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.counts[subjectID]++
	return t.counts[subjectID] == 1
}

// DeregisterConnection decrements the subject's connection count and reports
// whether this was the 1->0 transition (i.e. the subject just went offline).
// Deregistering an unknown subject is a no-op.
func (t *Tracker) DeregisterConnection(subjectID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	n, ok := t.counts[subjectID]
	if !ok {
		return false
	}
	if n <= 1 {
		delete(t.counts, subjectID)
		return true
	}
	t.counts[subjectID] = n - 1
	return false
}

// IsOnline reports whether the subject has at least one active connection.
func (t *Tracker) IsOnline(subjectID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[subjectID] > 0
}

// OnlineSet returns a snapshot of all currently online subject ids.
func (t *Tracker) OnlineSet() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]string, 0, len(t.counts))
	for id := range t.counts {
		out = append(out, id)
	}
	return out
}

// OnlineCount returns the number of currently online subjects.
func (t *Tracker) OnlineCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.counts)
}

// ConnectionCount returns the number of active connections for a subject.
func (t *Tracker) ConnectionCount(subjectID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[subjectID]
}
