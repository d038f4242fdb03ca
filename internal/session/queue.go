package session

import (
	"github.com/MrWong99/cadenza/internal/resolver"
	"github.com/MrWong99/cadenza/pkg/audio"
)

// Entry is one queued track. The head entry counts as "now playing" only
// when the transport reports its handle as the active track; there is no
// separate playing flag.
type Entry struct {
	// Track is the resolved, immutable metadata.
	Track resolver.Track

	// Handle is the transport's playable handle. Empty until the entry
	// has been handed to the transport.
	Handle audio.TrackHandle
}

// queue is a per-guild FIFO of pending tracks, head first. It is not
// self-locking; callers serialize access through the owning session's mutex.
type queue struct {
	entries []*Entry
}

// append adds a track at the tail and returns the new entry.
func (q *queue) append(track resolver.Track) *Entry {
	e := &Entry{Track: track}
	q.entries = append(q.entries, e)
	return e
}

// head returns the front entry, or nil when the queue is empty.
func (q *queue) head() *Entry {
	if len(q.entries) == 0 {
		return nil
	}
	return q.entries[0]
}

// advance removes the head. Called only when a track finishes or is
// skipped, never by display operations.
func (q *queue) advance() {
	if len(q.entries) == 0 {
		return
	}
	q.entries[0] = nil
	q.entries = q.entries[1:]
}

// clear drops all entries.
func (q *queue) clear() {
	q.entries = nil
}

// length returns the number of queued entries, including the head.
func (q *queue) length() int {
	return len(q.entries)
}

// snapshot returns a copy of the entries in queue order for read-only use.
func (q *queue) snapshot() []Entry {
	out := make([]Entry, len(q.entries))
	for i, e := range q.entries {
		out[i] = *e
	}
	return out
}
