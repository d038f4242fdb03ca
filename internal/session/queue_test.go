package session

import (
	"testing"
	"time"

	"github.com/MrWong99/cadenza/internal/resolver"
)

func track(title string) resolver.Track {
	return resolver.Track{Title: title, URL: "https://tracks.example/" + title, Duration: time.Minute}
}

func TestQueue_FIFOOrder(t *testing.T) {
	t.Parallel()

	var q queue
	q.append(track("a"))
	q.append(track("b"))
	q.append(track("c"))

	snap := q.snapshot()
	if len(snap) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(snap))
	}
	for i, want := range []string{"a", "b", "c"} {
		if snap[i].Track.Title != want {
			t.Errorf("entry %d: expected %q, got %q", i, want, snap[i].Track.Title)
		}
	}
}

func TestQueue_AdvanceRemovesHead(t *testing.T) {
	t.Parallel()

	var q queue
	q.append(track("a"))
	q.append(track("b"))

	q.advance()
	if head := q.head(); head == nil || head.Track.Title != "b" {
		t.Fatalf("expected head %q after advance, got %+v", "b", head)
	}

	q.advance()
	if q.head() != nil {
		t.Error("expected empty queue after advancing past last entry")
	}

	// Advancing an empty queue must not panic.
	q.advance()
}

func TestQueue_Clear(t *testing.T) {
	t.Parallel()

	var q queue
	q.append(track("a"))
	q.append(track("b"))
	q.clear()

	if q.length() != 0 {
		t.Errorf("expected empty queue, got %d entries", q.length())
	}
	if q.head() != nil {
		t.Error("expected nil head after clear")
	}
}

func TestQueue_SnapshotDoesNotMutate(t *testing.T) {
	t.Parallel()

	var q queue
	q.append(track("a"))

	snap := q.snapshot()
	snap[0].Track.Title = "mutated"

	if got := q.head().Track.Title; got != "a" {
		t.Errorf("snapshot mutation leaked into queue: %q", got)
	}
}
