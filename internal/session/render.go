package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// EmptyQueueMessage is the reply when a guild's queue holds nothing.
const EmptyQueueMessage = "Queue is empty."

// RenderQueue produces the display-ready queue listing for a guild. The
// listing is built from a snapshot; elapsed playback time is queried from
// the transport only for the head entry. Per-entry lines are formatted
// concurrently but the output always follows queue order.
func (m *Manager) RenderQueue(ctx context.Context, guildID string) (string, error) {
	s := m.lookup(guildID)
	if s == nil {
		return "", fmt.Errorf("session: guild %q: %w", guildID, ErrNoActiveSession)
	}

	s.mu.Lock()
	entries := s.queue.snapshot()
	conn := s.conn
	s.mu.Unlock()

	if len(entries) == 0 {
		return EmptyQueueMessage, nil
	}

	lines := make([]string, len(entries))
	g, _ := errgroup.WithContext(ctx)
	for i, e := range entries {
		g.Go(func() error {
			if i == 0 && e.Handle != "" && conn != nil {
				if elapsed, err := conn.Elapsed(e.Handle); err == nil {
					lines[i] = fmt.Sprintf("%d. %s [%s / %s] (now playing)",
						i+1, e.Track.Title, formatDuration(elapsed), renderedDuration(e.Track.Duration))
					return nil
				}
			}
			lines[i] = fmt.Sprintf("%d. %s [%s]", i+1, e.Track.Title, renderedDuration(e.Track.Duration))
			return nil
		})
	}
	// The formatting goroutines never return errors; Wait is for the join.
	_ = g.Wait()

	return strings.Join(lines, "\n"), nil
}

// renderedDuration renders a track duration, showing "Unknown" when the
// resolver could not determine one.
func renderedDuration(d time.Duration) string {
	if d <= 0 {
		return "Unknown"
	}
	return formatDuration(d)
}

// formatDuration renders a duration as zero-padded MM:SS. Minutes wrap at
// 60: a 100 minute track renders as "40:00". Two-digit truncation is the
// documented display contract.
func formatDuration(d time.Duration) string {
	total := int(d.Seconds())
	return fmt.Sprintf("%02d:%02d", (total/60)%60, total%60)
}
