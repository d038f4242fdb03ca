// Package session owns the per-guild voice playback state: the session
// state machine, the track queue, the occupancy watcher that tears down
// idle sessions, and the queue renderer.
//
// Operations for different guilds run fully in parallel. Within one guild,
// mutating operations appear serialized: a per-session mutex guards state
// transitions and the queue, and a separate per-session enqueue mutex
// serializes resolution so tracks enter the queue in enqueue-call order
// even when resolutions take wildly different times. Neither lock is held
// across a network call, with one exception: connect and event-loop
// registration happen atomically so a racing Leave cannot observe a
// connection without its consumer.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/MrWong99/cadenza/internal/observe"
	"github.com/MrWong99/cadenza/internal/resolver"
	"github.com/MrWong99/cadenza/pkg/audio"
)

// State is the lifecycle state of a guild's voice session.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Resolver turns a raw query into playable track metadata. Implemented by
// [resolver.Resolver]; replaced with a stub in tests.
type Resolver interface {
	Resolve(ctx context.Context, query string) (resolver.Track, error)
}

// guildSession is the per-guild state. All fields behind mu except the
// immutable guildID and the enqueue serialization lock.
type guildSession struct {
	guildID string

	// enqueueMu serializes resolve-then-append so queue order follows
	// enqueue-call order. Held across the resolution network call on
	// purpose: a hung resolution blocks only this guild's enqueue path.
	enqueueMu sync.Mutex

	mu        sync.Mutex
	state     State
	channelID string
	conn      audio.Connection
	queue     queue
	loopDone  chan struct{}
}

// Config configures a [Manager].
type Config struct {
	// Platform opens voice connections. Must not be nil.
	Platform audio.Platform

	// Resolver turns queries into track metadata. Must not be nil.
	Resolver Resolver

	// Metrics records session and playback metrics. Defaults to
	// [observe.DefaultMetrics] if nil.
	Metrics *observe.Metrics

	// Logger defaults to [slog.Default] if nil.
	Logger *slog.Logger
}

// Manager is the single authority that may open or close a voice connection
// for a guild. Safe for concurrent use.
type Manager struct {
	platform audio.Platform
	resolver Resolver
	metrics  *observe.Metrics
	log      *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*guildSession
}

// NewManager creates a Manager with the given configuration.
func NewManager(cfg Config) *Manager {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Manager{
		platform: cfg.Platform,
		resolver: cfg.Resolver,
		metrics:  metrics,
		log:      log,
		sessions: make(map[string]*guildSession),
	}
}

// Join connects the guild to the given voice channel. If a session already
// exists for the guild it is reused and Join returns nil without touching
// the existing connection; moving channels requires an explicit Leave
// first. A connect failure rolls the guild back to a clean disconnected
// state and surfaces [ErrTransportFailure].
func (m *Manager) Join(ctx context.Context, guildID, channelID string) error {
	m.mu.Lock()
	s, ok := m.sessions[guildID]
	if !ok {
		s = &guildSession{guildID: guildID}
		m.sessions[guildID] = s
	}
	m.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateConnected {
		return nil
	}

	s.state = StateConnecting
	s.channelID = channelID

	start := time.Now()
	conn, err := m.platform.Connect(ctx, guildID, channelID)
	m.metrics.ConnectDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		s.state = StateDisconnected
		s.channelID = ""
		m.removeIf(guildID, s)
		return fmt.Errorf("session: connect guild %q channel %q: %w",
			guildID, channelID, errors.Join(ErrTransportFailure, err))
	}

	// A Leave racing with this connect may have removed the session from
	// the map already. Do not leak the fresh connection in that case.
	m.mu.Lock()
	if m.sessions[guildID] != s {
		m.mu.Unlock()
		_ = conn.Disconnect()
		s.state = StateDisconnected
		s.channelID = ""
		return fmt.Errorf("session: guild %q: %w", guildID, ErrNoActiveSession)
	}
	m.mu.Unlock()

	s.conn = conn
	s.state = StateConnected
	s.loopDone = make(chan struct{})
	go m.eventLoop(s, conn)

	m.metrics.ActiveSessions.Add(ctx, 1)
	m.log.Info("joined voice channel",
		"guild_id", guildID, "channel_id", channelID)
	return nil
}

// Leave tears down the guild's session: disconnects the voice connection
// promptly (without waiting for the current track), clears the queue and
// removes the session. This is the single teardown path for both explicit
// leave and occupancy auto-leave. Idempotent: a second concurrent call
// observes [ErrNoActiveSession].
func (m *Manager) Leave(ctx context.Context, guildID string) error {
	m.mu.Lock()
	s, ok := m.sessions[guildID]
	if ok {
		delete(m.sessions, guildID)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("session: guild %q: %w", guildID, ErrNoActiveSession)
	}

	s.mu.Lock()
	conn := s.conn
	loopDone := s.loopDone
	s.state = StateDisconnected
	s.channelID = ""
	s.conn = nil
	s.queue.clear()
	s.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Disconnect()
		m.metrics.ActiveSessions.Add(ctx, -1)
	}
	if loopDone != nil {
		<-loopDone
	}

	m.log.Info("left voice channel", "guild_id", guildID)
	if err != nil {
		return fmt.Errorf("session: disconnect guild %q: %w",
			guildID, errors.Join(ErrTransportFailure, err))
	}
	return nil
}

// Enqueue resolves query and appends the result to the guild's queue,
// starting playback if the queue was idle. Only metadata is fetched here;
// the audio payload is not touched until the track reaches the head of the
// queue and is handed to the transport. Returns [ErrNotConnected] when the
// guild has no connected session.
func (m *Manager) Enqueue(ctx context.Context, guildID, query string) (resolver.Track, error) {
	s := m.lookup(guildID)
	if s == nil {
		return resolver.Track{}, fmt.Errorf("session: guild %q: %w", guildID, ErrNotConnected)
	}

	s.enqueueMu.Lock()
	defer s.enqueueMu.Unlock()

	kind := queryKind(query)
	start := time.Now()
	track, err := m.resolver.Resolve(ctx, query)
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.metrics.RecordResolve(ctx, kind, status, time.Since(start).Seconds())
	if err != nil {
		return resolver.Track{}, fmt.Errorf("session: resolve %q: %w", query, err)
	}

	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		return resolver.Track{}, fmt.Errorf("session: guild %q: %w", guildID, ErrNotConnected)
	}
	entry := s.queue.append(track)
	idle := s.queue.head() == entry
	s.mu.Unlock()

	m.metrics.RecordEnqueue(ctx, kind)
	m.log.Info("track enqueued",
		"guild_id", guildID, "title", track.Title, "url", track.URL)

	if idle {
		m.startPlayback(s)
	}
	return track, nil
}

// Skip stops the current track; the completion event advances the queue.
// The session stays connected. Returns [ErrQueueEmpty] when there is
// nothing to skip.
func (m *Manager) Skip(ctx context.Context, guildID string) error {
	s := m.lookup(guildID)
	if s == nil {
		return fmt.Errorf("session: guild %q: %w", guildID, ErrNoActiveSession)
	}

	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		return fmt.Errorf("session: guild %q: %w", guildID, ErrNoActiveSession)
	}
	head := s.queue.head()
	if head == nil {
		s.mu.Unlock()
		return fmt.Errorf("session: guild %q: %w", guildID, ErrQueueEmpty)
	}
	conn := s.conn
	playing := head.Handle != ""
	if !playing {
		// Head was never handed to the transport; drop it directly.
		s.queue.advance()
	}
	s.mu.Unlock()

	if !playing {
		m.startPlayback(s)
		return nil
	}
	if err := conn.Stop(); err != nil {
		return fmt.Errorf("session: stop track guild %q: %w",
			guildID, errors.Join(ErrTransportFailure, err))
	}
	m.log.Info("track skipped", "guild_id", guildID, "title", head.Track.Title)
	return nil
}

// State returns the guild's session state.
func (m *Manager) State(guildID string) State {
	s := m.lookup(guildID)
	if s == nil {
		return StateDisconnected
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ChannelID returns the voice channel the guild's session occupies, or
// false when the guild has no connected session.
func (m *Manager) ChannelID(guildID string) (string, bool) {
	s := m.lookup(guildID)
	if s == nil {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnected {
		return "", false
	}
	return s.channelID, true
}

// ActiveGuilds returns the IDs of guilds with a live session, sorted for
// stable iteration.
func (m *Manager) ActiveGuilds() []string {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// NowPlaying returns the head entry when the transport reports its handle
// as the active track. Handle identity is the source of truth; a head
// entry the transport no longer recognizes is not "now playing".
func (m *Manager) NowPlaying(guildID string) (Entry, bool) {
	s := m.lookup(guildID)
	if s == nil {
		return Entry{}, false
	}
	s.mu.Lock()
	head := s.queue.head()
	conn := s.conn
	if head == nil || head.Handle == "" || conn == nil {
		s.mu.Unlock()
		return Entry{}, false
	}
	entry := *head
	s.mu.Unlock()

	if _, err := conn.Elapsed(entry.Handle); err != nil {
		return Entry{}, false
	}
	return entry, true
}

// ─── Playback internals ───────────────────────────────────────────────────────

// eventLoop consumes the connection's track events until the connection is
// torn down and its event channel closes. Running the hooks on a dedicated
// goroutine keeps the transport from calling back into locked session
// state; a late event after teardown finds the queue already cleared.
func (m *Manager) eventLoop(s *guildSession, conn audio.Connection) {
	defer close(s.loopDone)
	for evt := range conn.Events() {
		if evt.Type == audio.TrackError {
			// A bad track must not kill the session; log and move on.
			m.logTrackError(s, evt)
			m.metrics.RecordPlaybackError(context.Background(), s.guildID)
		}
		m.advance(s, evt.Handle)
	}
}

// advance drops the head entry matching the finished handle and starts the
// next track. Stale events for entries no longer at the head are ignored.
func (m *Manager) advance(s *guildSession, finished audio.TrackHandle) {
	s.mu.Lock()
	head := s.queue.head()
	if s.state != StateConnected || head == nil || head.Handle != finished {
		s.mu.Unlock()
		return
	}
	s.queue.advance()
	s.mu.Unlock()

	m.startPlayback(s)
}

// startPlayback hands the head entry to the transport if the queue is
// non-empty and nothing is playing. Entries whose source fails to start
// are dropped and the next one is tried.
//
// The session lock stays held across conn.Play: Play hands the source to a
// transport goroutine without touching the network (see the Connection
// contract), and holding the lock makes handle assignment atomic with
// playback start. A concurrent Skip therefore either runs before the head
// is handed over (and drops it directly) or sees its handle and routes
// through Stop; it can never mistake a starting head for an unplayed one.
func (m *Manager) startPlayback(s *guildSession) {
	for {
		s.mu.Lock()
		if s.state != StateConnected {
			s.mu.Unlock()
			return
		}
		entry := s.queue.head()
		if entry == nil || entry.Handle != "" {
			s.mu.Unlock()
			return
		}
		conn := s.conn
		track := entry.Track

		handle, err := conn.Play(context.Background(), track.Source)
		if err != nil {
			if errors.Is(err, audio.ErrTrackActive) {
				// The transport still carries a track that has not yet
				// delivered its finish event. Leave the head in place; the
				// pending event's advance will hand it over.
				s.mu.Unlock()
				return
			}
			s.queue.advance()
			s.mu.Unlock()
			m.log.Error("start playback",
				"guild_id", s.guildID, "title", track.Title, "url", track.URL, "error", err)
			m.metrics.RecordPlaybackError(context.Background(), s.guildID)
			continue
		}
		entry.Handle = handle
		s.mu.Unlock()

		m.log.Info("track started", "guild_id", s.guildID, "title", track.Title)
		return
	}
}

// logTrackError logs a mid-playback failure with the track's metadata.
func (m *Manager) logTrackError(s *guildSession, evt audio.TrackEvent) {
	title := ""
	s.mu.Lock()
	if head := s.queue.head(); head != nil && head.Handle == evt.Handle {
		title = head.Track.Title
	}
	s.mu.Unlock()
	m.log.Error("playback error",
		"guild_id", s.guildID, "title", title, "error", evt.Err)
}

// lookup returns the guild's session, or nil.
func (m *Manager) lookup(guildID string) *guildSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[guildID]
}

// removeIf deletes the map entry only if it still points at s.
func (m *Manager) removeIf(guildID string, s *guildSession) {
	m.mu.Lock()
	if m.sessions[guildID] == s {
		delete(m.sessions, guildID)
	}
	m.mu.Unlock()
}

// queryKind classifies a query for metric attributes using the same test
// the resolver applies when routing it.
func queryKind(query string) string {
	if resolver.IsURL(query) {
		return "url"
	}
	return "search"
}
