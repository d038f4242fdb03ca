// Package mock provides in-memory mock implementations of the
// [audio.Platform], [audio.Connection], and [audio.Source] interfaces for
// use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so
// that tests can assert on call counts and arguments, and they expose
// exported fields that the test can set to control return values.
//
// Typical usage:
//
//	conn := mock.NewConnection()
//	platform := &mock.Platform{ConnectResult: conn}
//	got, err := platform.Connect(ctx, "guild-1", "channel-42")
//	...
//	conn.EmitFinished(handle) // simulate the track ending
package mock

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/cadenza/pkg/audio"
)

// ─── Connection ───────────────────────────────────────────────────────────────

// Connection is a mock implementation of [audio.Connection].
// Create it with [NewConnection]; set the exported Result/Error fields before
// use and inspect the Call* fields after.
type Connection struct {
	mu sync.Mutex

	// PlayError is returned by Play when non-nil.
	PlayError error

	// PlayHook, when set, runs at the top of every Play call before any
	// state is touched. Tests use it to hold a playback start in flight
	// while issuing concurrent operations.
	PlayHook func()

	// StopError is returned by Stop when non-nil.
	StopError error

	// DisconnectError is returned by the first Disconnect call when non-nil.
	DisconnectError error

	// ElapsedResult is returned by Elapsed for the current handle.
	ElapsedResult time.Duration

	// PlayCalls records the sources passed to Play, in order.
	PlayCalls []audio.Source

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	// CallCountDisconnect records how many times Disconnect was called.
	CallCountDisconnect int

	// ElapsedCalls records the handles passed to Elapsed, in order.
	ElapsedCalls []audio.TrackHandle

	events       chan audio.TrackEvent
	current      audio.TrackHandle
	nextHandle   int
	disconnected bool
}

// NewConnection creates a mock Connection with a buffered event channel.
func NewConnection() *Connection {
	return &Connection{events: make(chan audio.TrackEvent, 16)}
}

// Play implements [audio.Connection]. It records src, assigns a fresh
// handle, and marks it as the currently playing track. Like the real
// adapter it plays one track at a time and rejects Play with
// [audio.ErrTrackActive] while a track is current. The mock never opens
// the source; tests verify laziness by asserting on [Source.CallCountOpen].
func (c *Connection) Play(_ context.Context, src audio.Source) (audio.TrackHandle, error) {
	if hook := c.playHook(); hook != nil {
		hook()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.PlayCalls = append(c.PlayCalls, src)
	if c.PlayError != nil {
		return "", c.PlayError
	}
	if c.current != "" {
		return "", audio.ErrTrackActive
	}
	c.nextHandle++
	c.current = audio.TrackHandle(fmt.Sprintf("mock-track-%d", c.nextHandle))
	return c.current, nil
}

func (c *Connection) playHook() func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.PlayHook
}

// Stop implements [audio.Connection]. When a track is playing it emits a
// [audio.TrackFinished] event for it, mirroring real adapter behaviour.
func (c *Connection) Stop() error {
	c.mu.Lock()
	c.CallCountStop++
	h := c.current
	err := c.StopError
	c.mu.Unlock()
	if err != nil {
		return err
	}
	if h != "" {
		c.EmitFinished(h)
	}
	return nil
}

// Elapsed implements [audio.Connection]. Returns ElapsedResult for the
// current handle and [audio.ErrUnknownTrack] for any other handle.
func (c *Connection) Elapsed(h audio.TrackHandle) (time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ElapsedCalls = append(c.ElapsedCalls, h)
	if h == "" || h != c.current {
		return 0, audio.ErrUnknownTrack
	}
	return c.ElapsedResult, nil
}

// Events implements [audio.Connection].
func (c *Connection) Events() <-chan audio.TrackEvent {
	return c.events
}

// Disconnect implements [audio.Connection]. The first call closes the event
// channel and returns DisconnectError; subsequent calls are recorded no-ops.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountDisconnect++
	if c.disconnected {
		return nil
	}
	c.disconnected = true
	close(c.events)
	return c.DisconnectError
}

// Current returns the handle of the mock's currently playing track, or ""
// when idle.
func (c *Connection) Current() audio.TrackHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// EmitFinished delivers a [audio.TrackFinished] event for h and clears the
// current track if h is it. No-op after Disconnect.
func (c *Connection) EmitFinished(h audio.TrackHandle) {
	c.emit(audio.TrackEvent{Type: audio.TrackFinished, Handle: h})
}

// EmitError delivers a [audio.TrackError] event for h with the given error
// and clears the current track if h is it. No-op after Disconnect.
func (c *Connection) EmitError(h audio.TrackHandle, err error) {
	c.emit(audio.TrackEvent{Type: audio.TrackError, Handle: h, Err: err})
}

func (c *Connection) emit(evt audio.TrackEvent) {
	c.mu.Lock()
	if c.disconnected {
		c.mu.Unlock()
		return
	}
	if evt.Handle == c.current {
		c.current = ""
	}
	c.mu.Unlock()
	c.events <- evt
}

// ─── Platform ─────────────────────────────────────────────────────────────────

// ConnectCall records a single invocation of [Platform.Connect].
type ConnectCall struct {
	GuildID   string
	ChannelID string
}

// Platform is a mock implementation of [audio.Platform].
type Platform struct {
	mu sync.Mutex

	// ConnectResult is returned by Connect when ConnectError is nil.
	// When nil, each Connect call returns a fresh [Connection].
	ConnectResult *Connection

	// ConnectError is returned by Connect when non-nil.
	ConnectError error

	// ConnectCalls records all Connect invocations in order.
	ConnectCalls []ConnectCall
}

// Connect implements [audio.Platform].
func (p *Platform) Connect(_ context.Context, guildID, channelID string) (audio.Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{GuildID: guildID, ChannelID: channelID})
	if p.ConnectError != nil {
		return nil, p.ConnectError
	}
	if p.ConnectResult != nil {
		return p.ConnectResult, nil
	}
	return NewConnection(), nil
}

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a mock implementation of [audio.Source] backed by an in-memory
// PCM payload.
type Source struct {
	mu sync.Mutex

	// Data is the PCM payload returned by Open.
	Data string

	// OpenError is returned by Open when non-nil.
	OpenError error

	// CallCountOpen records how many times Open was called. Tests use this
	// to verify that resolution never materializes audio.
	CallCountOpen int
}

// Open implements [audio.Source].
func (s *Source) Open(_ context.Context) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountOpen++
	if s.OpenError != nil {
		return nil, s.OpenError
	}
	return io.NopCloser(strings.NewReader(s.Data)), nil
}
