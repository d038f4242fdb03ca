// Package audio defines the interfaces and types for voice-channel
// connectivity and track playback within Cadenza.
//
// The three primary abstractions are:
//
//   - [Platform] — joins a guild voice channel and returns a [Connection].
//   - [Connection] — represents the single active voice session for a guild,
//     playing one track at a time and reporting track lifecycle events.
//   - [Source] — a lazily materialized audio payload. Resolution produces a
//     Source without fetching any media; only [Connection.Play] opens it.
//
// Implementations of these interfaces are provided by platform-specific
// adapter packages (e.g., audio/discord). The interfaces are intentionally
// narrow to keep the session manager decoupled from provider details.
//
// This package lives under pkg/ because external code (third-party platform
// adapters) is expected to implement [Platform] and [Connection].
package audio

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrUnknownTrack is returned by [Connection.Elapsed] when the given handle
// does not identify the track currently playing on the connection.
var ErrUnknownTrack = errors.New("audio: unknown track handle")

// ErrTrackActive is returned by [Connection.Play] when a track is already
// playing on the connection. The caller stops the current track or waits
// for its finish event before playing the next one.
var ErrTrackActive = errors.New("audio: a track is already playing")

// TrackHandle identifies a track submitted to a [Connection] for playback.
// Handles are opaque and unique per Play call; callers compare them to the
// handle carried by [TrackEvent] values to correlate lifecycle events.
type TrackHandle string

// EventType classifies track lifecycle events emitted by a [Connection].
type EventType int

const (
	// TrackFinished is emitted when a track plays to completion or is
	// stopped via [Connection.Stop].
	TrackFinished EventType = iota

	// TrackError is emitted when playback of a track fails. The session
	// owning the connection decides how to recover; the connection itself
	// stays usable.
	TrackError
)

// String returns the human-readable name of the event type.
func (e EventType) String() string {
	switch e {
	case TrackFinished:
		return "FINISHED"
	case TrackError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// TrackEvent describes a track lifecycle change on a voice connection.
// Events are delivered on the channel returned by [Connection.Events].
type TrackEvent struct {
	// Type indicates whether the track finished or failed.
	Type EventType

	// Handle identifies the track the event refers to.
	Handle TrackHandle

	// Err carries the playback failure for [TrackError] events; nil otherwise.
	Err error
}

// Source is a lazily materialized audio payload. Open fetches and decodes
// the media into a stream of 48 kHz 16-bit little-endian stereo PCM.
//
// Resolution must never call Open: a queued track that is skipped before it
// reaches the head of the queue must not pay any fetch or decode cost.
type Source interface {
	// Open materializes the audio stream. The returned ReadCloser delivers
	// raw PCM; Close releases all underlying resources (network streams,
	// decoder processes). The supplied ctx governs the setup phase only.
	Open(ctx context.Context) (io.ReadCloser, error)
}

// Connection represents the single active voice session on a guild channel.
//
// A Connection is obtained by calling [Platform.Connect] and remains valid
// until [Connection.Disconnect] is called. It plays at most one track at a
// time; the session manager advances its queue by consuming [TrackEvent]
// values from [Connection.Events] rather than registering callbacks, so no
// adapter goroutine ever mutates session state directly.
//
// Implementations must be safe for concurrent use.
type Connection interface {
	// Play starts playback of src and returns a handle identifying the
	// track. Materialization (src.Open) and streaming happen on a
	// background goroutine; Play itself does not block on the network.
	// Playing while another track is active returns [ErrTrackActive].
	Play(ctx context.Context, src Source) (TrackHandle, error)

	// Stop halts the currently playing track, if any. The stopped track
	// still produces a [TrackFinished] event so queue advancement stays on
	// the single event path. Stopping an idle connection is a no-op.
	Stop() error

	// Elapsed reports how long the track identified by h has been playing.
	// Returns [ErrUnknownTrack] if h is not the currently playing track.
	Elapsed(h TrackHandle) (time.Duration, error)

	// Events returns the channel on which track lifecycle events are
	// delivered. The channel is closed when the connection disconnects;
	// a late completion event can therefore never outlive the session
	// consuming it.
	Events() <-chan TrackEvent

	// Disconnect cleanly tears down the connection and stops any playing
	// track without waiting for it to finish. It is safe to call more than
	// once; subsequent calls are no-ops and return nil.
	Disconnect() error
}

// Platform is the entry point for a voice-channel provider.
// Implementations wrap provider-specific SDKs (Discord, …) and expose a
// uniform [Connection] abstraction.
//
// Implementations must be safe for concurrent use.
type Platform interface {
	// Connect joins the voice channel identified by guildID and channelID
	// and returns an active [Connection]. The supplied ctx governs the
	// lifetime of the connection attempt only; once connected, the
	// Connection remains alive until [Connection.Disconnect] is called.
	Connect(ctx context.Context, guildID, channelID string) (Connection, error)
}
