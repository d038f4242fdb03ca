package session

import "errors"

// Typed errors surfaced to command handlers. Each maps to a distinct
// user-facing reply; none of them is fatal to the process.
var (
	// ErrNotInVoiceChannel is returned when the requesting user is not in
	// a voice channel the bot could join.
	ErrNotInVoiceChannel = errors.New("session: user is not in a voice channel")

	// ErrNoActiveSession is returned when an operation requires an
	// existing session for the guild and none exists.
	ErrNoActiveSession = errors.New("session: no active session for guild")

	// ErrNotConnected is returned when enqueueing without a connected
	// session. Joining is an explicit, separate step.
	ErrNotConnected = errors.New("session: not connected to a voice channel")

	// ErrQueueEmpty is returned by Skip when there is nothing to skip.
	// A silent no-op would be indistinguishable from a successful skip to
	// the user, so this is an error, not a no-op.
	ErrQueueEmpty = errors.New("session: queue is empty")

	// ErrTransportFailure wraps voice transport errors during connect or
	// teardown.
	ErrTransportFailure = errors.New("session: voice transport failure")
)
