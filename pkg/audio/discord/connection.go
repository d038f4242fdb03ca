package discord

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"

	"github.com/MrWong99/cadenza/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Connection = (*Connection)(nil)

const eventChannelBuffer = 16

// ErrTrackActive is returned by [Connection.Play] when a track is already
// playing. Cadenza plays one track per guild at a time; callers stop the
// current track or wait for its finish event before playing the next one.
// Alias of [audio.ErrTrackActive].
var ErrTrackActive = audio.ErrTrackActive

// Connection wraps a discordgo.VoiceConnection and adapts it to the
// [audio.Connection] interface. It materializes an [audio.Source] at play
// time, encodes its PCM stream to Opus in 20 ms frames, and delivers track
// lifecycle events on a channel consumed by the session layer.
//
// Connection is safe for concurrent use.
type Connection struct {
	mu         sync.Mutex
	current    audio.TrackHandle
	stop       chan struct{} // closed to stop the current track
	reader     io.Closer     // open media stream of the current track
	framesSent int64         // 20 ms frames sent for the current track

	events    chan audio.TrackEvent
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	// opusSend receives encoded Opus packets. Defaults to vc.OpusSend;
	// overridden in tests.
	opusSend chan<- []byte

	// speak toggles the speaking indicator. Defaults to vc.Speaking;
	// overridden in tests.
	speak func(bool) error

	// disconnectVC is called during Disconnect to tear down the voice
	// connection. Defaults to vc.Disconnect; overridden in tests.
	disconnectVC func() error
}

// newConnection initialises a Connection for an already-joined voice channel.
func newConnection(vc *discordgo.VoiceConnection) *Connection {
	return &Connection{
		events:       make(chan audio.TrackEvent, eventChannelBuffer),
		done:         make(chan struct{}),
		opusSend:     vc.OpusSend,
		speak:        vc.Speaking,
		disconnectVC: vc.Disconnect,
	}
}

// Play starts playback of src on a background goroutine and returns the
// handle of the new track. The source is materialized (src.Open) inside the
// goroutine, so Play never blocks on the network. Returns [ErrTrackActive]
// when a track is already playing.
func (c *Connection) Play(ctx context.Context, src audio.Source) (audio.TrackHandle, error) {
	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		return "", errors.New("discord: connection is closed")
	default:
	}
	if c.current != "" {
		c.mu.Unlock()
		return "", ErrTrackActive
	}

	h := audio.TrackHandle("track-" + uuid.NewString())
	stop := make(chan struct{})
	c.current = h
	c.stop = stop
	c.framesSent = 0
	c.wg.Add(1)
	c.mu.Unlock()

	go c.playLoop(ctx, src, h, stop)
	return h, nil
}

// Stop halts the currently playing track, if any. The stopped track emits a
// [audio.TrackFinished] event from its playback goroutine.
func (c *Connection) Stop() error {
	c.mu.Lock()
	stop := c.stop
	playing := c.current != ""
	c.stop = nil
	c.mu.Unlock()

	if playing && stop != nil {
		close(stop)
	}
	return nil
}

// Elapsed reports the play time of the track identified by h, derived from
// the number of 20 ms frames sent so far.
func (c *Connection) Elapsed(h audio.TrackHandle) (time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h == "" || h != c.current {
		return 0, audio.ErrUnknownTrack
	}
	return time.Duration(c.framesSent) * opusFrameSizeMs * time.Millisecond, nil
}

// Events returns the track lifecycle event channel. The channel is closed
// by Disconnect after the playback goroutine has exited.
func (c *Connection) Events() <-chan audio.TrackEvent {
	return c.events
}

// Disconnect stops any playing track, tears down the voice connection, and
// closes the event channel. Safe to call more than once.
func (c *Connection) Disconnect() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		stop := c.stop
		c.stop = nil
		reader := c.reader
		c.mu.Unlock()

		if stop != nil {
			close(stop)
		}
		// Unblock a playback goroutine stuck reading the media stream.
		if reader != nil {
			_ = reader.Close()
		}

		c.wg.Wait()

		if c.disconnectVC != nil {
			err = c.disconnectVC()
		}
		close(c.events)
	})
	return err
}

// playLoop materializes src and pumps its PCM stream to Discord as Opus
// frames until the stream ends, the track is stopped, or the connection
// disconnects. It owns emitting the track's single lifecycle event.
func (c *Connection) playLoop(ctx context.Context, src audio.Source, h audio.TrackHandle, stop chan struct{}) {
	defer c.wg.Done()

	rc, err := src.Open(ctx)
	if err != nil {
		c.clearTrack(h)
		c.emit(audio.TrackEvent{Type: audio.TrackError, Handle: h, Err: fmt.Errorf("discord: open source: %w", err)})
		return
	}
	c.mu.Lock()
	c.reader = rc
	c.mu.Unlock()
	defer func() {
		_ = rc.Close()
		c.mu.Lock()
		if c.reader == rc {
			c.reader = nil
		}
		c.mu.Unlock()
	}()

	enc, err := newOpusEncoder()
	if err != nil {
		c.clearTrack(h)
		c.emit(audio.TrackEvent{Type: audio.TrackError, Handle: h, Err: err})
		return
	}

	if err := c.speak(true); err != nil {
		slog.Warn("discord: failed to set speaking state", "err", err)
	}
	defer func() {
		if err := c.speak(false); err != nil {
			slog.Debug("discord: failed to clear speaking state", "err", err)
		}
	}()

	buf := make([]byte, opusFrameBytes)
	for {
		if _, err := io.ReadFull(rc, buf); err != nil {
			c.clearTrack(h)
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				c.emit(audio.TrackEvent{Type: audio.TrackFinished, Handle: h})
			} else {
				select {
				case <-c.done:
					// Disconnect closed the stream out from under us;
					// the session is gone, nobody is listening.
				default:
					c.emit(audio.TrackEvent{Type: audio.TrackError, Handle: h, Err: fmt.Errorf("discord: read media stream: %w", err)})
				}
			}
			return
		}

		pkt, err := enc.encode(buf)
		if err != nil {
			// Drop the frame rather than abort the track.
			slog.Warn("discord: opus encode error", "err", err)
			continue
		}

		select {
		case c.opusSend <- pkt:
			c.mu.Lock()
			c.framesSent++
			c.mu.Unlock()
		case <-stop:
			c.clearTrack(h)
			c.emit(audio.TrackEvent{Type: audio.TrackFinished, Handle: h})
			return
		case <-c.done:
			c.clearTrack(h)
			return
		}
	}
}

// clearTrack marks h as no longer playing.
func (c *Connection) clearTrack(h audio.TrackHandle) {
	c.mu.Lock()
	if c.current == h {
		c.current = ""
	}
	c.mu.Unlock()
}

// emit delivers evt unless the connection has been disconnected.
func (c *Connection) emit(evt audio.TrackEvent) {
	select {
	case c.events <- evt:
	case <-c.done:
	}
}
