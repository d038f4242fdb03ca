package session

import (
	"context"
	"errors"
	"log/slog"
)

// MembershipEvent is a voice channel membership change pushed by the
// gateway adapter. OldChannelID is empty when the member was not in a
// channel before the change; NewChannelID is empty when they disconnected.
type MembershipEvent struct {
	GuildID      string
	UserID       string
	OldChannelID string
	NewChannelID string
}

// ChannelOccupancy reports how many non-bot members currently occupy a
// voice channel. Implemented by the gateway adapter over its state cache.
type ChannelOccupancy interface {
	NonBotMembers(guildID, channelID string) (int, error)
}

// Leaver is the slice of the session manager the watcher needs.
type Leaver interface {
	Leave(ctx context.Context, guildID string) error
	ChannelID(guildID string) (string, bool)
}

// Watcher tears down sessions whose voice channel the bot occupies alone.
// It holds no state of its own; every decision is computed from the event
// and the current occupancy count.
type Watcher struct {
	sessions  Leaver
	occupancy ChannelOccupancy
	log       *slog.Logger
}

// NewWatcher creates a Watcher. logger defaults to [slog.Default] if nil.
func NewWatcher(sessions Leaver, occupancy ChannelOccupancy, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{sessions: sessions, occupancy: occupancy, log: logger}
}

// HandleEvent processes one membership change. Events without a previous
// channel (the member just connected somewhere) and events for channels
// other than the one the bot occupies are ignored. When the bot is the
// sole remaining occupant, the session is torn down; a concurrent explicit
// leave is tolerated because Leave is idempotent.
func (w *Watcher) HandleEvent(ctx context.Context, evt MembershipEvent) {
	if evt.OldChannelID == "" {
		return
	}
	botChannel, ok := w.sessions.ChannelID(evt.GuildID)
	if !ok || botChannel != evt.OldChannelID {
		return
	}

	count, err := w.occupancy.NonBotMembers(evt.GuildID, botChannel)
	if err != nil {
		w.log.Warn("count channel members",
			"guild_id", evt.GuildID, "channel_id", botChannel, "error", err)
		return
	}
	if count > 0 {
		return
	}

	w.log.Info("voice channel empty, leaving",
		"guild_id", evt.GuildID, "channel_id", botChannel)
	if err := w.sessions.Leave(ctx, evt.GuildID); err != nil && !errors.Is(err, ErrNoActiveSession) {
		w.log.Error("auto-leave", "guild_id", evt.GuildID, "error", err)
	}
}
