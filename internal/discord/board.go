package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/cadenza/internal/session"
)

// PlaybackStatus provides the data needed to render a status embed.
// Satisfied by [session.Manager].
type PlaybackStatus interface {
	ActiveGuilds() []string
	NowPlaying(guildID string) (session.Entry, bool)
	ChannelID(guildID string) (string, bool)
}

// EmbedPoster is the slice of the discordgo session used to post and edit
// embed messages.
type EmbedPoster interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditEmbed(channelID, messageID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// embedColorActive is the embed sidebar color while sessions are playing.
const embedColorActive = 0x2ECC71

// embedColorIdle is the embed sidebar color when no session is active.
const embedColorIdle = 0x95A5A6

// defaultBoardInterval is the default status board update interval.
const defaultBoardInterval = 15 * time.Second

// StatusBoard renders and periodically updates a Discord embed showing the
// active voice sessions and their current tracks. The embed is created on
// the first update and edited in place afterwards.
//
// Thread-safe for concurrent use.
type StatusBoard struct {
	mu        sync.Mutex
	poster    EmbedPoster
	channelID string
	messageID string // embed message; created on first update
	interval  time.Duration
	status    PlaybackStatus
	guildName func(guildID string) string
	done      chan struct{}
	stopOnce  sync.Once
}

// StatusBoardConfig holds dependencies for creating a StatusBoard.
type StatusBoardConfig struct {
	Poster    EmbedPoster
	ChannelID string
	Interval  time.Duration // Default: 15 seconds
	Status    PlaybackStatus

	// GuildName resolves a guild ID to a display name. Optional; the raw
	// ID is shown when nil or when it returns "".
	GuildName func(guildID string) string
}

// NewStatusBoard creates a StatusBoard.
func NewStatusBoard(cfg StatusBoardConfig) *StatusBoard {
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultBoardInterval
	}
	return &StatusBoard{
		poster:    cfg.Poster,
		channelID: cfg.ChannelID,
		interval:  interval,
		status:    cfg.Status,
		guildName: cfg.GuildName,
		done:      make(chan struct{}),
	}
}

// Start begins the periodic update loop in a background goroutine.
func (b *StatusBoard) Start(ctx context.Context) {
	go b.loop(ctx)
}

// Stop halts the periodic update loop.
func (b *StatusBoard) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
	})
}

// loop runs the periodic embed update until Stop is called or ctx is
// cancelled.
func (b *StatusBoard) loop(ctx context.Context) {
	// Post immediately on start.
	b.update()

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.update()
		}
	}
}

// update builds the embed from current playback state and creates or edits
// the message.
func (b *StatusBoard) update() {
	embed := b.buildEmbed()

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.messageID == "" {
		msg, err := b.poster.ChannelMessageSendEmbed(b.channelID, embed)
		if err != nil {
			slog.Warn("status board: failed to create embed message", "channel", b.channelID, "err", err)
			return
		}
		b.messageID = msg.ID
		slog.Debug("status board: created embed message", "message_id", msg.ID, "channel", b.channelID)
	} else {
		_, err := b.poster.ChannelMessageEditEmbed(b.channelID, b.messageID, embed)
		if err != nil {
			slog.Warn("status board: failed to edit embed message", "message_id", b.messageID, "err", err)
		}
	}
}

// buildEmbed creates the status embed from the current playback state.
func (b *StatusBoard) buildEmbed() *discordgo.MessageEmbed {
	guilds := b.status.ActiveGuilds()

	embed := &discordgo.MessageEmbed{
		Title:     "Playback Status",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	if len(guilds) == 0 {
		embed.Color = embedColorIdle
		embed.Description = "No active sessions."
		return embed
	}

	embed.Color = embedColorActive
	for _, guildID := range guilds {
		name := guildID
		if b.guildName != nil {
			if n := b.guildName(guildID); n != "" {
				name = n
			}
		}

		value := "Idle"
		if entry, ok := b.status.NowPlaying(guildID); ok {
			value = fmt.Sprintf("Playing **%s**", entry.Track.Title)
		}
		if channelID, ok := b.status.ChannelID(guildID); ok {
			value += fmt.Sprintf(" in <#%s>", channelID)
		}

		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   name,
			Value:  value,
			Inline: false,
		})
	}
	embed.Footer = &discordgo.MessageEmbedFooter{
		Text: fmt.Sprintf("%d active session(s)", len(guilds)),
	}
	return embed
}
