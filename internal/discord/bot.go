// Package discord provides the Discord gateway layer for Cadenza. It owns
// the discordgo.Session lifecycle, routes slash command interactions to
// registered handlers, forwards voice membership changes to the occupancy
// watcher, and checks DJ role permissions.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/cadenza/internal/session"
	"github.com/MrWong99/cadenza/pkg/audio"
	discordaudio "github.com/MrWong99/cadenza/pkg/audio/discord"
)

// Config holds Discord bot configuration.
type Config struct {
	// Token is the Discord bot token.
	Token string

	// GuildID scopes command registration to one guild; empty registers
	// commands globally.
	GuildID string

	// DJRoleID restricts playback-control commands when set.
	DJRoleID string
}

// MembershipHandler receives voice membership changes.
type MembershipHandler interface {
	HandleEvent(ctx context.Context, evt session.MembershipEvent)
}

// Bot owns the Discord gateway connection and routes interactions and
// voice state updates.
type Bot struct {
	mu        sync.RWMutex
	session   *discordgo.Session
	platform  *discordaudio.Platform
	router    *CommandRouter
	perms     *PermissionChecker
	guildID   string
	commands  []*discordgo.ApplicationCommand
	closeOnce sync.Once

	membership   MembershipHandler
	membershipMu sync.RWMutex
}

// New creates a Bot, connects to Discord, and registers the gateway
// handlers.
func New(_ context.Context, cfg Config) (*Bot, error) {
	s, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}

	s.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildVoiceStates

	if err := s.Open(); err != nil {
		return nil, fmt.Errorf("discord: open session: %w", err)
	}

	b := &Bot{
		session:  s,
		platform: discordaudio.New(s),
		router:   NewCommandRouter(),
		perms:    NewPermissionChecker(cfg.DJRoleID),
		guildID:  cfg.GuildID,
	}

	s.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		b.router.Handle(s, i)
	})
	s.AddHandler(func(_ *discordgo.Session, vsu *discordgo.VoiceStateUpdate) {
		b.handleVoiceStateUpdate(vsu)
	})

	return b, nil
}

// Platform returns the audio.Platform for voice channel connections.
func (b *Bot) Platform() audio.Platform {
	return b.platform
}

// Session returns the underlying discordgo session.
func (b *Bot) Session() *discordgo.Session {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.session
}

// Router returns the command router for registering handlers.
func (b *Bot) Router() *CommandRouter {
	return b.router
}

// Permissions returns the permission checker.
func (b *Bot) Permissions() *PermissionChecker {
	return b.perms
}

// SetMembershipHandler wires the consumer of voice membership events,
// normally the occupancy watcher.
func (b *Bot) SetMembershipHandler(h MembershipHandler) {
	b.membershipMu.Lock()
	defer b.membershipMu.Unlock()
	b.membership = h
}

// handleVoiceStateUpdate translates a gateway voice state update into a
// membership event. The bot's own updates are forwarded too; the watcher
// filters on channel relevance.
func (b *Bot) handleVoiceStateUpdate(vsu *discordgo.VoiceStateUpdate) {
	b.membershipMu.RLock()
	h := b.membership
	b.membershipMu.RUnlock()
	if h == nil {
		return
	}

	evt := session.MembershipEvent{
		GuildID:      vsu.GuildID,
		UserID:       vsu.UserID,
		NewChannelID: vsu.ChannelID,
	}
	if vsu.BeforeUpdate != nil {
		evt.OldChannelID = vsu.BeforeUpdate.ChannelID
	}
	h.HandleEvent(context.Background(), evt)
}

// NonBotMembers implements [session.ChannelOccupancy] over the gateway
// state cache. Members whose bot flag cannot be determined count as humans
// so the watcher errs on the side of staying connected.
func (b *Bot) NonBotMembers(guildID, channelID string) (int, error) {
	s := b.Session()
	guild, err := s.State.Guild(guildID)
	if err != nil {
		return 0, fmt.Errorf("discord: guild %q not in state cache: %w", guildID, err)
	}

	count := 0
	for _, vs := range guild.VoiceStates {
		if vs.ChannelID != channelID {
			continue
		}
		if vs.UserID == s.State.User.ID {
			continue
		}
		member, err := s.State.Member(guildID, vs.UserID)
		if err != nil || member.User == nil || !member.User.Bot {
			count++
		}
	}
	return count, nil
}

// GatewayReady reports whether the gateway handshake has completed and the
// state cache is populated.
func (b *Bot) GatewayReady() bool {
	return b.Session().DataReady
}

// GuildName resolves a guild ID to its display name from the state cache,
// or "" when unknown.
func (b *Bot) GuildName(guildID string) string {
	guild, err := b.Session().State.Guild(guildID)
	if err != nil {
		return ""
	}
	return guild.Name
}

// VoiceChannelOf reports the voice channel the member currently occupies,
// looked up in the gateway state cache.
func (b *Bot) VoiceChannelOf(guildID, userID string) (string, bool) {
	s := b.Session()
	vs, err := s.State.VoiceState(guildID, userID)
	if err != nil || vs == nil || vs.ChannelID == "" {
		return "", false
	}
	return vs.ChannelID, true
}

// Run registers slash commands with the Discord API and blocks until
// ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	b.mu.RLock()
	appID := b.session.State.User.ID
	b.mu.RUnlock()

	cmds := b.router.ApplicationCommands()
	if len(cmds) > 0 {
		registered, err := b.session.ApplicationCommandBulkOverwrite(appID, b.guildID, cmds)
		if err != nil {
			return fmt.Errorf("discord: register commands: %w", err)
		}
		b.mu.Lock()
		b.commands = registered
		b.mu.Unlock()
		slog.Info("discord commands registered", "count", len(registered))
	}

	<-ctx.Done()
	return ctx.Err()
}

// Close disconnects from Discord and unregisters commands.
func (b *Bot) Close() error {
	var closeErr error
	b.closeOnce.Do(func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		// Unregister commands.
		if b.session != nil && len(b.commands) > 0 {
			appID := b.session.State.User.ID
			for _, cmd := range b.commands {
				if err := b.session.ApplicationCommandDelete(appID, b.guildID, cmd.ID); err != nil {
					slog.Warn("discord: failed to delete command", "name", cmd.Name, "err", err)
				}
			}
		}

		// Close session.
		if b.session != nil {
			if err := b.session.Close(); err != nil {
				closeErr = fmt.Errorf("discord: close session: %w", err)
			}
		}

		slog.Info("discord bot closed")
	})
	return closeErr
}
