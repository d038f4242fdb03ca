// Package commands implements the Cadenza slash commands.
package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/cadenza/internal/discord"
	"github.com/MrWong99/cadenza/internal/resolver"
	"github.com/MrWong99/cadenza/internal/session"
)

// commandTimeout bounds the manager calls made from interaction handlers.
// Enqueue runs resolution under it; everything else is local state.
const commandTimeout = 30 * time.Second

// PlaybackManager is the slice of the session manager used by the slash
// commands. Satisfied by [session.Manager].
type PlaybackManager interface {
	Join(ctx context.Context, guildID, channelID string) error
	Leave(ctx context.Context, guildID string) error
	Enqueue(ctx context.Context, guildID, query string) (resolver.Track, error)
	Skip(ctx context.Context, guildID string) error
	RenderQueue(ctx context.Context, guildID string) (string, error)
}

// MusicCommands holds the dependencies for the playback slash commands.
type MusicCommands struct {
	manager        PlaybackManager
	perms          *discord.PermissionChecker
	version        string
	voiceChannelOf func(guildID, userID string) (string, bool)
}

// NewMusicCommands creates a MusicCommands handler. voiceChannelOf reports
// the voice channel the given member currently occupies.
func NewMusicCommands(
	manager PlaybackManager,
	perms *discord.PermissionChecker,
	version string,
	voiceChannelOf func(guildID, userID string) (string, bool),
) *MusicCommands {
	return &MusicCommands{
		manager:        manager,
		perms:          perms,
		version:        version,
		voiceChannelOf: voiceChannelOf,
	}
}

// Register registers all playback commands with the router.
func (mc *MusicCommands) Register(router *discord.CommandRouter) {
	for _, def := range mc.Definitions() {
		var handler discord.HandlerFunc
		switch def.Name {
		case "join":
			handler = mc.handleJoin
		case "leave":
			handler = mc.handleLeave
		case "play":
			handler = mc.handlePlay
		case "skip":
			handler = mc.handleSkip
		case "queue":
			handler = mc.handleQueue
		case "help":
			handler = mc.handleHelp
		case "version":
			handler = mc.handleVersion
		}
		router.RegisterCommand(def.Name, def, handler)
	}
}

// Definitions returns the ApplicationCommand definitions for Discord
// registration.
func (mc *MusicCommands) Definitions() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        "join",
			Description: "Join your current voice channel",
		},
		{
			Name:        "leave",
			Description: "Leave the voice channel and clear the queue",
		},
		{
			Name:        "play",
			Description: "Queue a track by URL or search terms",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "query",
					Description: "YouTube URL or search terms",
					Required:    true,
				},
			},
		},
		{
			Name:        "skip",
			Description: "Skip the current track",
		},
		{
			Name:        "queue",
			Description: "Show the playback queue",
		},
		{
			Name:        "help",
			Description: "List available commands",
		},
		{
			Name:        "version",
			Description: "Show the bot version",
		},
	}
}

// handleJoin connects the bot to the invoking member's voice channel.
func (mc *MusicCommands) handleJoin(r discord.Responder, i *discordgo.InteractionCreate) {
	userID := interactionUserID(i)
	channelID, ok := mc.voiceChannelOf(i.GuildID, userID)
	if !ok {
		discord.RespondEphemeral(r, i, "You need to be in a voice channel first.")
		return
	}

	discord.DeferReply(r, i)

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	if err := mc.manager.Join(ctx, i.GuildID, channelID); err != nil {
		discord.FollowUp(r, i, playbackErrorMessage(err))
		return
	}
	discord.FollowUp(r, i, fmt.Sprintf("Joined <#%s>.", channelID))
}

// handleLeave disconnects the bot and clears the queue.
func (mc *MusicCommands) handleLeave(r discord.Responder, i *discordgo.InteractionCreate) {
	if !mc.perms.IsDJ(i) {
		discord.RespondEphemeral(r, i, "You need the DJ role to do that.")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	if err := mc.manager.Leave(ctx, i.GuildID); err != nil {
		discord.RespondEphemeral(r, i, playbackErrorMessage(err))
		return
	}
	discord.Respond(r, i, "Left the voice channel.")
}

// handlePlay resolves the query and appends the track to the queue.
func (mc *MusicCommands) handlePlay(r discord.Responder, i *discordgo.InteractionCreate) {
	query := stringOption(i, "query")
	if query == "" {
		discord.RespondEphemeral(r, i, "Give me a URL or something to search for.")
		return
	}

	discord.DeferReply(r, i)

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	track, err := mc.manager.Enqueue(ctx, i.GuildID, query)
	if err != nil {
		discord.FollowUp(r, i, playbackErrorMessage(err))
		return
	}
	discord.FollowUp(r, i, fmt.Sprintf("Queued **%s**.", track.Title))
}

// handleSkip skips the track at the head of the queue.
func (mc *MusicCommands) handleSkip(r discord.Responder, i *discordgo.InteractionCreate) {
	if !mc.perms.IsDJ(i) {
		discord.RespondEphemeral(r, i, "You need the DJ role to do that.")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	if err := mc.manager.Skip(ctx, i.GuildID); err != nil {
		discord.RespondEphemeral(r, i, playbackErrorMessage(err))
		return
	}
	discord.Respond(r, i, "Skipped.")
}

// handleQueue renders the playback queue.
func (mc *MusicCommands) handleQueue(r discord.Responder, i *discordgo.InteractionCreate) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	rendered, err := mc.manager.RenderQueue(ctx, i.GuildID)
	if err != nil {
		discord.RespondEphemeral(r, i, playbackErrorMessage(err))
		return
	}
	discord.Respond(r, i, rendered)
}

// handleHelp lists the available commands.
func (mc *MusicCommands) handleHelp(r discord.Responder, i *discordgo.InteractionCreate) {
	help := "**Cadenza commands**\n" +
		"`/join` - join your voice channel\n" +
		"`/leave` - leave and clear the queue\n" +
		"`/play <query>` - queue a URL or search result\n" +
		"`/skip` - skip the current track\n" +
		"`/queue` - show the queue\n" +
		"`/version` - show the bot version"
	discord.RespondEphemeral(r, i, help)
}

// handleVersion reports the running version.
func (mc *MusicCommands) handleVersion(r discord.Responder, i *discordgo.InteractionCreate) {
	discord.RespondEphemeral(r, i, fmt.Sprintf("Cadenza %s", mc.version))
}

// playbackErrorMessage maps manager and resolver errors to user-facing
// replies. Unknown errors surface generically so internals stay internal.
func playbackErrorMessage(err error) string {
	switch {
	case errors.Is(err, session.ErrNoActiveSession):
		return "I'm not in a voice channel."
	case errors.Is(err, session.ErrNotConnected):
		return "I'm not in a voice channel. Use `/join` first."
	case errors.Is(err, session.ErrQueueEmpty):
		return "The queue is empty, nothing to skip."
	case errors.Is(err, session.ErrNotInVoiceChannel):
		return "You need to be in a voice channel first."
	case errors.Is(err, resolver.ErrNoResults):
		return "No results found for that query."
	case errors.Is(err, session.ErrTransportFailure):
		return "Couldn't connect to the voice channel, try again."
	case errors.Is(err, context.DeadlineExceeded):
		return "That took too long, try again."
	default:
		return "Something went wrong, check the logs."
	}
}

// stringOption extracts a required string option from the interaction.
func stringOption(i *discordgo.InteractionCreate, name string) string {
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Name == name && opt.Type == discordgo.ApplicationCommandOptionString {
			return opt.StringValue()
		}
	}
	return ""
}

// interactionUserID returns the invoking user's ID for both guild and DM
// interactions.
func interactionUserID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}
