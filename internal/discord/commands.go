package discord

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"groovebot/internal/music/session"
)

const (
	signalTimeout = 10 * time.Second
	playTimeout   = 45 * time.Second
)

var slashCommands = []*discordgo.ApplicationCommand{
	{
		Name:        "play",
		Description: "Play a track by link or search query",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "query",
				Description: "Link to youtube or song name",
				Required:    true,
			},
		},
	},
	{
		Name:        "join",
		Description: "Join your voice channel",
	},
	{
		Name:        "pause",
		Description: "Pause playback",
	},
	{
		Name:        "resume",
		Description: "Resume paused playback",
	},
	{
		Name:        "skip",
		Description: "Skip the current track",
	},
	{
		Name:        "stop",
		Description: "Stop playback and clear the queue",
	},
	{
		Name:        "queue",
		Description: "Show the current queue",
	},
	{
		Name:        "volume",
		Description: "Set the playback volume",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionInteger,
				Name:        "percent",
				Description: "Volume from 0 to 200 (100 = source level)",
				Required:    true,
			},
		},
	},
	{
		Name:        "leave",
		Description: "Leave the voice channel",
	},
}

// registerCommands upserts the slash command set for one guild.
func (b *Bot) registerCommands(guildID string) error {
	appID := b.dg.State.User.ID
	if appID == "" {
		user, err := b.dg.User("@me")
		if err != nil {
			return err
		}
		appID = user.ID
	}

	for _, cmd := range slashCommands {
		if _, err := b.dg.ApplicationCommandCreate(appID, guildID, cmd); err != nil {
			return fmt.Errorf("can't create command %s: %w", cmd.Name, err)
		}
	}
	return nil
}

func (b *Bot) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	if i.GuildID == "" || i.Member == nil {
		respond(s, i, "🎵 Error: music commands only work in a server")
		return
	}

	name := i.ApplicationCommandData().Name
	switch name {
	case "play":
		b.handlePlay(s, i)
	case "join":
		b.handleJoin(s, i)
	case "pause":
		b.handleSignal(s, i, "⏸️ Paused.", b.sessionOp((*session.Session).Pause))
	case "resume":
		b.handleSignal(s, i, "▶️ Resumed.", b.sessionOp((*session.Session).Resume))
	case "skip":
		b.handleSkip(s, i)
	case "stop":
		b.handleSignal(s, i, "⏹️ Stopped and cleared the queue.", b.sessionOp((*session.Session).Stop))
	case "queue":
		b.handleQueue(s, i)
	case "volume":
		b.handleVolume(s, i)
	case "leave":
		b.handleSignal(s, i, "👋 Left the voice channel.", b.sessionOp((*session.Session).Leave))
	default:
		log.Printf("[Bot] Unknown command: %s", name)
	}
}

// sessionOp adapts a session method into a guild-scoped op, failing on guilds
// that never created a session.
func (b *Bot) sessionOp(op func(*session.Session, context.Context) error) func(ctx context.Context, guildID string) error {
	return func(ctx context.Context, guildID string) error {
		sess, ok := b.registry.Get(guildID)
		if !ok {
			return &session.StateConflictError{Reason: "nothing is playing in this server"}
		}
		return op(sess, ctx)
	}
}

func (b *Bot) handlePlay(s *discordgo.Session, i *discordgo.InteractionCreate) {
	query := stringOption(i, "query")
	if query == "" {
		respond(s, i, "🎵 Error: query is required")
		return
	}

	// resolution can take seconds; defer and follow up
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	}); err != nil {
		log.Printf("[Bot] Failed to send deferred response: %v", err)
		return
	}

	channelID, err := b.FindUserVoiceState(i.GuildID, i.Member.User.ID)
	if err != nil {
		followup(s, i, fmt.Sprintf("🎵 Error: %v", err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), playTimeout)
	defer cancel()

	sess := b.registry.GetOrCreate(i.GuildID)
	res, err := sess.Play(ctx, query, i.Member.User.Username, channelID, i.ChannelID)
	if err != nil {
		followup(s, i, "🎵 "+friendlyError(err))
		return
	}

	if res.QueueLength > 0 {
		followup(s, i, fmt.Sprintf("🎵 Queued **%s** at position %d", res.Track.Title, res.QueueLength))
	} else {
		followup(s, i, fmt.Sprintf("🎵 Now playing: **%s**\n%s", res.Track.Title, res.Track.SourceURL))
	}
}

func (b *Bot) handleJoin(s *discordgo.Session, i *discordgo.InteractionCreate) {
	channelID, err := b.FindUserVoiceState(i.GuildID, i.Member.User.ID)
	if err != nil {
		respond(s, i, fmt.Sprintf("🎵 Error: %v", err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), signalTimeout)
	defer cancel()

	if err := b.registry.GetOrCreate(i.GuildID).Join(ctx, channelID); err != nil {
		respond(s, i, "🎵 "+friendlyError(err))
		return
	}
	respond(s, i, "🔊 Joined your voice channel.")
}

func (b *Bot) handleSignal(s *discordgo.Session, i *discordgo.InteractionCreate, okMsg string, op func(ctx context.Context, guildID string) error) {
	ctx, cancel := context.WithTimeout(context.Background(), signalTimeout)
	defer cancel()

	if err := op(ctx, i.GuildID); err != nil {
		respond(s, i, "🎵 "+friendlyError(err))
		return
	}
	respond(s, i, okMsg)
}

func (b *Bot) handleSkip(s *discordgo.Session, i *discordgo.InteractionCreate) {
	sess, ok := b.registry.Get(i.GuildID)
	if !ok {
		respond(s, i, "🎵 Nothing is playing in this server")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), signalTimeout)
	defer cancel()

	next, err := sess.Skip(ctx)
	if err != nil {
		respond(s, i, "🎵 "+friendlyError(err))
		return
	}
	if next != nil {
		respond(s, i, fmt.Sprintf("⏭️ Skipped. Now playing: **%s**", next.Title))
	} else {
		respond(s, i, "⏭️ Skipped. The queue is empty.")
	}
}

func (b *Bot) handleQueue(s *discordgo.Session, i *discordgo.InteractionCreate) {
	sess, ok := b.registry.Get(i.GuildID)
	if !ok {
		respond(s, i, "🎵 Nothing is playing in this server")
		return
	}

	snap := sess.Snapshot()
	if snap.NowPlaying == nil && len(snap.Queue) == 0 {
		respond(s, i, "🎵 The queue is empty.")
		return
	}

	var sb strings.Builder
	if snap.NowPlaying != nil {
		fmt.Fprintf(&sb, "▶️ **%s** (requested by %s)\n", snap.NowPlaying.Title, snap.NowPlaying.RequestedBy)
	}
	for n, track := range snap.Queue {
		fmt.Fprintf(&sb, "%d. **%s** (requested by %s)\n", n+1, track.Title, track.RequestedBy)
	}
	fmt.Fprintf(&sb, "\nVolume: %d%% | Status: %s", snap.VolumePercent, snap.Status)

	respond(s, i, sb.String())
}

func (b *Bot) handleVolume(s *discordgo.Session, i *discordgo.InteractionCreate) {
	percent := intOption(i, "percent")

	sess, ok := b.registry.Get(i.GuildID)
	if !ok {
		respond(s, i, "🎵 Nothing is playing in this server")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), signalTimeout)
	defer cancel()

	if err := sess.SetVolume(ctx, percent); err != nil {
		respond(s, i, "🎵 "+friendlyError(err))
		return
	}
	respond(s, i, fmt.Sprintf("🔊 Volume set to %d%%", percent))
}

// friendlyError keeps chat replies short; the full error goes to the log.
func friendlyError(err error) string {
	log.Printf("[Bot] Command failed: %v", err)

	switch e := err.(type) {
	case *session.ValidationError:
		return "Error: " + e.Reason
	case *session.StateConflictError:
		return e.Reason
	case *session.ResolutionError:
		return fmt.Sprintf("Couldn't find a playable track for %q", e.Query)
	case *session.ConnectionError:
		return "Couldn't connect to the voice channel, try again"
	default:
		return fmt.Sprintf("Error: %v", err)
	}
}

func stringOption(i *discordgo.InteractionCreate, name string) string {
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Name == name {
			return opt.StringValue()
		}
	}
	return ""
}

func intOption(i *discordgo.InteractionCreate, name string) int {
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Name == name {
			return int(opt.IntValue())
		}
	}
	return 0
}

func respond(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: content},
	})
	if err != nil {
		log.Printf("[Bot] Failed to respond to interaction: %v", err)
	}
}

func followup(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	if _, err := s.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{Content: content}); err != nil {
		log.Printf("[Bot] Failed to send followup: %v", err)
	}
}
