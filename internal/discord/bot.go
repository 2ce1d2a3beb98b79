package discord

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"

	"groovebot/internal/music/session"
)

// Bot is the chat control surface: it owns the gateway session and translates
// slash commands into guild session operations.
type Bot struct {
	dg       *discordgo.Session
	registry *session.Registry
	events   <-chan session.Event

	ready  atomic.Bool
	userID atomic.Pointer[string]
}

func NewBot(token string, registry *session.Registry, events <-chan session.Event) (*Bot, error) {
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	b := &Bot{
		dg:       dg,
		registry: registry,
		events:   events,
	}

	dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates | discordgo.IntentsGuildMessages
	dg.AddHandler(b.onReady)
	dg.AddHandler(b.onGuildCreate)
	dg.AddHandler(b.onInteractionCreate)

	return b, nil
}

// Session exposes the gateway session for voice dialing.
func (b *Bot) Session() *discordgo.Session { return b.dg }

// Run opens the gateway and blocks until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.dg.Open(); err != nil {
		return fmt.Errorf("failed to open Discord session: %w", err)
	}
	defer b.dg.Close()

	go b.notifyLoop(ctx)

	<-ctx.Done()
	log.Println("[Bot] Shutdown signal received. Cleaning up...")
	return nil
}

// Ready reports whether the gateway handshake has completed.
func (b *Bot) Ready() bool { return b.ready.Load() }

// BotUserID returns the bot's own user id once ready.
func (b *Bot) BotUserID() string {
	if id := b.userID.Load(); id != nil {
		return *id
	}
	return ""
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	id := r.User.ID
	b.userID.Store(&id)
	b.ready.Store(true)

	for _, g := range r.Guilds {
		if err := b.registerCommands(g.ID); err != nil {
			log.Printf("[Bot] Error registering slash commands for guild %s: %v", g.ID, err)
		}
	}

	log.Printf("[Bot] ✅ Discord bot %s is running.", r.User.Username)
}

func (b *Bot) onGuildCreate(s *discordgo.Session, g *discordgo.GuildCreate) {
	if !b.ready.Load() {
		return
	}
	log.Printf("[Bot] Bot added to guild: %s (%s)", g.Guild.ID, g.Guild.Name)
	if err := b.registerCommands(g.Guild.ID); err != nil {
		log.Printf("[Bot] Failed to register commands for new guild %s: %v", g.Guild.ID, err)
	}
}

// FindUserVoiceState finds the voice channel the user currently sits in.
func (b *Bot) FindUserVoiceState(guildID, userID string) (string, error) {
	guild, err := b.dg.State.Guild(guildID)
	if err != nil {
		return "", fmt.Errorf("error retrieving guild: %w", err)
	}

	for _, vs := range guild.VoiceStates {
		if vs.UserID == userID {
			return vs.ChannelID, nil
		}
	}
	return "", fmt.Errorf("user is not in any voice channel")
}

// notifyLoop posts session notifications to the originating text channel.
func (b *Bot) notifyLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-b.events:
			if !ok {
				return
			}
			b.notify(evt)
		}
	}
}

func (b *Bot) notify(evt session.Event) {
	if evt.TextChannelID == "" {
		return
	}

	var content string
	switch evt.Kind {
	case session.EventNowPlaying:
		content = fmt.Sprintf("🎵 Now playing: **%s**\n%s", evt.Track.Title, evt.Track.SourceURL)
	case session.EventPlaybackError:
		content = fmt.Sprintf("🎵 Error: %v", evt.Err)
	case session.EventDisconnected:
		content = "🎵 Voice connection lost. Use /play to reconnect."
	default:
		return
	}

	if _, err := b.dg.ChannelMessageSend(evt.TextChannelID, content); err != nil {
		log.Printf("[Bot] Failed to post notification | guild=%s: %v", evt.GuildID, err)
	}
}
