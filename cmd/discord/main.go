// cmd/discord/main.go
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"groovebot/internal/api"
	"groovebot/internal/config"
	"groovebot/internal/discord"
	"groovebot/internal/music/pipeline"
	"groovebot/internal/music/resolver"
	"groovebot/internal/music/session"
	"groovebot/internal/music/voice"
	v "groovebot/internal/version"
)

// pipelineFactory narrows *pipeline.Pipeline to the session's interface.
type pipelineFactory struct {
	f *pipeline.Factory
}

func (p pipelineFactory) Start(ctx context.Context, track *resolver.Track, volumePercent int) (session.Pipeline, error) {
	return p.f.Start(ctx, track, volumePercent)
}

// connectorFunc lets a closure satisfy session.VoiceConnector.
type connectorFunc func(ctx context.Context, guildID, channelID string) (session.VoiceConn, error)

func (f connectorFunc) Connect(ctx context.Context, guildID, channelID string) (session.VoiceConn, error) {
	return f(ctx, guildID, channelID)
}

func main() {
	log.Printf("[INFO] Starting %v v%v...", v.AppName, v.AppVersion)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.New()
	if err != nil {
		log.Fatal(err)
	}

	events := make(chan session.Event, 64)

	// the voice supervisor needs the gateway session, which the bot owns;
	// the registry is wired through a closure resolved before the bot runs
	var supervisor *voice.Supervisor

	registry := session.NewRegistry(session.Deps{
		Resolver:       resolver.NewAuto(cfg.YTDLPPath),
		Pipelines:      pipelineFactory{f: pipeline.NewFactory(cfg.FFmpegPath)},
		Voice: connectorFunc(func(ctx context.Context, guildID, channelID string) (session.VoiceConn, error) {
			return supervisor.Connect(ctx, guildID, channelID)
		}),
		ResolveTimeout: cfg.ResolveTimeout,
		Events:         events,
	})

	bot, err := discord.NewBot(cfg.DiscordToken, registry, events)
	if err != nil {
		log.Fatal(err)
	}
	supervisor = voice.NewSupervisor(&voice.DiscordDialer{Session: bot.Session()}, cfg.VoiceReconnectAttempts)

	go registry.Sweep(ctx, cfg.IdleTimeout)

	apiServer := api.NewServer(cfg.APIAddr, cfg.APIToken, &api.RegistryController{Registry: registry}, bot)

	errCh := make(chan error, 2)
	go func() { errCh <- bot.Run(ctx) }()
	go func() { errCh <- apiServer.Run(ctx) }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sig:
		log.Printf("[INFO] Received signal %s, shutting down...", s)
		cancel()
	case err := <-errCh:
		if err != nil {
			log.Println("[ERR] Service error:", err)
		}
		cancel()
	}

	log.Printf("[INFO] %v exited cleanly", v.AppName)
}
