package config

import (
	"fmt"
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all process configuration, loaded from the environment.
type Config struct {
	DiscordToken string `env:"DISCORD_TOKEN,required"`

	APIAddr  string `env:"API_ADDR" envDefault:":8080"`
	APIToken string `env:"API_TOKEN"`

	ResolveTimeout time.Duration `env:"RESOLVE_TIMEOUT" envDefault:"20s"`
	IdleTimeout    time.Duration `env:"IDLE_TIMEOUT" envDefault:"5m"`

	VoiceReconnectAttempts int `env:"VOICE_RECONNECT_ATTEMPTS" envDefault:"4"`

	YTDLPPath  string `env:"YTDLP_PATH" envDefault:"yt-dlp"`
	FFmpegPath string `env:"FFMPEG_PATH" envDefault:"ffmpeg"`
}

// New loads .env (if present) and parses the environment into a Config.
func New() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("[INFO] No .env file found, falling back to system environment variables")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
