package api

import (
	"context"

	"groovebot/internal/music/resolver"
	"groovebot/internal/music/session"
)

// RegistryController drives guild sessions through the registry. Play creates
// the session on demand; every other operation requires an existing one.
type RegistryController struct {
	Registry *session.Registry
}

func (c *RegistryController) Play(ctx context.Context, guildID, query, requestedBy, voiceChannelID, textChannelID string) (*session.PlayResult, error) {
	return c.Registry.GetOrCreate(guildID).Play(ctx, query, requestedBy, voiceChannelID, textChannelID)
}

func (c *RegistryController) Pause(ctx context.Context, guildID string) error {
	s, ok := c.Registry.Get(guildID)
	if !ok {
		return ErrUnknownGuild
	}
	return s.Pause(ctx)
}

func (c *RegistryController) Resume(ctx context.Context, guildID string) error {
	s, ok := c.Registry.Get(guildID)
	if !ok {
		return ErrUnknownGuild
	}
	return s.Resume(ctx)
}

func (c *RegistryController) Skip(ctx context.Context, guildID string) (*resolver.Track, error) {
	s, ok := c.Registry.Get(guildID)
	if !ok {
		return nil, ErrUnknownGuild
	}
	return s.Skip(ctx)
}

func (c *RegistryController) Stop(ctx context.Context, guildID string) error {
	s, ok := c.Registry.Get(guildID)
	if !ok {
		return ErrUnknownGuild
	}
	return s.Stop(ctx)
}

func (c *RegistryController) Leave(ctx context.Context, guildID string) error {
	s, ok := c.Registry.Get(guildID)
	if !ok {
		return ErrUnknownGuild
	}
	return s.Leave(ctx)
}

func (c *RegistryController) SetVolume(ctx context.Context, guildID string, percent int) error {
	s, ok := c.Registry.Get(guildID)
	if !ok {
		return ErrUnknownGuild
	}
	return s.SetVolume(ctx, percent)
}

func (c *RegistryController) Queue(guildID string) (session.Snapshot, error) {
	s, ok := c.Registry.Get(guildID)
	if !ok {
		return session.Snapshot{}, ErrUnknownGuild
	}
	return s.Snapshot(), nil
}

func (c *RegistryController) ConnectedCount() int {
	return c.Registry.ConnectedCount()
}
