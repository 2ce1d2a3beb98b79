package voice

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
)

// DiscordDialer joins voice channels through the gateway session.
type DiscordDialer struct {
	Session *discordgo.Session
}

func (d *DiscordDialer) Dial(ctx context.Context, guildID, channelID string) (Transport, error) {
	type joined struct {
		vc  *discordgo.VoiceConnection
		err error
	}
	ch := make(chan joined, 1)

	// ChannelVoiceJoin blocks until the handshake completes and has its own
	// internal timeout; run it aside so ctx cancellation is honored
	go func() {
		vc, err := d.Session.ChannelVoiceJoin(guildID, channelID, false, true)
		ch <- joined{vc, err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if j := <-ch; j.vc != nil {
				_ = j.vc.Disconnect()
			}
		}()
		return nil, ctx.Err()
	case j := <-ch:
		if j.err != nil {
			return nil, j.err
		}
		return &discordTransport{vc: j.vc}, nil
	}
}

// discordTransport adapts a gateway voice connection to the Transport seam.
type discordTransport struct {
	vc *discordgo.VoiceConnection
}

func (t *discordTransport) Speaking(on bool) error {
	return t.vc.Speaking(on)
}

func (t *discordTransport) Send(ctx context.Context, frame []byte) error {
	timer := time.NewTimer(stallTimeout)
	defer timer.Stop()

	select {
	case t.vc.OpusSend <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("%w after %s", errSendStalled, stallTimeout)
	}
}

func (t *discordTransport) Close() error {
	return t.vc.Disconnect()
}
