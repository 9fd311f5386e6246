package discord

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"

	"snipebot/pkg/snipebot"
)

// RuntimeConfig carries everything needed to open one bot session.
type RuntimeConfig struct {
	// Token is the bot token without the "Bot " scheme.
	Token string
	// Presence is applied on every READY.
	Presence Presence
	// StateMessages bounds how many messages per channel discordgo keeps so
	// deletions and edits can report their previous content.
	StateMessages int
	// PublishTimeout bounds one event publish into the kernel.
	PublishTimeout time.Duration
	// OutboundTimeout bounds one REST call.
	OutboundTimeout time.Duration
}

// Runtime groups the components built for one Discord session.
type Runtime struct {
	Source     snipebot.EventSource
	Driver     *Driver
	Dispatcher *SinkDispatcher
	Members    *MemberDirectory
}

// BuildRuntime creates the gateway driver, the outbound dispatcher and the
// member directory sharing one discordgo session.
func BuildRuntime(name string, logger *slog.Logger, cfg RuntimeConfig) (Runtime, error) {
	if cfg.Token == "" {
		return Runtime{}, fmt.Errorf("build discord runtime %s: empty token", name)
	}
	if logger == nil {
		logger = slog.Default()
	}

	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return Runtime{}, fmt.Errorf("build discord runtime %s: new session: %w", name, err)
	}
	session.Identify.Intents = discordgo.IntentGuilds |
		discordgo.IntentGuildMessages |
		discordgo.IntentMessageContent
	session.StateEnabled = true
	session.State.MaxMessageCount = cfg.StateMessages
	// Handlers must observe messages in gateway order.
	session.SyncEvents = true
	session.ShouldRetryOnRateLimit = false

	source := snipebot.EventSource{Platform: DriverPlatform, ID: name}
	sink := snipebot.SinkRef{Platform: DriverPlatform, ID: name}

	driver, err := NewDriver(
		session,
		NewDecoder(),
		WithName(name),
		WithPresence(cfg.Presence),
		WithPublishTimeout(cfg.PublishTimeout),
		WithErrorHandler(func(ctx context.Context, err error) {
			logger.ErrorContext(ctx, "discord driver async error", "driver", name, "error", err)
		}),
	)
	if err != nil {
		return Runtime{}, fmt.Errorf("build discord runtime %s: %w", name, err)
	}

	dispatcher, err := NewOutboundDispatcher(
		session,
		WithOutboundTimeout(cfg.OutboundTimeout),
		WithOutboundLogger(logger),
		WithSinkRef(sink),
	)
	if err != nil {
		return Runtime{}, fmt.Errorf("build discord runtime %s: %w", name, err)
	}

	members, err := NewMemberDirectory(session, sink)
	if err != nil {
		return Runtime{}, fmt.Errorf("build discord runtime %s: %w", name, err)
	}

	return Runtime{
		Source:     source,
		Driver:     driver,
		Dispatcher: dispatcher,
		Members:    members,
	}, nil
}
