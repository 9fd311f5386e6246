package driver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"snipebot/internal/config"
	"snipebot/internal/driver/discord"
	"snipebot/internal/driver/telegram"
)

const (
	publishTimeout  = 2 * time.Second
	outboundTimeout = 5 * time.Second
	// discordStateMessages is how many messages per channel discordgo retains
	// for before-edit and before-delete payloads.
	discordStateMessages = 100
)

// NewBuiltinRegistry constructs the runtime registry with all built-in drivers
// bound to cfg.
func NewBuiltinRegistry(cfg *config.Config) (*Registry, error) {
	if cfg == nil {
		return nil, fmt.Errorf("new builtin registry: nil config")
	}

	return NewRegistry([]Descriptor{
		{
			Type:     discord.DriverType,
			Platform: discord.DriverPlatform,
			Builder: func(_ context.Context, definition Definition, logger *slog.Logger) (Runtime, error) {
				built, err := discord.BuildRuntime(definition.Name, logger, discord.RuntimeConfig{
					Token: cfg.DiscordToken,
					Presence: discord.Presence{
						Status:   cfg.PresenceStatus,
						Watching: cfg.PresenceActivity,
					},
					StateMessages:   discordStateMessages,
					PublishTimeout:  publishTimeout,
					OutboundTimeout: outboundTimeout,
				})
				if err != nil {
					return Runtime{}, fmt.Errorf("build discord runtime: %w", err)
				}

				return Runtime{
					Source:          built.Source,
					Driver:          built.Driver,
					SinkDispatcher:  built.Dispatcher,
					MemberDirectory: built.Members,
				}, nil
			},
		},
		{
			Type:     telegram.DriverType,
			Platform: telegram.DriverPlatform,
			Builder: func(_ context.Context, definition Definition, logger *slog.Logger) (Runtime, error) {
				built, err := telegram.BuildRuntime(definition.Name, logger, telegram.RuntimeConfig{
					AppID:           cfg.TelegramAppID,
					AppHash:         cfg.TelegramAppHash,
					BotToken:        cfg.TelegramBotToken,
					SessionFile:     cfg.TelegramSessionFile,
					QueueSize:       cfg.TelegramUpdateQueue,
					PublishTimeout:  publishTimeout,
					OutboundTimeout: outboundTimeout,
				})
				if err != nil {
					return Runtime{}, fmt.Errorf("build telegram runtime: %w", err)
				}

				return Runtime{
					Source:          built.Source,
					Driver:          built.Driver,
					SinkDispatcher:  built.Dispatcher,
					MemberDirectory: built.Members,
				}, nil
			},
		},
	})
}

// DefinitionsFromConfig returns the single driver selected by DRIVER.
func DefinitionsFromConfig(cfg *config.Config) []Definition {
	if cfg == nil {
		return nil
	}

	return []Definition{{
		Name:    cfg.Driver,
		Type:    cfg.Driver,
		Enabled: true,
	}}
}
