package discord

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"

	"snipebot/pkg/snipebot"
)

const defaultOutboundTimeout = 5 * time.Second

// OutboundOption mutates outbound dispatcher configuration.
type OutboundOption func(*outboundConfig)

// WithOutboundTimeout configures a timeout bound for each REST call.
func WithOutboundTimeout(timeout time.Duration) OutboundOption {
	return func(cfg *outboundConfig) {
		if timeout > 0 {
			cfg.restTimeout = timeout
		}
	}
}

// WithOutboundLogger configures structured logging for outbound operations.
func WithOutboundLogger(logger *slog.Logger) OutboundOption {
	return func(cfg *outboundConfig) {
		cfg.logger = logger
	}
}

// WithSinkRef configures the sink identity stamped on outbound errors.
func WithSinkRef(ref snipebot.SinkRef) OutboundOption {
	return func(cfg *outboundConfig) {
		cfg.sink = ref
		if cfg.sink.Platform == "" {
			cfg.sink.Platform = DriverPlatform
		}
	}
}

type outboundConfig struct {
	restTimeout time.Duration
	logger      *slog.Logger
	sink        snipebot.SinkRef
}

// restClient is the subset of *discordgo.Session used for REST calls.
type restClient interface {
	ChannelMessageSendComplex(
		channelID string,
		data *discordgo.MessageSend,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)
	GuildMember(guildID string, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error)
}

// SinkDispatcher adapts neutral outbound operations to Discord REST calls.
type SinkDispatcher struct {
	cfg  outboundConfig
	rest restClient
}

// NewOutboundDispatcher creates a Discord outbound dispatcher.
func NewOutboundDispatcher(rest restClient, options ...OutboundOption) (*SinkDispatcher, error) {
	if rest == nil {
		return nil, fmt.Errorf("new discord outbound dispatcher: nil rest client")
	}

	cfg := outboundConfig{
		restTimeout: defaultOutboundTimeout,
		sink:        snipebot.SinkRef{Platform: DriverPlatform},
	}
	for _, option := range options {
		option(&cfg)
	}

	return &SinkDispatcher{cfg: cfg, rest: rest}, nil
}

// SendMessage posts text and an optional embed to a Discord channel.
func (d *SinkDispatcher) SendMessage(
	ctx context.Context,
	request snipebot.SendMessageRequest,
) (*snipebot.OutboundMessage, error) {
	if err := request.Validate(); err != nil {
		return nil, fmt.Errorf("send message validate: %w", err)
	}
	if request.Target.Sink != nil && request.Target.Sink.Platform != "" &&
		request.Target.Sink.Platform != DriverPlatform {
		return nil, fmt.Errorf("%w: platform %s", snipebot.ErrOutboundUnsupported, request.Target.Sink.Platform)
	}

	restCtx, cancel := d.withTimeout(ctx)
	defer cancel()

	sent, err := d.rest.ChannelMessageSendComplex(
		request.Target.Conversation.ID,
		toMessageSend(request),
		discordgo.WithContext(restCtx),
	)
	if err != nil {
		return nil, fmt.Errorf(
			"send message to %s: %w",
			request.Target.Conversation.ID,
			mapDiscordOutboundError(snipebot.OutboundOperationSendMessage, d.cfg.sink, err),
		)
	}

	d.logOutbound(
		ctx,
		"send_message",
		"conversation", request.Target.Conversation.ID,
		"message_id", sent.ID,
		"reply_to_message_id", request.ReplyToMessageID,
		"embed", request.Embed != nil,
	)

	return &snipebot.OutboundMessage{
		ID:     sent.ID,
		Target: request.Target,
	}, nil
}

func (d *SinkDispatcher) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.cfg.restTimeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, d.cfg.restTimeout)
}

func (d *SinkDispatcher) logOutbound(ctx context.Context, operation string, attrs ...any) {
	if d.cfg.logger == nil {
		return
	}

	values := make([]any, 0, 4+len(attrs))
	values = append(values, "operation", operation, "platform", DriverPlatform)
	values = append(values, attrs...)
	d.cfg.logger.DebugContext(ctx, "discord outbound operation", values...)
}

func toMessageSend(request snipebot.SendMessageRequest) *discordgo.MessageSend {
	send := &discordgo.MessageSend{
		Content: request.Text,
		// Replayed content must never ping the people or roles it mentions.
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}
	if request.Embed != nil {
		send.Embeds = []*discordgo.MessageEmbed{toMessageEmbed(request.Embed)}
	} else if request.DisableLinkPreview {
		send.Flags = discordgo.MessageFlagsSuppressEmbeds
	}
	if request.ReplyToMessageID != "" {
		send.Reference = &discordgo.MessageReference{
			MessageID: request.ReplyToMessageID,
			ChannelID: request.Target.Conversation.ID,
		}
	}

	return send
}

func toMessageEmbed(embed *snipebot.Embed) *discordgo.MessageEmbed {
	converted := &discordgo.MessageEmbed{
		Description: embed.Description,
		Color:       embed.Color,
	}
	if embed.AuthorName != "" || embed.AuthorIconURL != "" {
		converted.Author = &discordgo.MessageEmbedAuthor{
			Name:    embed.AuthorName,
			IconURL: embed.AuthorIconURL,
		}
	}
	for _, field := range embed.Fields {
		converted.Fields = append(converted.Fields, &discordgo.MessageEmbedField{
			Name:   field.Name,
			Value:  field.Value,
			Inline: field.Inline,
		})
	}
	if embed.ImageURL != "" {
		converted.Image = &discordgo.MessageEmbedImage{URL: embed.ImageURL}
	}
	if embed.Footer != "" {
		converted.Footer = &discordgo.MessageEmbedFooter{Text: embed.Footer}
	}

	return converted
}
