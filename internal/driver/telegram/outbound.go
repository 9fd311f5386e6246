package telegram

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"snipebot/pkg/snipebot"

	"github.com/gotd/td/crypto"
	gotdtelegram "github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/message/unpack"
	"github.com/gotd/td/tg"
)

const (
	defaultOutboundTimeout = 3 * time.Second
	// maxMessageUTF16 is the Telegram text limit counted in UTF-16 code units.
	maxMessageUTF16 = 4096
)

type outboundConfig struct {
	rpcTimeout time.Duration
	logger     *slog.Logger
	sink       snipebot.SinkRef
}

// OutboundOption mutates outbound dispatcher configuration.
type OutboundOption func(*outboundConfig)

// WithOutboundTimeout bounds each send RPC.
func WithOutboundTimeout(timeout time.Duration) OutboundOption {
	return func(cfg *outboundConfig) {
		if timeout > 0 {
			cfg.rpcTimeout = timeout
		}
	}
}

// WithOutboundLogger logs every sent message at debug level.
func WithOutboundLogger(logger *slog.Logger) OutboundOption {
	return func(cfg *outboundConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithSinkRef names the sink reported in outbound errors.
func WithSinkRef(ref snipebot.SinkRef) OutboundOption {
	return func(cfg *outboundConfig) {
		cfg.sink = snipebot.SinkRef{Platform: cmp.Or(ref.Platform, DriverPlatform), ID: ref.ID}
	}
}

// SinkDispatcher sends snipebot messages as Telegram text messages to peers
// the PeerCache has seen.
type SinkDispatcher struct {
	cfg   outboundConfig
	peers *PeerCache
	rpc   outboundRPC
}

// NewOutboundDispatcher creates a dispatcher sending through client.
func NewOutboundDispatcher(
	client *gotdtelegram.Client,
	peers *PeerCache,
	options ...OutboundOption,
) (*SinkDispatcher, error) {
	if client == nil {
		return nil, fmt.Errorf("new telegram outbound dispatcher: nil client")
	}

	return newOutboundDispatcherWithRPC(newGotdOutboundRPC(client), peers, options...)
}

func newOutboundDispatcherWithRPC(
	rpc outboundRPC,
	peers *PeerCache,
	options ...OutboundOption,
) (*SinkDispatcher, error) {
	switch {
	case rpc == nil:
		return nil, fmt.Errorf("new telegram outbound dispatcher: nil rpc adapter")
	case peers == nil:
		return nil, fmt.Errorf("new telegram outbound dispatcher: nil peer cache")
	}

	cfg := outboundConfig{
		rpcTimeout: defaultOutboundTimeout,
		logger:     slog.New(slog.DiscardHandler),
		sink:       snipebot.SinkRef{Platform: DriverPlatform},
	}
	for _, option := range options {
		option(&cfg)
	}

	return &SinkDispatcher{cfg: cfg, peers: peers, rpc: rpc}, nil
}

// SendMessage sends request to its conversation. Telegram has no cards, so
// an embed is rendered as styled text after the plain text.
func (d *SinkDispatcher) SendMessage(
	ctx context.Context,
	request snipebot.SendMessageRequest,
) (*snipebot.OutboundMessage, error) {
	if err := request.Validate(); err != nil {
		return nil, fmt.Errorf("send message validate: %w", err)
	}
	if sink := request.Target.Sink; sink != nil && sink.Platform != "" && sink.Platform != DriverPlatform {
		return nil, fmt.Errorf("send message: %w: platform %s", snipebot.ErrOutboundUnsupported, sink.Platform)
	}
	conversation := request.Target.Conversation
	peer, err := d.peers.Resolve(conversation)
	if err != nil {
		return nil, fmt.Errorf("send message to %s: %w", conversation.ID, err)
	}

	text := renderMessage(request)
	text.noWebpage = request.DisableLinkPreview
	if request.ReplyToMessageID != "" {
		if text.replyTo, err = parseMessageID(request.ReplyToMessageID); err != nil {
			return nil, fmt.Errorf("send message reply to %s: %w", request.ReplyToMessageID, err)
		}
	}

	rpcCtx, cancel := context.WithTimeout(ctx, d.cfg.rpcTimeout)
	defer cancel()

	id, err := d.rpc.SendText(rpcCtx, peer, text)
	if err != nil {
		return nil, fmt.Errorf("send message to %s: %w",
			conversation.ID, mapTelegramOutboundError(snipebot.OutboundOperationSendMessage, d.cfg.sink, err))
	}

	d.cfg.logger.DebugContext(ctx, "telegram message sent",
		"sink", d.cfg.sink.ID,
		"conversation", conversation.ID,
		"conversation_type", conversation.Type,
		"message_id", id,
		"reply_to", request.ReplyToMessageID,
		"embed", request.Embed != nil,
	)

	return &snipebot.OutboundMessage{ID: strconv.Itoa(id), Target: request.Target}, nil
}

func parseMessageID(raw string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || value <= 0 {
		return 0, fmt.Errorf("%w: invalid message id %q", snipebot.ErrInvalidOutboundRequest, raw)
	}

	return value, nil
}

// outboundText is one rendered Telegram message.
type outboundText struct {
	text      string
	entities  []tg.MessageEntityClass
	replyTo   int
	noWebpage bool
}

// renderMessage lays out the request text followed by the embed:
// bold author, description, bold field names over their values, the image
// link when it is publicly reachable and an italic footer.
func renderMessage(request snipebot.SendMessageRequest) outboundText {
	builder := newTextBuilder(maxMessageUTF16)
	if request.Text != "" {
		builder.write(request.Text, nil)
	}

	if embed := request.Embed; embed != nil {
		if embed.AuthorName != "" {
			builder.block()
			builder.write(embed.AuthorName, boldEntity)
		}
		if embed.Description != "" {
			builder.block()
			builder.writeMarkdownItalics(embed.Description)
		}
		for _, field := range embed.Fields {
			builder.block()
			builder.write(field.Name, boldEntity)
			builder.newline()
			builder.writeMarkdownItalics(field.Value)
		}
		if embed.ImageURL != "" && !strings.HasPrefix(embed.ImageURL, mediaURIScheme) {
			builder.block()
			builder.write(embed.ImageURL, nil)
		}
		if embed.Footer != "" {
			builder.block()
			builder.write(embed.Footer, italicEntity)
		}
	}

	return outboundText{
		text:     builder.String(),
		entities: builder.entities,
	}
}

type entityFactory func(offset int, length int) tg.MessageEntityClass

func boldEntity(offset int, length int) tg.MessageEntityClass {
	return &tg.MessageEntityBold{Offset: offset, Length: length}
}

func italicEntity(offset int, length int) tg.MessageEntityClass {
	return &tg.MessageEntityItalic{Offset: offset, Length: length}
}

// textBuilder accumulates text and entities with offsets in UTF-16 code
// units, silently truncating once limit units are written.
type textBuilder struct {
	buf      strings.Builder
	entities []tg.MessageEntityClass
	units    int
	limit    int
}

func newTextBuilder(limit int) *textBuilder {
	return &textBuilder{limit: limit}
}

func (b *textBuilder) String() string {
	return b.buf.String()
}

// block separates a new paragraph from previous content.
func (b *textBuilder) block() {
	if b.units > 0 {
		b.write("\n", nil)
	}
}

func (b *textBuilder) newline() {
	b.write("\n", nil)
}

func (b *textBuilder) write(text string, entity entityFactory) {
	start := b.units
	for _, value := range text {
		width := utf16RuneLength(value)
		if b.units+width > b.limit {
			break
		}
		b.buf.WriteRune(value)
		b.units += width
	}
	if entity != nil && b.units > start {
		b.entities = append(b.entities, entity(start, b.units-start))
	}
}

// writeMarkdownItalics writes text, turning *segments* into italic entities.
// An unpaired asterisk is written as is.
func (b *textBuilder) writeMarkdownItalics(text string) {
	for text != "" {
		open := strings.IndexByte(text, '*')
		if open < 0 {
			b.write(text, nil)
			return
		}
		closing := strings.IndexByte(text[open+1:], '*')
		if closing <= 0 {
			b.write(text, nil)
			return
		}
		b.write(text[:open], nil)
		b.write(text[open+1:open+1+closing], italicEntity)
		text = text[open+closing+2:]
	}
}

func utf16RuneLength(value rune) int {
	if value >= 0x10000 && value <= 0x10FFFF {
		return 2
	}

	return 1
}

type outboundRPC interface {
	SendText(ctx context.Context, peer tg.InputPeerClass, text outboundText) (int, error)
}

type gotdOutboundRPC struct {
	raw  *tg.Client
	rand io.Reader
}

func newGotdOutboundRPC(client *gotdtelegram.Client) gotdOutboundRPC {
	return gotdOutboundRPC{
		raw:  client.API(),
		rand: crypto.DefaultRand(),
	}
}

func (r gotdOutboundRPC) SendText(
	ctx context.Context,
	peer tg.InputPeerClass,
	text outboundText,
) (int, error) {
	sendRequest := &tg.MessagesSendMessageRequest{
		Peer:      peer,
		Message:   text.text,
		NoWebpage: text.noWebpage,
		Entities:  text.entities,
	}
	if text.replyTo > 0 {
		sendRequest.ReplyTo = &tg.InputReplyToMessage{ReplyToMsgID: text.replyTo}
	}

	randomID, err := crypto.RandInt64(r.rand)
	if err != nil {
		return 0, fmt.Errorf("send text random id: %w", err)
	}
	sendRequest.RandomID = randomID

	updates, err := r.raw.MessagesSendMessage(ctx, sendRequest)
	if err != nil {
		return 0, fmt.Errorf("send text: %w", err)
	}

	messageID, err := unpack.MessageID(updates, nil)
	if err != nil {
		return 0, fmt.Errorf("extract sent message id: %w", err)
	}

	return messageID, nil
}
