package discord

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"snipebot/pkg/snipebot"
)

const defaultPublishTimeout = 2 * time.Second

// Presence is the bot status. Status is one of online, idle, dnd or
// invisible; Watching names a "watching" activity when set.
type Presence struct {
	Status   string
	Watching string
}

type driverConfig struct {
	name           string
	publishTimeout time.Duration
	presence       Presence
	onAsyncError   func(context.Context, error)
}

// DriverOption mutates Discord driver configuration.
type DriverOption func(*driverConfig)

// WithName sets the instance name used as event source and sink id.
func WithName(name string) DriverOption {
	return func(cfg *driverConfig) {
		if name != "" {
			cfg.name = name
		}
	}
}

// WithPublishTimeout bounds how long one event may wait on the sink.
func WithPublishTimeout(timeout time.Duration) DriverOption {
	return func(cfg *driverConfig) {
		if timeout > 0 {
			cfg.publishTimeout = timeout
		}
	}
}

// WithPresence configures the status applied on every READY.
func WithPresence(presence Presence) DriverOption {
	return func(cfg *driverConfig) {
		cfg.presence = presence
	}
}

// WithErrorHandler receives failures raised on gateway goroutines, which
// have no caller to return to.
func WithErrorHandler(handler func(context.Context, error)) DriverOption {
	return func(cfg *driverConfig) {
		if handler != nil {
			cfg.onAsyncError = handler
		}
	}
}

// gatewaySession is the subset of *discordgo.Session the driver drives.
type gatewaySession interface {
	AddHandler(handler interface{}) func()
	Open() error
	Close() error
	UpdateStatusComplex(usd discordgo.UpdateStatusData) error
}

// Driver turns gateway message events into neutral events. The session
// belongs to the driver between Start and its return.
type Driver struct {
	cfg     driverConfig
	session gatewaySession
	decoder Decoder
}

// NewDriver creates a Discord driver over one gateway session.
func NewDriver(session gatewaySession, decoder Decoder, options ...DriverOption) (*Driver, error) {
	if session == nil {
		return nil, fmt.Errorf("new discord driver: nil session")
	}

	cfg := driverConfig{
		name:           DriverType,
		publishTimeout: defaultPublishTimeout,
		onAsyncError:   func(context.Context, error) {},
	}
	for _, option := range options {
		option(&cfg)
	}

	return &Driver{cfg: cfg, session: session, decoder: decoder}, nil
}

func (d *Driver) Name() string {
	return d.cfg.name
}

// Start registers the gateway handlers, opens the websocket and blocks until
// ctx ends. Handlers are removed again whatever the outcome.
func (d *Driver) Start(ctx context.Context, sink snipebot.EventSink) error {
	if sink == nil {
		return fmt.Errorf("start discord driver: nil sink")
	}

	for _, remove := range []func(){
		d.session.AddHandler(func(*discordgo.Session, *discordgo.Ready) { d.applyPresence(ctx) }),
		d.session.AddHandler(relay(d, ctx, sink, "message_create", d.decoder.DecodeCreate)),
		d.session.AddHandler(relay(d, ctx, sink, "message_update", d.decoder.DecodeUpdate)),
		d.session.AddHandler(relay(d, ctx, sink, "message_delete", d.decoder.DecodeDelete)),
	} {
		defer remove()
	}

	if err := d.session.Open(); err != nil {
		return fmt.Errorf("start discord driver: open gateway: %w", err)
	}
	<-ctx.Done()
	if err := d.session.Close(); err != nil {
		return fmt.Errorf("start discord driver: close gateway: %w", err)
	}

	return nil
}

// Shutdown is a no-op; Start closes the gateway when its context ends.
func (d *Driver) Shutdown(context.Context) error {
	return nil
}

// relay builds the discordgo handler for one payload type. discordgo picks
// handlers by their concrete func type, which P fixes.
func relay[P any](
	d *Driver,
	ctx context.Context,
	sink snipebot.EventSink,
	payloadType string,
	decode func(P) (*snipebot.Event, error),
) func(*discordgo.Session, P) {
	return func(_ *discordgo.Session, payload P) {
		event, err := decodeSafely(payloadType, func() (*snipebot.Event, error) { return decode(payload) })
		switch {
		case err != nil:
			d.cfg.onAsyncError(ctx, err)
		case event != nil:
			d.publish(ctx, sink, payloadType, event)
		}
	}
}

func (d *Driver) publish(ctx context.Context, sink snipebot.EventSink, payloadType string, event *snipebot.Event) {
	event.Source = snipebot.EventSource{Platform: DriverPlatform, ID: d.cfg.name}

	publishCtx, cancel := context.WithTimeout(ctx, d.cfg.publishTimeout)
	defer cancel()

	if err := sink.Publish(publishCtx, event); err != nil {
		d.cfg.onAsyncError(ctx, fmt.Errorf("publish discord %s %s: %w", payloadType, event.ID, err))
	}
}

// applyPresence runs on every READY, since discordgo forgets the status
// across reconnects.
func (d *Driver) applyPresence(ctx context.Context) {
	presence := d.cfg.presence
	if presence == (Presence{}) {
		return
	}

	status := discordgo.UpdateStatusData{Status: presence.Status}
	if presence.Watching != "" {
		status.Activities = []*discordgo.Activity{{Name: presence.Watching, Type: discordgo.ActivityTypeWatching}}
	}
	if err := d.session.UpdateStatusComplex(status); err != nil {
		sink := snipebot.SinkRef{Platform: DriverPlatform, ID: d.cfg.name}
		d.cfg.onAsyncError(ctx, mapDiscordOutboundError(snipebot.OutboundOperationSetPresence, sink, err))
	}
}

// decodeSafely turns a decoder panic into an error so one malformed payload
// cannot kill the gateway goroutine.
func decodeSafely(payloadType string, decode func() (*snipebot.Event, error)) (event *snipebot.Event, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			event, err = nil, fmt.Errorf("decode discord %s: panic: %v", payloadType, recovered)
		}
	}()

	if event, err = decode(); err != nil {
		return nil, fmt.Errorf("decode discord %s: %w", payloadType, err)
	}

	return event, nil
}
