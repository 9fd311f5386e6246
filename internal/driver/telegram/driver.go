package telegram

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gotd/td/tg"

	"snipebot/pkg/snipebot"
)

const (
	defaultPublishTimeout = 2 * time.Second
	defaultQueueSize      = 256
)

type driverConfig struct {
	name           string
	publishTimeout time.Duration
	queueSize      int
	peers          *PeerCache
	onAsyncError   func(context.Context, error)
}

// DriverOption mutates Telegram driver configuration.
type DriverOption func(*driverConfig)

// WithName configures the driver identity exposed to the kernel.
func WithName(name string) DriverOption {
	return func(cfg *driverConfig) {
		if name != "" {
			cfg.name = name
		}
	}
}

// WithPublishTimeout configures sink publish timeout per event.
func WithPublishTimeout(timeout time.Duration) DriverOption {
	return func(cfg *driverConfig) {
		if timeout > 0 {
			cfg.publishTimeout = timeout
		}
	}
}

// WithQueueSize bounds the decoded events waiting for the sink.
func WithQueueSize(size int) DriverOption {
	return func(cfg *driverConfig) {
		if size > 0 {
			cfg.queueSize = size
		}
	}
}

// WithPeerCache records the peers of every update for outbound calls and
// member lookups.
func WithPeerCache(cache *PeerCache) DriverOption {
	return func(cfg *driverConfig) {
		cfg.peers = cache
	}
}

// WithErrorHandler configures async callback errors.
func WithErrorHandler(handler func(context.Context, error)) DriverOption {
	return func(cfg *driverConfig) {
		if handler != nil {
			cfg.onAsyncError = handler
		}
	}
}

// sessionRunner runs fn inside an authenticated MTProto session.
type sessionRunner interface {
	Run(ctx context.Context, fn func(ctx context.Context) error) error
}

// Driver adapts Telegram updates into neutral events.
//
// gotd calls the dispatcher handlers on its connection goroutine, so they only
// decode and enqueue; Start publishes from the queue at the sink's pace.
type Driver struct {
	cfg     driverConfig
	session sessionRunner
	decoder Decoder
	queue   chan *snipebot.Event
}

// NewDriver creates a Telegram driver and registers its handlers on updates,
// which must be the UpdateHandler of the client behind session.
func NewDriver(
	session sessionRunner,
	updates tg.UpdateDispatcher,
	decoder Decoder,
	options ...DriverOption,
) (*Driver, error) {
	if session == nil {
		return nil, fmt.Errorf("new telegram driver: nil session")
	}

	cfg := driverConfig{
		name:           DriverType,
		publishTimeout: defaultPublishTimeout,
		queueSize:      defaultQueueSize,
		onAsyncError:   func(context.Context, error) {},
	}
	for _, option := range options {
		option(&cfg)
	}

	d := &Driver{
		cfg:     cfg,
		session: session,
		decoder: decoder,
		queue:   make(chan *snipebot.Event, cfg.queueSize),
	}
	d.route(updates)

	return d, nil
}

func (d *Driver) route(updates tg.UpdateDispatcher) {
	updates.OnNewMessage(func(ctx context.Context, e tg.Entities, update *tg.UpdateNewMessage) error {
		return d.enqueue(ctx, e, update.TypeName(), func() ([]*snipebot.Event, error) {
			return single(d.decoder.DecodeMessage(e, update.Message))
		})
	})
	updates.OnNewChannelMessage(func(ctx context.Context, e tg.Entities, update *tg.UpdateNewChannelMessage) error {
		return d.enqueue(ctx, e, update.TypeName(), func() ([]*snipebot.Event, error) {
			return single(d.decoder.DecodeMessage(e, update.Message))
		})
	})
	updates.OnEditMessage(func(ctx context.Context, e tg.Entities, update *tg.UpdateEditMessage) error {
		return d.enqueue(ctx, e, update.TypeName(), func() ([]*snipebot.Event, error) {
			return single(d.decoder.DecodeEdit(e, update.Message))
		})
	})
	updates.OnEditChannelMessage(func(ctx context.Context, e tg.Entities, update *tg.UpdateEditChannelMessage) error {
		return d.enqueue(ctx, e, update.TypeName(), func() ([]*snipebot.Event, error) {
			return single(d.decoder.DecodeEdit(e, update.Message))
		})
	})
	updates.OnDeleteChannelMessages(func(ctx context.Context, e tg.Entities, update *tg.UpdateDeleteChannelMessages) error {
		return d.enqueue(ctx, e, update.TypeName(), func() ([]*snipebot.Event, error) {
			return d.decoder.DecodeChannelDeletes(e, update)
		})
	})
}

func single(event *snipebot.Event, err error) ([]*snipebot.Event, error) {
	if event == nil || err != nil {
		return nil, err
	}

	return []*snipebot.Event{event}, nil
}

// Name returns the stable driver identifier.
func (d *Driver) Name() string {
	return d.cfg.name
}

// Start runs the session and publishes decoded events until ctx ends.
func (d *Driver) Start(ctx context.Context, sink snipebot.EventSink) error {
	if sink == nil {
		return fmt.Errorf("start telegram driver: nil sink")
	}

	err := d.session.Run(ctx, func(runCtx context.Context) error {
		for {
			select {
			case <-runCtx.Done():
				return nil
			case event := <-d.queue:
				d.publish(runCtx, sink, event)
			}
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("start telegram driver: %w", err)
	}

	return nil
}

// Shutdown releases resources not controlled by Start context.
func (d *Driver) Shutdown(_ context.Context) error {
	return nil
}

// enqueue never fails the update: gotd would only log the error, and one
// malformed update must not stall the ones behind it.
func (d *Driver) enqueue(
	ctx context.Context,
	entities tg.Entities,
	updateType string,
	decode func() ([]*snipebot.Event, error),
) error {
	d.cfg.peers.Remember(entities)

	events, err := decodeSafely(updateType, decode)
	if err != nil {
		d.cfg.onAsyncError(ctx, err)
		return nil
	}
	for _, event := range events {
		select {
		case d.queue <- event:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}

func (d *Driver) publish(ctx context.Context, sink snipebot.EventSink, event *snipebot.Event) {
	event.Source = snipebot.EventSource{Platform: DriverPlatform, ID: d.cfg.name}

	publishCtx, cancel := context.WithTimeout(ctx, d.cfg.publishTimeout)
	defer cancel()

	if err := sink.Publish(publishCtx, event); err != nil {
		d.cfg.onAsyncError(ctx, fmt.Errorf("publish %s %s: %w", event.Kind, event.ID, err))
	}
}

// decodeSafely protects decoder panics at the adapter boundary.
func decodeSafely(
	updateType string,
	decode func() ([]*snipebot.Event, error),
) (decoded []*snipebot.Event, err error) {
	defer func() {
		recovered := recover()
		if recovered == nil {
			return
		}
		err = fmt.Errorf("decode telegram %s panic: %v", updateType, recovered)
	}()

	decoded, err = decode()
	if err != nil {
		return nil, fmt.Errorf("decode telegram %s: %w", updateType, err)
	}

	return decoded, nil
}
