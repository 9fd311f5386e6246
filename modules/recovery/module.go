// Package recovery keeps the recent-message memory of the target server and
// answers the snipe and snipee commands from it.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"snipebot/internal/access"
	"snipebot/internal/cooldown"
	"snipebot/internal/editledger"
	"snipebot/internal/metrics"
	"snipebot/internal/snapshot"
	"snipebot/pkg/snipebot"
)

const (
	snipeCommandName  = "snipe"
	snipeeCommandName = "snipee"

	ingestSubscriptionName  = "recovery-ingest"
	commandSubscriptionName = "recovery-commands"
	ingestBuffer            = 1024
)

// Config tunes the recovery module.
type Config struct {
	// ServerID is the only tenant whose events are consumed.
	ServerID string
	// Depth is the per-channel history depth.
	Depth int
	// Capacity bounds the identity cache.
	Capacity int
	// Retention optionally ages out observed messages.
	Retention time.Duration
	// Location renders capture times.
	Location *time.Location
	// Cooldown and Burst throttle commands per user. A zero Cooldown disables throttling.
	Cooldown time.Duration
	Burst    int
}

// Validate checks module configuration.
func (c Config) Validate() error {
	if strings.TrimSpace(c.ServerID) == "" {
		return fmt.Errorf("missing server id")
	}
	if c.Depth < 0 || c.Capacity < 0 || c.Retention < 0 || c.Cooldown < 0 || c.Burst < 0 {
		return fmt.Errorf("negative bound")
	}

	return nil
}

// Option mutates one recovery module construction input.
type Option func(*Module)

// WithAllowList sets the source of roles granted access to the commands.
func WithAllowList(source access.AllowListSource) Option {
	return func(module *Module) {
		module.allowList = source
	}
}

// WithMetrics records module activity on recorder.
func WithMetrics(recorder *metrics.Recorder) Option {
	return func(module *Module) {
		module.metrics = recorder
	}
}

// WithClock replaces the wall clock used for capture times.
func WithClock(clock func() time.Time) Option {
	return func(module *Module) {
		if clock != nil {
			module.clock = clock
		}
	}
}

// Module ingests message events of the target server and serves recovery commands.
type Module struct {
	cfg Config

	store   *snapshot.Store
	ledger  *editledger.Ledger
	limiter *cooldown.Limiter
	clock   func() time.Time

	allowList access.AllowListSource
	policy    *access.Policy
	metrics   *metrics.Recorder

	logger     *slog.Logger
	dispatcher snipebot.SinkDispatcher
	members    snipebot.MemberDirectory
}

// New creates a recovery module owning its snapshot store and edit ledger.
func New(cfg Config, options ...Option) (*Module, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("new recovery module: %w", err)
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}

	module := &Module{
		cfg:    cfg,
		clock:  time.Now,
		logger: slog.Default(),
	}
	for _, option := range options {
		option(module)
	}

	module.store = snapshot.New(
		snapshot.WithDepth(cfg.Depth),
		snapshot.WithCapacity(cfg.Capacity),
		snapshot.WithRetention(cfg.Retention),
		snapshot.WithClock(module.clock),
		snapshot.WithLocation(cfg.Location),
	)
	module.ledger = editledger.New(
		editledger.WithClock(module.clock),
		editledger.WithLocation(cfg.Location),
	)
	module.limiter = cooldown.New(cfg.Cooldown, cfg.Burst)
	module.policy = access.NewPolicy(module.allowList, module.logger)

	return module, nil
}

// Name returns the stable module identifier.
func (m *Module) Name() string {
	return "recovery"
}

// Spec declares the ingest and command handlers.
//
// Ingest runs on a single blocking worker so the store sees platform order.
func (m *Module) Spec() snipebot.ModuleSpec {
	tenants := []string{m.cfg.ServerID}

	return snipebot.ModuleSpec{
		Handlers: []snipebot.ModuleHandler{
			{
				Capability: snipebot.Capability{
					Name:        "recovery-ingest",
					Description: "remembers recent messages, deletions and edits of the target server",
					Interest: snipebot.InterestSet{
						Kinds: []snipebot.EventKind{
							snipebot.EventKindMessageCreated,
							snipebot.EventKindMessageEdited,
							snipebot.EventKindMessageRetracted,
						},
						TenantIDs:  tenants,
						IgnoreBots: true,
					},
				},
				Subscription: snipebot.SubscriptionSpec{
					Name:         ingestSubscriptionName,
					Buffer:       ingestBuffer,
					Workers:      1,
					Backpressure: snipebot.BackpressureBlock,
				},
				Handler: m.handleEvent,
			},
			{
				Capability: snipebot.Capability{
					Name:        "recovery-commands",
					Description: "replays the latest deleted or edited message of a channel",
					Interest: snipebot.InterestSet{
						Kinds:        []snipebot.EventKind{snipebot.EventKindCommandReceived},
						TenantIDs:    tenants,
						CommandNames: []string{snipeCommandName, snipeeCommandName},
						IgnoreBots:   true,
					},
					RequiredServices: []string{snipebot.ServiceSinkDispatcher},
				},
				Subscription: snipebot.NewDefaultSubscriptionSpec(commandSubscriptionName),
				Handler:      m.handleCommand,
			},
		},
		Commands: []snipebot.CommandSpec{
			{
				Name:        snipeCommandName,
				Description: "affiche le dernier message supprimé du salon",
			},
			{
				Name:        snipeeCommandName,
				Description: "affiche la dernière édition du salon",
			},
		},
	}
}

// OnRegister resolves the dispatcher, the optional logger and member directory,
// and exposes cache occupancy gauges.
func (m *Module) OnRegister(_ context.Context, runtime snipebot.ModuleRuntime) error {
	logger, err := snipebot.ResolveAs[*slog.Logger](runtime.Services(), snipebot.ServiceLogger)
	switch {
	case err == nil:
		m.logger = logger
		m.policy = access.NewPolicy(m.allowList, logger)
	case errors.Is(err, snipebot.ErrServiceNotFound):
	default:
		return fmt.Errorf("recovery resolve logger: %w", err)
	}

	dispatcher, err := snipebot.ResolveAs[snipebot.SinkDispatcher](
		runtime.Services(),
		snipebot.ServiceSinkDispatcher,
	)
	if err != nil {
		return fmt.Errorf("recovery resolve outbound dispatcher: %w", err)
	}
	m.dispatcher = dispatcher

	members, err := snipebot.ResolveAs[snipebot.MemberDirectory](
		runtime.Services(),
		snipebot.ServiceMemberDirectory,
	)
	switch {
	case err == nil:
		m.members = members
	case errors.Is(err, snipebot.ErrServiceNotFound):
	default:
		return fmt.Errorf("recovery resolve member directory: %w", err)
	}

	if err := m.metrics.RegisterGauge(
		"snipebot_identity_cache_entries",
		"Messages held by the identity cache",
		func() float64 { return float64(m.store.Stats().IdentityEntries) },
	); err != nil {
		return fmt.Errorf("recovery register identity gauge: %w", err)
	}
	if err := m.metrics.RegisterGauge(
		"snipebot_tracked_channels",
		"Channels with recent message history",
		func() float64 { return float64(m.store.Stats().Channels) },
	); err != nil {
		return fmt.Errorf("recovery register channel gauge: %w", err)
	}

	return nil
}

// OnStart starts the module lifecycle.
func (m *Module) OnStart(ctx context.Context) error {
	m.logger.InfoContext(ctx, "recovery module started",
		"server_id", m.cfg.ServerID,
		"depth", m.cfg.Depth,
		"capacity", m.cfg.Capacity,
	)

	return nil
}

// OnShutdown stops the module lifecycle. Caches are not persisted.
func (m *Module) OnShutdown(ctx context.Context) error {
	stats := m.store.Stats()
	m.logger.InfoContext(ctx, "recovery module stopped",
		"identity_entries", stats.IdentityEntries,
		"channels", stats.Channels,
		"edits", m.ledger.Len(),
	)

	return nil
}

var (
	_ snipebot.Module          = (*Module)(nil)
	_ snipebot.ModuleRegistrar = (*Module)(nil)
)
