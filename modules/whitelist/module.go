// Package whitelist lets configured administrators edit the roles allowed to
// run recovery commands from the chat.
package whitelist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"time"

	"snipebot/internal/allowlist"
	"snipebot/internal/cooldown"
	"snipebot/internal/metrics"
	"snipebot/pkg/snipebot"
)

const (
	whitelistCommandName = "whitelist"

	subcommandAdd    = "add"
	subcommandRemove = "remove"
	subcommandList   = "list"

	deniedReply     = "Bien tenté mais non."
	emptyListReply  = "La whitelist est vide."
	listHeader      = "Rôles autorisés :"
	storeErrorReply = "Impossible de lire ou modifier la whitelist pour le moment."
)

var roleMentionPattern = regexp.MustCompile(`^<@&(\d+)>$`)

// Config tunes the allow-list module.
type Config struct {
	// ServerID is the only tenant whose commands are served.
	ServerID string
	// AdminUserIDs may edit the list. An empty list disables editing.
	AdminUserIDs []string
	// Prefix renders usage hints.
	Prefix string
	// Cooldown and Burst throttle commands per user.
	Cooldown time.Duration
	Burst    int
}

// Module serves the whitelist command.
type Module struct {
	cfg     Config
	store   allowlist.Store
	limiter *cooldown.Limiter
	metrics *metrics.Recorder

	logger     *slog.Logger
	dispatcher snipebot.SinkDispatcher
}

// Option mutates one allow-list module construction input.
type Option func(*Module)

// WithMetrics records command outcomes on recorder.
func WithMetrics(recorder *metrics.Recorder) Option {
	return func(module *Module) {
		module.metrics = recorder
	}
}

// New creates an allow-list module editing store.
func New(cfg Config, store allowlist.Store, options ...Option) (*Module, error) {
	if strings.TrimSpace(cfg.ServerID) == "" {
		return nil, fmt.Errorf("new whitelist module: missing server id")
	}
	if store == nil {
		return nil, fmt.Errorf("new whitelist module: nil store")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = snipebot.DefaultCommandPrefix
	}
	cfg.AdminUserIDs = slices.Clone(cfg.AdminUserIDs)

	module := &Module{
		cfg:     cfg,
		store:   store,
		limiter: cooldown.New(cfg.Cooldown, cfg.Burst),
		logger:  slog.Default(),
	}
	for _, option := range options {
		option(module)
	}

	return module, nil
}

// Name returns the stable module identifier.
func (m *Module) Name() string {
	return "whitelist"
}

// Spec declares the whitelist command.
func (m *Module) Spec() snipebot.ModuleSpec {
	return snipebot.ModuleSpec{
		Handlers: []snipebot.ModuleHandler{
			{
				Capability: snipebot.Capability{
					Name:        "whitelist-command-handler",
					Description: "edits the roles allowed to use recovery commands",
					Interest: snipebot.InterestSet{
						Kinds:        []snipebot.EventKind{snipebot.EventKindCommandReceived},
						TenantIDs:    []string{m.cfg.ServerID},
						CommandNames: []string{whitelistCommandName},
						IgnoreBots:   true,
					},
					RequiredServices: []string{snipebot.ServiceSinkDispatcher},
				},
				Subscription: snipebot.NewDefaultSubscriptionSpec("whitelist-commands"),
				Handler:      m.handleCommand,
			},
		},
		Commands: []snipebot.CommandSpec{
			{
				Name:        whitelistCommandName,
				Aliases:     []string{"wl"},
				Description: "gère les rôles autorisés (administrateurs uniquement)",
				Usage:       "add|remove <rôle> | list",
				MinArgs:     1,
				MaxArgs:     2,
			},
		},
	}
}

// OnRegister resolves the dispatcher and the optional logger.
func (m *Module) OnRegister(_ context.Context, runtime snipebot.ModuleRuntime) error {
	logger, err := snipebot.ResolveAs[*slog.Logger](runtime.Services(), snipebot.ServiceLogger)
	switch {
	case err == nil:
		m.logger = logger
	case errors.Is(err, snipebot.ErrServiceNotFound):
	default:
		return fmt.Errorf("whitelist resolve logger: %w", err)
	}

	dispatcher, err := snipebot.ResolveAs[snipebot.SinkDispatcher](
		runtime.Services(),
		snipebot.ServiceSinkDispatcher,
	)
	if err != nil {
		return fmt.Errorf("whitelist resolve outbound dispatcher: %w", err)
	}
	m.dispatcher = dispatcher

	return nil
}

// OnStart starts the module lifecycle.
func (m *Module) OnStart(ctx context.Context) error {
	if len(m.cfg.AdminUserIDs) == 0 {
		m.logger.WarnContext(ctx, "no allow-list administrators configured, whitelist command is read-only")
	}

	return nil
}

// OnShutdown stops the module lifecycle. The store is owned by the caller.
func (m *Module) OnShutdown(_ context.Context) error {
	return nil
}

func (m *Module) handleCommand(ctx context.Context, event *snipebot.Event) error {
	if event == nil || event.Command == nil || event.Message == nil {
		return nil
	}
	if event.Kind != snipebot.EventKindCommandReceived || event.Command.Name != whitelistCommandName {
		return nil
	}
	if m.dispatcher == nil {
		return fmt.Errorf("whitelist handle command: outbound dispatcher not configured")
	}
	if !m.limiter.Allow(event.Actor.ID) {
		m.metrics.ObserveCommand(whitelistCommandName, metrics.OutcomeRateLimited)
		return nil
	}

	target, err := snipebot.OutboundTargetFromEvent(event)
	if err != nil {
		return fmt.Errorf("whitelist derive outbound target: %w", err)
	}

	args := event.Command.Args
	if len(args) == 0 {
		m.metrics.ObserveCommand(whitelistCommandName, metrics.OutcomeInvalid)
		return m.reply(ctx, target, m.usage())
	}
	subcommand := strings.ToLower(args[0])
	if subcommand != subcommandList && !slices.Contains(m.cfg.AdminUserIDs, event.Actor.ID) {
		m.metrics.ObserveCommand(whitelistCommandName, metrics.OutcomeDenied)
		return m.reply(ctx, target, deniedReply)
	}

	var (
		text   string
		cmdErr error
	)
	switch {
	case subcommand == subcommandList && len(args) == 1:
		text, cmdErr = m.list(ctx, event.Platform)
	case (subcommand == subcommandAdd || subcommand == subcommandRemove) && len(args) == 2:
		roleID, ok := parseRole(args[1])
		if !ok {
			m.metrics.ObserveCommand(whitelistCommandName, metrics.OutcomeInvalid)
			return m.reply(ctx, target, fmt.Sprintf("Rôle invalide : %s", args[1]))
		}
		text, cmdErr = m.edit(ctx, subcommand, roleID, event.Platform)
	default:
		m.metrics.ObserveCommand(whitelistCommandName, metrics.OutcomeInvalid)
		return m.reply(ctx, target, m.usage())
	}

	if cmdErr != nil {
		m.metrics.ObserveCommand(whitelistCommandName, metrics.OutcomeStoreFailure)
		if err := m.reply(ctx, target, storeErrorReply); err != nil {
			return errors.Join(cmdErr, err)
		}
		return cmdErr
	}

	m.metrics.ObserveCommand(whitelistCommandName, metrics.OutcomeServed)

	return m.reply(ctx, target, text)
}

func (m *Module) list(ctx context.Context, platform snipebot.Platform) (string, error) {
	roles, err := m.store.AllowedRoleIDs(ctx)
	if err != nil {
		return "", fmt.Errorf("whitelist list roles: %w", err)
	}
	if len(roles) == 0 {
		return emptyListReply, nil
	}

	lines := make([]string, 0, len(roles)+1)
	lines = append(lines, listHeader)
	for _, roleID := range roles {
		lines = append(lines, "- "+formatRole(platform, roleID))
	}

	return strings.Join(lines, "\n"), nil
}

func (m *Module) edit(ctx context.Context, subcommand string, roleID string, platform snipebot.Platform) (string, error) {
	role := formatRole(platform, roleID)

	if subcommand == subcommandAdd {
		added, err := m.store.Add(ctx, roleID)
		if err != nil {
			return "", fmt.Errorf("whitelist add role %s: %w", roleID, err)
		}
		m.logger.InfoContext(ctx, "allow-list role added", "role_id", roleID, "changed", added)
		if !added {
			return fmt.Sprintf("Le rôle %s est déjà dans la whitelist.", role), nil
		}
		return fmt.Sprintf("Rôle %s ajouté à la whitelist.", role), nil
	}

	removed, err := m.store.Remove(ctx, roleID)
	if err != nil {
		return "", fmt.Errorf("whitelist remove role %s: %w", roleID, err)
	}
	m.logger.InfoContext(ctx, "allow-list role removed", "role_id", roleID, "changed", removed)
	if !removed {
		return fmt.Sprintf("Le rôle %s n'est pas dans la whitelist.", role), nil
	}

	return fmt.Sprintf("Rôle %s retiré de la whitelist.", role), nil
}

func (m *Module) reply(ctx context.Context, target snipebot.OutboundTarget, text string) error {
	if _, err := m.dispatcher.SendMessage(ctx, snipebot.SendMessageRequest{Target: target, Text: text}); err != nil {
		m.metrics.ObserveCommand(whitelistCommandName, metrics.OutcomeSendFailed)
		return fmt.Errorf("whitelist send reply: %w", err)
	}

	return nil
}

func (m *Module) usage() string {
	return "Utilisation : " + m.Spec().Commands[0].UsageLine(m.cfg.Prefix)
}

// parseRole accepts a bare role id or a Discord role mention.
func parseRole(raw string) (string, bool) {
	if match := roleMentionPattern.FindStringSubmatch(raw); match != nil {
		raw = match[1]
	}
	roleID, err := allowlist.NormalizeRoleID(raw)
	if err != nil || strings.ContainsAny(roleID, "<>@&") {
		return "", false
	}

	return roleID, true
}

// formatRole renders a role as a mention where the platform supports it.
func formatRole(platform snipebot.Platform, roleID string) string {
	if platform == snipebot.PlatformDiscord {
		return "<@&" + roleID + ">"
	}

	return roleID
}

var (
	_ snipebot.Module          = (*Module)(nil)
	_ snipebot.ModuleRegistrar = (*Module)(nil)
)
