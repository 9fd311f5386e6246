package telegram

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"snipebot/pkg/snipebot"

	"github.com/gotd/td/session"
	gotdtelegram "github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
)

const (
	defaultRuntimeSessionFile = ".cache/telegram/session.json"
	defaultRuntimeAuthTimeout = time.Minute
)

// RuntimeConfig carries everything needed to log one bot account in.
type RuntimeConfig struct {
	// AppID and AppHash identify the MTProto application.
	AppID   int
	AppHash string
	// BotToken is the token issued by @BotFather.
	BotToken string
	// SessionFile persists the MTProto session between restarts.
	SessionFile string
	// PublishTimeout bounds one event publish into the kernel.
	PublishTimeout time.Duration
	// QueueSize bounds decoded updates waiting to be published.
	QueueSize int
	// OutboundTimeout bounds one outbound RPC call.
	OutboundTimeout time.Duration
}

// Runtime groups the components built for one Telegram session.
type Runtime struct {
	Source     snipebot.EventSource
	Driver     *Driver
	Dispatcher *SinkDispatcher
	Members    *MemberDirectory
}

// BuildRuntime creates the update driver, the outbound dispatcher and the
// member directory sharing one gotd client.
func BuildRuntime(name string, logger *slog.Logger, cfg RuntimeConfig) (Runtime, error) {
	if err := cfg.validate(); err != nil {
		return Runtime{}, fmt.Errorf("build telegram runtime %s: %w", name, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	sessionFile := cmp.Or(strings.TrimSpace(cfg.SessionFile), defaultRuntimeSessionFile)

	sessionStorage, err := newGotdSessionStorage(sessionFile)
	if err != nil {
		return Runtime{}, fmt.Errorf("build telegram runtime %s: new session storage: %w", name, err)
	}

	updates := tg.NewUpdateDispatcher()
	client := gotdtelegram.NewClient(cfg.AppID, cfg.AppHash, gotdtelegram.Options{
		UpdateHandler:  updates,
		SessionStorage: sessionStorage,
	})

	source := snipebot.EventSource{Platform: DriverPlatform, ID: name}
	sink := snipebot.SinkRef{Platform: DriverPlatform, ID: name}
	peers := NewPeerCache()

	driver, err := NewDriver(
		gotdAuthenticatedClient{
			client: client,
			authenticate: func(ctx context.Context) error {
				return authenticateBot(ctx, logger, client, cfg.BotToken, sessionFile)
			},
		},
		updates,
		NewDecoder(),
		WithName(name),
		WithPublishTimeout(cfg.PublishTimeout),
		WithQueueSize(cfg.QueueSize),
		WithPeerCache(peers),
		WithErrorHandler(func(ctx context.Context, err error) {
			logger.ErrorContext(ctx, "telegram driver async error", "driver", name, "error", err)
		}),
	)
	if err != nil {
		return Runtime{}, fmt.Errorf("build telegram runtime %s: %w", name, err)
	}

	dispatcher, err := NewOutboundDispatcher(
		client,
		peers,
		WithOutboundTimeout(cfg.OutboundTimeout),
		WithOutboundLogger(logger),
		WithSinkRef(sink),
	)
	if err != nil {
		return Runtime{}, fmt.Errorf("build telegram runtime %s: %w", name, err)
	}

	members, err := NewMemberDirectory(client, peers, sink)
	if err != nil {
		return Runtime{}, fmt.Errorf("build telegram runtime %s: %w", name, err)
	}

	return Runtime{
		Source:     source,
		Driver:     driver,
		Dispatcher: dispatcher,
		Members:    members,
	}, nil
}

func (c RuntimeConfig) validate() error {
	switch {
	case c.AppID <= 0:
		return fmt.Errorf("app id must be > 0")
	case strings.TrimSpace(c.AppHash) == "":
		return fmt.Errorf("app hash is required")
	case strings.TrimSpace(c.BotToken) == "":
		return fmt.Errorf("bot token is required")
	default:
		return nil
	}
}

// newGotdSessionStorage stores the session at an absolute path so restarts
// from another working directory find it. The directory is private.
func newGotdSessionStorage(path string) (*session.FileStorage, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("empty session file path")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve session file %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o700); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}

	return &session.FileStorage{Path: absPath}, nil
}

// gotdAuthenticatedClient logs the bot in before handing the live client
// connection to the driver.
type gotdAuthenticatedClient struct {
	client       *gotdtelegram.Client
	authenticate func(ctx context.Context) error
}

func (c gotdAuthenticatedClient) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	return c.client.Run(ctx, func(ctx context.Context) error {
		if err := c.authenticate(ctx); err != nil {
			return fmt.Errorf("authenticate: %w", err)
		}

		return fn(ctx)
	})
}

// authenticateBot reuses the stored session when it is still authorized.
// Fetching the update state afterwards is what makes Telegram start pushing
// updates to this connection.
func authenticateBot(
	ctx context.Context,
	logger *slog.Logger,
	client *gotdtelegram.Client,
	token string,
	sessionFile string,
) error {
	ctx, cancel := context.WithTimeout(ctx, defaultRuntimeAuthTimeout)
	defer cancel()

	status, err := client.Auth().Status(ctx)
	if err != nil {
		return fmt.Errorf("check auth status: %w", err)
	}
	restored := status.Authorized
	if !restored {
		if _, err := client.Auth().Bot(ctx, token); err != nil {
			return fmt.Errorf("bot login: %w", err)
		}
	}
	logger.InfoContext(ctx, "telegram bot authenticated", "session_file", sessionFile, "restored", restored)

	if _, err := client.API().UpdatesGetState(ctx); err != nil {
		return fmt.Errorf("get update state: %w", err)
	}

	return nil
}
