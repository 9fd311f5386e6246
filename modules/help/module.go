// Package help answers the help command with the list of registered commands.
package help

import (
	"context"
	"fmt"
	"strings"

	"snipebot/pkg/snipebot"
)

const (
	commandName = "help"
	helpTitle   = "Commandes disponibles :"
)

type Module struct {
	out     snipebot.SinkDispatcher
	catalog snipebot.CommandCatalog
}

func New() *Module {
	return &Module{}
}

func (*Module) Name() string {
	return "help"
}

// Spec subscribes to the help command from every server. Listing commands
// is harmless, so no allow-list applies.
func (m *Module) Spec() snipebot.ModuleSpec {
	listing := snipebot.Capability{
		Name:        "command-listing",
		Description: "lists the registered commands",
		Interest: snipebot.InterestSet{
			Kinds:        []snipebot.EventKind{snipebot.EventKindCommandReceived},
			CommandNames: []string{commandName},
			IgnoreBots:   true,
		},
		RequiredServices: []string{snipebot.ServiceSinkDispatcher, snipebot.ServiceCommandCatalog},
	}

	return snipebot.ModuleSpec{
		Handlers: []snipebot.ModuleHandler{{
			Capability:   listing,
			Subscription: snipebot.NewDefaultSubscriptionSpec("help-commands"),
			Handler:      m.handleCommand,
		}},
		Commands: []snipebot.CommandSpec{{
			Name:        commandName,
			Aliases:     []string{"aide"},
			Description: "liste les commandes disponibles",
		}},
	}
}

func (m *Module) OnRegister(_ context.Context, runtime snipebot.ModuleRuntime) (err error) {
	services := runtime.Services()
	if m.out, err = snipebot.ResolveAs[snipebot.SinkDispatcher](services, snipebot.ServiceSinkDispatcher); err != nil {
		return fmt.Errorf("help register: %w", err)
	}
	if m.catalog, err = snipebot.ResolveAs[snipebot.CommandCatalog](services, snipebot.ServiceCommandCatalog); err != nil {
		return fmt.Errorf("help register: %w", err)
	}

	return nil
}

func (*Module) OnStart(context.Context) error    { return nil }
func (*Module) OnShutdown(context.Context) error { return nil }

func (m *Module) handleCommand(ctx context.Context, event *snipebot.Event) error {
	switch {
	case event == nil, event.Command == nil, event.Message == nil:
		return nil
	case event.Kind != snipebot.EventKindCommandReceived, event.Command.Name != commandName:
		return nil
	case m.out == nil || m.catalog == nil:
		return fmt.Errorf("help handle command: module not registered")
	}

	commands, err := m.catalog.ListCommands(ctx)
	if err != nil {
		return fmt.Errorf("help handle command: list commands: %w", err)
	}
	target, err := snipebot.OutboundTargetFromEvent(event)
	if err != nil {
		return fmt.Errorf("help handle command: %w", err)
	}

	request := snipebot.SendMessageRequest{
		Target:             target,
		Text:               renderHelp(commands),
		DisableLinkPreview: true,
	}
	if _, err := m.out.SendMessage(ctx, request); err != nil {
		return fmt.Errorf("help handle command: send: %w", err)
	}

	return nil
}

// renderHelp writes one paragraph per command: usage line, aliases, then
// description. The catalog already sorts by name.
func renderHelp(commands []snipebot.RegisteredCommand) string {
	var text strings.Builder
	text.WriteString(helpTitle)
	if len(commands) == 0 {
		text.WriteString("\n(aucune)")
		return text.String()
	}

	for _, registered := range commands {
		text.WriteString("\n\n")
		text.WriteString(registered.Command.UsageLine(registered.Prefix))
		if len(registered.Command.Aliases) > 0 {
			aliases := make([]string, len(registered.Command.Aliases))
			for idx, alias := range registered.Command.Aliases {
				aliases[idx] = registered.Prefix + snipebot.NormalizeCommandName(alias)
			}
			text.WriteString("\nalias : " + strings.Join(aliases, ", "))
		}
		if description := strings.TrimSpace(registered.Command.Description); description != "" {
			text.WriteString("\n" + description)
		}
	}

	return text.String()
}

var (
	_ snipebot.Module          = (*Module)(nil)
	_ snipebot.ModuleRegistrar = (*Module)(nil)
)
