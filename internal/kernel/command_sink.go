package kernel

import (
	"context"
	"fmt"
	"maps"

	"snipebot/pkg/snipebot"
)

type commandRegistration struct {
	moduleName string
	spec       snipebot.CommandSpec
}

// registerModuleCommands claims every name and alias of the module's commands.
// Specs were validated by validateModuleSpec; here only cross-module conflicts
// are checked, and nothing is claimed unless every name is free.
func (k *Kernel) registerModuleCommands(moduleName string, commands []snipebot.CommandSpec) error {
	if len(commands) == 0 {
		return nil
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	for _, command := range commands {
		for _, name := range command.Names() {
			if owner, taken := k.commands[name]; taken {
				return fmt.Errorf("command %s%s already registered by module %s",
					k.cfg.commandPrefix, name, owner.moduleName)
			}
		}
	}
	for _, command := range commands {
		registration := commandRegistration{moduleName: moduleName, spec: cloneCommandSpec(command)}
		for _, name := range registration.spec.Names() {
			k.commands[name] = registration
		}
	}

	return nil
}

// unregisterModuleCommands removes every command owned by one module.
func (k *Kernel) unregisterModuleCommands(moduleName string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	maps.DeleteFunc(k.commands, func(_ string, registration commandRegistration) bool {
		return registration.moduleName == moduleName
	})
}

// lookupCommand resolves one command spec by normalized name or alias.
func (k *Kernel) lookupCommand(name string) (snipebot.CommandSpec, bool) {
	k.mu.RLock()
	registration, exists := k.commands[snipebot.NormalizeCommandName(name)]
	k.mu.RUnlock()
	if !exists {
		return snipebot.CommandSpec{}, false
	}

	return cloneCommandSpec(registration.spec), true
}

// newDriverEventSink creates the source-event sink wrapped with command derivation.
func (k *Kernel) newDriverEventSink() snipebot.EventSink {
	return &commandDerivingSink{
		base:          k.bus,
		prefix:        k.cfg.commandPrefix,
		lookupCommand: k.lookupCommand,
		serviceLookup: k.services,
		reportAsync:   k.cfg.onAsyncError,
	}
}

// commandDerivingSink publishes source events and derives command events.
type commandDerivingSink struct {
	base          snipebot.EventSink
	prefix        string
	lookupCommand func(name string) (snipebot.CommandSpec, bool)
	serviceLookup snipebot.ServiceRegistry
	reportAsync   func(context.Context, string, error)
}

// Publish forwards one source event and conditionally derives one command event.
func (s *commandDerivingSink) Publish(ctx context.Context, event *snipebot.Event) error {
	if event == nil {
		return fmt.Errorf("publish command deriving sink: nil event")
	}
	if s.base == nil {
		return fmt.Errorf("publish command deriving sink: nil base sink")
	}

	if err := s.base.Publish(ctx, event); err != nil {
		return fmt.Errorf("publish source event %s: %w", event.Kind, err)
	}

	// Edited messages never re-trigger commands.
	if event.Kind != snipebot.EventKindMessageCreated || event.Message == nil {
		return nil
	}

	candidate, matched, parseErr := snipebot.ParseCommandCandidate(event.Message.Text, s.prefix)
	if !matched || parseErr != nil {
		return nil
	}

	spec, registered := s.lookupCommand(candidate.Name)
	if !registered {
		return nil
	}

	invocation, bindErr := snipebot.BindCommand(candidate, spec, event)
	if bindErr != nil {
		s.replyUsage(ctx, event, spec)
		return nil
	}

	commandEvent := derivedCommandEvent(event, invocation)
	if err := s.base.Publish(ctx, commandEvent); err != nil {
		return fmt.Errorf("publish derived command %s: %w", invocation.Name, err)
	}

	return nil
}

// replyUsage answers a malformed invocation with the command syntax.
func (s *commandDerivingSink) replyUsage(ctx context.Context, sourceEvent *snipebot.Event, spec snipebot.CommandSpec) {
	if s.serviceLookup == nil {
		s.reportAsyncError(ctx, "command usage reply", fmt.Errorf("service lookup unavailable"))
		return
	}

	dispatcher, err := snipebot.ResolveAs[snipebot.SinkDispatcher](s.serviceLookup, snipebot.ServiceSinkDispatcher)
	if err != nil {
		s.reportAsyncError(ctx, "command usage reply resolve dispatcher", err)
		return
	}

	target, err := snipebot.OutboundTargetFromEvent(sourceEvent)
	if err != nil {
		s.reportAsyncError(ctx, "command usage reply derive target", err)
		return
	}

	_, err = dispatcher.SendMessage(ctx, snipebot.SendMessageRequest{
		Target:           target,
		Text:             formatUsageReply(spec, s.prefix),
		ReplyToMessageID: sourceEvent.Message.ID,
	})
	if err != nil {
		s.reportAsyncError(ctx, "command usage reply send", err)
	}
}

func (s *commandDerivingSink) reportAsyncError(ctx context.Context, scope string, err error) {
	if s.reportAsync != nil {
		s.reportAsync(ctx, scope, err)
	}
}

func derivedCommandEvent(sourceEvent *snipebot.Event, invocation snipebot.CommandInvocation) *snipebot.Event {
	message := cloneMessage(*sourceEvent.Message)

	return &snipebot.Event{
		ID:           sourceEvent.ID + "#command",
		Kind:         snipebot.EventKindCommandReceived,
		OccurredAt:   sourceEvent.OccurredAt,
		Platform:     sourceEvent.Platform,
		Source:       sourceEvent.Source,
		TenantID:     sourceEvent.TenantID,
		Conversation: sourceEvent.Conversation,
		Actor:        cloneActor(sourceEvent.Actor),
		Message:      &message,
		Command:      cloneCommandInvocation(invocation),
		Metadata:     maps.Clone(sourceEvent.Metadata),
	}
}

func formatUsageReply(spec snipebot.CommandSpec, prefix string) string {
	return "Utilisation : " + spec.UsageLine(prefix)
}

func cloneCommandSpec(spec snipebot.CommandSpec) snipebot.CommandSpec {
	cloned := spec
	cloned.Name = snipebot.NormalizeCommandName(spec.Name)
	if len(spec.Aliases) > 0 {
		cloned.Aliases = make([]string, 0, len(spec.Aliases))
		for _, alias := range spec.Aliases {
			cloned.Aliases = append(cloned.Aliases, snipebot.NormalizeCommandName(alias))
		}
	}

	return cloned
}

func cloneCommandInvocation(invocation snipebot.CommandInvocation) *snipebot.CommandInvocation {
	cloned := invocation
	if len(invocation.Args) > 0 {
		cloned.Args = append([]string(nil), invocation.Args...)
	}

	return &cloned
}

func cloneActor(actor snipebot.Actor) snipebot.Actor {
	cloned := actor
	if actor.Member != nil {
		member := *actor.Member
		member.RoleIDs = append([]string(nil), actor.Member.RoleIDs...)
		cloned.Member = &member
	}

	return cloned
}

func cloneMessage(message snipebot.Message) snipebot.Message {
	cloned := message
	if len(message.Media) > 0 {
		cloned.Media = append([]snipebot.MediaAttachment(nil), message.Media...)
	}

	return cloned
}
