package recovery

import (
	"context"
	"errors"
	"fmt"

	"snipebot/internal/metrics"
	"snipebot/pkg/snipebot"
)

func (m *Module) handleCommand(ctx context.Context, event *snipebot.Event) error {
	if event == nil || event.Command == nil || event.Message == nil {
		return nil
	}
	if event.Kind != snipebot.EventKindCommandReceived {
		return nil
	}
	name := event.Command.Name
	if name != snipeCommandName && name != snipeeCommandName {
		return nil
	}
	if m.dispatcher == nil {
		return fmt.Errorf("recovery handle %s: outbound dispatcher not configured", name)
	}

	if !m.limiter.Allow(event.Actor.ID) {
		m.metrics.ObserveCommand(name, metrics.OutcomeRateLimited)
		m.logger.DebugContext(ctx, "recovery command throttled", "command", name, "actor_id", event.Actor.ID)
		return nil
	}

	target, err := snipebot.OutboundTargetFromEvent(event)
	if err != nil {
		return fmt.Errorf("recovery derive outbound target: %w", err)
	}

	if !m.authorize(ctx, event) {
		m.metrics.ObserveCommand(name, metrics.OutcomeDenied)
		return m.send(ctx, name, snipebot.SendMessageRequest{Target: target, Text: deniedReply})
	}

	if name == snipeeCommandName {
		return m.serveEdit(ctx, target)
	}

	return m.serveSnipe(ctx, target)
}

// authorize resolves the invoker's membership, asking the member directory
// when the driver did not attach it. Lookup failures count as no roles.
func (m *Module) authorize(ctx context.Context, event *snipebot.Event) bool {
	member, err := snipebot.ResolveMembership(ctx, m.members, event)
	if err != nil {
		if !errors.Is(err, snipebot.ErrMemberNotFound) {
			m.logger.WarnContext(ctx, "member lookup failed",
				"actor_id", event.Actor.ID,
				"tenant_id", event.TenantID,
				"error", err,
			)
		}
		member = snipebot.Membership{}
	}

	return m.policy.IsAuthorized(ctx, member)
}

// serveSnipe copies the channel record before any send, so a deletion landing
// meanwhile only affects the next invocation.
func (m *Module) serveSnipe(ctx context.Context, target snipebot.OutboundTarget) error {
	record, ok := m.store.Snipe(target.Conversation.ID)
	if !ok {
		m.metrics.ObserveCommand(snipeCommandName, metrics.OutcomeEmpty)
		return m.send(ctx, snipeCommandName, snipebot.SendMessageRequest{Target: target, Text: noSnipeReply})
	}

	embed, videoURL := renderSnipe(record, m.cfg.Location)
	if err := m.send(ctx, snipeCommandName, snipebot.SendMessageRequest{Target: target, Embed: embed}); err != nil {
		return err
	}
	if videoURL != "" {
		if err := m.send(ctx, snipeCommandName, snipebot.SendMessageRequest{Target: target, Text: videoURL}); err != nil {
			return err
		}
	}
	m.metrics.ObserveCommand(snipeCommandName, metrics.OutcomeServed)

	return nil
}

func (m *Module) serveEdit(ctx context.Context, target snipebot.OutboundTarget) error {
	record, ok := m.ledger.Edit(target.Conversation.ID)
	if !ok {
		m.metrics.ObserveCommand(snipeeCommandName, metrics.OutcomeEmpty)
		return m.send(ctx, snipeeCommandName, snipebot.SendMessageRequest{Target: target, Text: noEditReply})
	}

	if err := m.send(ctx, snipeeCommandName, snipebot.SendMessageRequest{
		Target: target,
		Embed:  renderEdit(record, m.cfg.Location),
	}); err != nil {
		return err
	}
	m.metrics.ObserveCommand(snipeeCommandName, metrics.OutcomeServed)

	return nil
}

func (m *Module) send(ctx context.Context, command string, request snipebot.SendMessageRequest) error {
	if _, err := m.dispatcher.SendMessage(ctx, request); err != nil {
		m.metrics.ObserveCommand(command, metrics.OutcomeSendFailed)
		if outboundErr, ok := snipebot.AsOutboundError(err); ok {
			m.metrics.ObserveOutboundError(string(outboundErr.Platform), string(outboundErr.Kind))
		}
		if retryAfter, limited := snipebot.AsOutboundRateLimit(err); limited {
			m.logger.WarnContext(ctx, "recovery reply rate limited",
				"command", command,
				"retry_after", retryAfter,
			)
		}
		return fmt.Errorf("recovery send %s reply: %w", command, err)
	}

	return nil
}
