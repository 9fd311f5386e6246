package recovery

import (
	"context"

	"snipebot/internal/snapshot"
	"snipebot/pkg/snipebot"
)

func (m *Module) handleEvent(ctx context.Context, event *snipebot.Event) error {
	if event == nil {
		return nil
	}

	switch event.Kind {
	case snipebot.EventKindMessageCreated:
		if event.Message == nil {
			return nil
		}
		m.store.Ingest(observedFromMessage(event))
	case snipebot.EventKindMessageRetracted:
		if event.Mutation == nil {
			return nil
		}
		m.handleRetraction(ctx, event)
	case snipebot.EventKindMessageEdited:
		if event.Mutation == nil || event.Mutation.After == nil {
			return nil
		}
		m.handleEdit(ctx, event)
	default:
		return nil
	}
	m.metrics.ObserveEvent(string(event.Kind))

	return nil
}

func (m *Module) handleRetraction(ctx context.Context, event *snipebot.Event) {
	mutation := event.Mutation
	hint := snapshot.ObservedMessage{
		ID:          mutation.TargetMessageID,
		ChannelID:   event.Conversation.ID,
		Author:      authorFromActor(event.Actor),
		Attachments: []string{},
	}
	if mutation.Before != nil {
		hint.Text = mutation.Before.Text
		hint.Attachments = mediaURIs(mutation.Before.Media)
		hint.CreatedAt = mutation.Before.CreatedAt
	}

	record, resolution, ok := m.store.Reconstruct(event.Conversation.ID, hint)
	if !ok {
		m.logger.DebugContext(ctx, "deletion without recoverable content",
			"channel_id", event.Conversation.ID,
			"message_id", mutation.TargetMessageID,
		)
		return
	}
	m.metrics.ObserveReconstruction(string(resolution))
	m.logger.DebugContext(ctx, "deleted message reconstructed",
		"channel_id", record.ChannelID,
		"message_id", mutation.TargetMessageID,
		"resolution", resolution,
		"attachments", len(record.Attachments),
	)
}

// handleEdit records the edit and revises the stored message so a later
// deletion shows the edited text. Platforms that omit the previous text fall
// back to the stored copy.
func (m *Module) handleEdit(ctx context.Context, event *snipebot.Event) {
	mutation := event.Mutation
	channelID := event.Conversation.ID
	previous, known := m.store.Lookup(channelID, mutation.TargetMessageID)

	author := authorFromActor(event.Actor)
	if author.ID == "" && known {
		author = previous.Author
	}

	if known {
		revised := previous
		revised.Text = mutation.After.Text
		revised.Attachments = mediaURIs(mutation.After.Media)
		m.store.Revise(revised)
	}

	var before string
	switch {
	case mutation.Before != nil:
		before = mutation.Before.Text
	case known:
		before = previous.Text
	default:
		m.logger.DebugContext(ctx, "edit of unknown message skipped",
			"channel_id", channelID,
			"message_id", mutation.TargetMessageID,
		)
		return
	}

	if m.ledger.Ingest(channelID, mutation.TargetMessageID, author, before, mutation.After.Text) {
		m.metrics.ObserveEdit()
	}
}

func observedFromMessage(event *snipebot.Event) snapshot.ObservedMessage {
	return snapshot.ObservedMessage{
		ID:          event.Message.ID,
		ChannelID:   event.Conversation.ID,
		Author:      authorFromActor(event.Actor),
		Text:        event.Message.Text,
		Attachments: mediaURIs(event.Message.Media),
		CreatedAt:   event.OccurredAt,
	}
}

func authorFromActor(actor snipebot.Actor) snapshot.Author {
	name := actor.DisplayName
	if name == "" {
		name = actor.Username
	}

	return snapshot.Author{
		ID:          actor.ID,
		DisplayName: name,
		AvatarURL:   actor.AvatarURL,
	}
}

// mediaURIs keeps attachment order and drops entries without a location.
func mediaURIs(media []snipebot.MediaAttachment) []string {
	uris := make([]string, 0, len(media))
	for _, attachment := range media {
		if attachment.URI != "" {
			uris = append(uris, attachment.URI)
		}
	}

	return uris
}
