package snipebot

import (
	"cmp"
	"context"
	"fmt"
	"strings"
)

// ServiceSinkDispatcher is the service key of the process-wide SinkDispatcher.
const ServiceSinkDispatcher = "snipebot.sink_dispatcher"

// SinkDispatcher sends messages through a driver. Failed platform calls come
// back as *OutboundError.
type SinkDispatcher interface {
	SendMessage(ctx context.Context, request SendMessageRequest) (*OutboundMessage, error)
}

// SinkRef names the driver instance that should carry an outbound message.
// Either field may be empty when the other is enough to pick one.
type SinkRef struct {
	Platform Platform
	ID       string
}

// OutboundTarget is a conversation plus, optionally, the sink to reach it by.
type OutboundTarget struct {
	Conversation Conversation
	Sink         *SinkRef
}

// Validate requires a typed conversation and a non-empty sink when one is set.
func (t OutboundTarget) Validate() error {
	var problem string
	switch {
	case t.Conversation.ID == "":
		problem = "missing conversation id"
	case t.Conversation.Type == "":
		problem = "missing conversation type"
	case t.Sink != nil && *t.Sink == (SinkRef{}):
		problem = "missing sink identity"
	default:
		return nil
	}

	return fmt.Errorf("%w: %s", ErrInvalidOutboundRequest, problem)
}

// OutboundTargetFromEvent answers in the conversation event came from,
// through the driver instance that received it.
func OutboundTargetFromEvent(event *Event) (OutboundTarget, error) {
	if event == nil {
		return OutboundTarget{}, fmt.Errorf("%w: nil event", ErrInvalidOutboundRequest)
	}

	target := OutboundTarget{Conversation: event.Conversation}
	sink := SinkRef{Platform: cmp.Or(event.Source.Platform, event.Platform), ID: event.Source.ID}
	if sink != (SinkRef{}) {
		target.Sink = &sink
	}
	if err := target.Validate(); err != nil {
		return OutboundTarget{}, fmt.Errorf("derive target from event %s: %w", event.Kind, err)
	}

	return target, nil
}

// OutboundMessage is a message the platform accepted.
type OutboundMessage struct {
	ID     string
	Target OutboundTarget
}

// SendMessageRequest needs Text, an Embed, or both. Sinks without native
// cards render the embed as text.
type SendMessageRequest struct {
	Target             OutboundTarget
	Text               string
	Embed              *Embed
	ReplyToMessageID   string
	DisableLinkPreview bool
}

// Validate runs before any platform call.
func (r SendMessageRequest) Validate() error {
	if err := r.Target.Validate(); err != nil {
		return fmt.Errorf("validate send message target: %w", err)
	}
	if strings.TrimSpace(r.Text) == "" && r.Embed == nil {
		return fmt.Errorf("%w: missing message text or embed", ErrInvalidOutboundRequest)
	}
	if r.Embed != nil {
		if err := r.Embed.Validate(); err != nil {
			return fmt.Errorf("validate send message embed: %w", err)
		}
	}

	return nil
}

// Embed is a rich card, shaped after Discord embeds.
type Embed struct {
	AuthorName    string
	AuthorIconURL string
	Description   string
	// Color is 0xRRGGBB.
	Color    int
	Fields   []EmbedField
	ImageURL string
	Footer   string
}

type EmbedField struct {
	Name   string
	Value  string
	Inline bool
}

// Validate rejects cards with nothing to show. A nil embed is valid.
func (e *Embed) Validate() error {
	if e == nil {
		return nil
	}
	if e.Color < 0 || e.Color > 0xFFFFFF {
		return fmt.Errorf("%w: embed color %#x out of range", ErrInvalidOutboundRequest, e.Color)
	}
	if e.Description == "" && len(e.Fields) == 0 && e.ImageURL == "" {
		return fmt.Errorf("%w: empty embed", ErrInvalidOutboundRequest)
	}
	for idx, field := range e.Fields {
		if field.Name == "" || field.Value == "" {
			return fmt.Errorf("%w: embed field %d requires name and value", ErrInvalidOutboundRequest, idx)
		}
	}

	return nil
}
