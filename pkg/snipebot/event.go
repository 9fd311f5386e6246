package snipebot

import (
	"fmt"
	"time"
)

// EventKind selects which payload of an Event is set.
type EventKind string

const (
	EventKindMessageCreated   EventKind = "message.created"
	EventKindMessageEdited    EventKind = "message.edited"
	EventKindMessageRetracted EventKind = "message.retracted"
	// EventKindCommandReceived is never published by drivers. The kernel
	// derives it from a created message that starts with a registered command.
	EventKindCommandReceived EventKind = "command.received"
)

// Platform names a chat network.
type Platform string

const (
	PlatformDiscord  Platform = "discord"
	PlatformTelegram Platform = "telegram"
)

// ConversationType is private for direct messages, group for Telegram
// groups and channel for guild text channels and broadcast channels.
type ConversationType string

const (
	ConversationTypePrivate ConversationType = "private"
	ConversationTypeGroup   ConversationType = "group"
	ConversationTypeChannel ConversationType = "channel"
)

// Event is what drivers publish and modules receive. Exactly one of Message,
// Mutation and Command is set, depending on Kind.
type Event struct {
	// ID is unique per driver instance; the recovery module dedupes on it.
	ID         string
	Kind       EventKind
	OccurredAt time.Time
	Platform   Platform
	Source     EventSource
	// TenantID is the guild or Telegram group enclosing the conversation.
	// Empty for direct messages.
	TenantID     string
	Conversation Conversation
	// Actor is the author. Retractions carry it only when the platform
	// remembered who wrote the deleted message.
	Actor    Actor
	Message  *Message
	Mutation *Mutation
	Command  *CommandInvocation
	Metadata map[string]string
}

// EventSource is the driver instance an event came through.
type EventSource struct {
	Platform Platform
	// ID is the configured driver name, which also names its sink.
	ID string
}

type Conversation struct {
	ID    string
	Type  ConversationType
	Title string
}

// Actor is a user or bot account. DisplayName falls back to the username
// when the platform has no nicer name.
type Actor struct {
	ID          string
	Username    string
	DisplayName string
	AvatarURL   string
	IsBot       bool
	// Member is set when the platform shipped roles with the event, as
	// Discord does for guild messages.
	Member *Membership
}

// Membership is an actor's standing in the enclosing server.
type Membership struct {
	RoleIDs []string
	Boosted bool
}

type Message struct {
	ID        string
	ReplyToID string
	Text      string
	Media     []MediaAttachment
}

// MediaType is the coarse category of an attachment.
type MediaType string

const (
	MediaTypePhoto    MediaType = "photo"
	MediaTypeVideo    MediaType = "video"
	MediaTypeDocument MediaType = "document"
	MediaTypeAudio    MediaType = "audio"
)

// MediaAttachment describes one file attached to a message. URI is a CDN
// address on Discord and a tg://media/ pseudo address on Telegram.
type MediaAttachment struct {
	ID        string
	Type      MediaType
	MIMEType  string
	FileName  string
	SizeBytes int64
	URI       string
}

type MutationType string

const (
	MutationTypeEdit       MutationType = "edit"
	MutationTypeRetraction MutationType = "retraction"
)

// Mutation describes an edit or a deletion of TargetMessageID.
//
// Before is whatever the platform still held about the old content and is
// often nil. After is required for edits and unused for retractions.
type Mutation struct {
	Type            MutationType
	TargetMessageID string
	Before          *MessageSnapshot
	After           *MessageSnapshot
}

// MessageSnapshot is the content of a message at one point in time.
type MessageSnapshot struct {
	Text      string
	Media     []MediaAttachment
	CreatedAt time.Time
}

// Validate reports the first problem with the envelope or the payload
// selected by Kind. Every error wraps ErrInvalidEvent.
func (e *Event) Validate() error {
	if e == nil {
		return fmt.Errorf("%w: nil event", ErrInvalidEvent)
	}

	var problem string
	switch {
	case e.ID == "":
		problem = "missing id"
	case e.Kind == "":
		problem = "missing kind"
	case e.OccurredAt.IsZero():
		problem = "missing occurred_at"
	case e.Conversation.ID == "":
		problem = "missing conversation id"
	case e.Kind == EventKindCommandReceived:
		if e.Command == nil {
			problem = "command.received without command"
			break
		}
		if err := e.Command.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidEvent, err)
		}
	default:
		problem = e.payloadProblem()
	}
	if problem != "" {
		return fmt.Errorf("%w: %s", ErrInvalidEvent, problem)
	}

	return nil
}

func (e *Event) payloadProblem() string {
	switch e.Kind {
	case EventKindMessageCreated:
		if e.Message == nil || e.Message.ID == "" {
			return "message.created without message id"
		}
	case EventKindMessageEdited, EventKindMessageRetracted:
		if e.Mutation == nil || e.Mutation.TargetMessageID == "" {
			return fmt.Sprintf("%s without target message id", e.Kind)
		}
		if e.Kind == EventKindMessageEdited && e.Mutation.After == nil {
			return "message.edited without after snapshot"
		}
	default:
		return fmt.Sprintf("unsupported kind %q", e.Kind)
	}

	return ""
}

// MessageMedia returns the attachments of the message, or of its newest
// known snapshot for mutations.
func (e *Event) MessageMedia() []MediaAttachment {
	switch {
	case e == nil:
		return nil
	case e.Message != nil:
		return e.Message.Media
	case e.Mutation == nil:
		return nil
	case e.Mutation.After != nil:
		return e.Mutation.After.Media
	case e.Mutation.Before != nil:
		return e.Mutation.Before.Media
	default:
		return nil
	}
}
