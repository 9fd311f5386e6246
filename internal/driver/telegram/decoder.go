package telegram

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gotd/td/tg"

	"snipebot/pkg/snipebot"
)

// Decoder converts gotd messages and the entities shipped with them into
// neutral events.
//
// Decode methods return a nil event for service messages (joins, pins, title
// changes) and for edit updates that only bump reactions or view counters.
type Decoder struct {
	now func() time.Time
}

// NewDecoder creates a decoder stamping updates without a platform date with
// the wall clock.
func NewDecoder() Decoder {
	return Decoder{now: time.Now}
}

// DecodeMessage maps a message from updateNewMessage or updateNewChannelMessage.
func (d Decoder) DecodeMessage(entities tg.Entities, message tg.MessageClass) (*snipebot.Event, error) {
	typed, ok := message.(*tg.Message)
	if !ok {
		return nil, nil
	}
	if typed.ID == 0 || typed.PeerID == nil {
		return nil, fmt.Errorf("decode new message: missing message or peer id")
	}

	conversation := conversationOf(entities, typed.PeerID)
	messageID := strconv.Itoa(typed.ID)

	event := d.newBaseEvent(conversation, snipebot.EventKindMessageCreated, unixTime(typed.Date))
	event.ID = composeEventID("create", conversation.ID, messageID)
	event.Actor = senderOf(entities, typed)
	event.Message = &snipebot.Message{
		ID:        messageID,
		ReplyToID: replyToID(typed),
		Text:      typed.Message,
		Media:     mapMedia(conversation.ID, messageID, typed.Media),
	}

	return event, nil
}

// DecodeEdit maps a message from updateEditMessage or updateEditChannelMessage.
// Telegram never ships the previous content, so Before stays empty.
func (d Decoder) DecodeEdit(entities tg.Entities, message tg.MessageClass) (*snipebot.Event, error) {
	typed, ok := message.(*tg.Message)
	if !ok {
		return nil, nil
	}
	if typed.ID == 0 || typed.PeerID == nil {
		return nil, fmt.Errorf("decode edit message: missing message or peer id")
	}
	editDate, edited := typed.GetEditDate()
	if !edited {
		return nil, nil
	}

	conversation := conversationOf(entities, typed.PeerID)
	messageID := strconv.Itoa(typed.ID)

	event := d.newBaseEvent(conversation, snipebot.EventKindMessageEdited, unixTime(editDate))
	event.ID = composeEventID("edit", conversation.ID, messageID, strconv.Itoa(editDate))
	event.Actor = senderOf(entities, typed)
	event.Mutation = &snipebot.Mutation{
		Type:            snipebot.MutationTypeEdit,
		TargetMessageID: messageID,
		After: &snipebot.MessageSnapshot{
			Text:      typed.Message,
			Media:     mapMedia(conversation.ID, messageID, typed.Media),
			CreatedAt: unixTime(typed.Date),
		},
	}

	return event, nil
}

// DecodeChannelDeletes maps updateDeleteChannelMessages into one retraction
// per message id. Basic groups report deletions without a chat id, so only
// supergroups and channels get here.
func (d Decoder) DecodeChannelDeletes(
	entities tg.Entities,
	update *tg.UpdateDeleteChannelMessages,
) ([]*snipebot.Event, error) {
	if update == nil || update.ChannelID == 0 {
		return nil, fmt.Errorf("decode channel deletes: missing channel id")
	}

	conversation := channelConversation(entities, update.ChannelID)
	events := make([]*snipebot.Event, 0, len(update.Messages))
	for _, id := range update.Messages {
		messageID := strconv.Itoa(id)
		event := d.newBaseEvent(conversation, snipebot.EventKindMessageRetracted, time.Time{})
		event.ID = composeEventID("delete", conversation.ID, messageID)
		event.Mutation = &snipebot.Mutation{
			Type:            snipebot.MutationTypeRetraction,
			TargetMessageID: messageID,
		}
		events = append(events, event)
	}

	return events, nil
}

// newBaseEvent fills the envelope shared by every kind. A group or channel is
// both the server and the conversation, so it doubles as the tenant.
func (d Decoder) newBaseEvent(
	conversation snipebot.Conversation,
	kind snipebot.EventKind,
	occurredAt time.Time,
) *snipebot.Event {
	if occurredAt.IsZero() {
		occurredAt = d.clock().UTC()
	}

	var tenantID string
	if conversation.Type != snipebot.ConversationTypePrivate {
		tenantID = conversation.ID
	}

	return &snipebot.Event{
		Kind:         kind,
		OccurredAt:   occurredAt,
		Platform:     DriverPlatform,
		TenantID:     tenantID,
		Conversation: conversation,
	}
}

func (d Decoder) clock() time.Time {
	if d.now == nil {
		return time.Now()
	}

	return d.now()
}

func replyToID(message *tg.Message) string {
	replyTo, ok := message.GetReplyTo()
	if !ok {
		return ""
	}
	header, ok := replyTo.(*tg.MessageReplyHeader)
	if !ok {
		return ""
	}
	id, ok := header.GetReplyToMsgID()
	if !ok {
		return ""
	}

	return strconv.Itoa(id)
}

func unixTime(seconds int) time.Time {
	if seconds <= 0 {
		return time.Time{}
	}

	return time.Unix(int64(seconds), 0).UTC()
}

func composeEventID(kind string, parts ...string) string {
	return "tg:" + kind + ":" + strings.Join(parts, ":")
}
