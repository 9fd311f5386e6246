package discord

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"snipebot/pkg/snipebot"
)

// Decoder converts discordgo gateway payloads into neutral events.
//
// Decode methods return a nil event when the payload carries nothing worth
// publishing, such as link-preview refreshes reported as message updates.
type Decoder struct {
	now func() time.Time
}

// NewDecoder creates a decoder stamping payloads without a platform
// timestamp with the wall clock.
func NewDecoder() Decoder {
	return Decoder{now: time.Now}
}

// DecodeCreate maps one MESSAGE_CREATE payload.
func (d Decoder) DecodeCreate(payload *discordgo.MessageCreate) (*snipebot.Event, error) {
	if payload == nil || payload.Message == nil {
		return nil, fmt.Errorf("decode message create: nil payload")
	}
	message := payload.Message
	if message.ID == "" || message.ChannelID == "" {
		return nil, fmt.Errorf("decode message create: missing message or channel id")
	}

	event := d.newBaseEvent(message, snipebot.EventKindMessageCreated, message.Timestamp)
	event.ID = composeEventID("create", message.ChannelID, message.ID)
	event.Actor = actorFromMessage(message, message.Member)
	event.Message = &snipebot.Message{
		ID:    message.ID,
		Text:  message.Content,
		Media: mapAttachments(message.Attachments),
	}
	if message.MessageReference != nil {
		event.Message.ReplyToID = message.MessageReference.MessageID
	}

	return event, nil
}

// DecodeUpdate maps one MESSAGE_UPDATE payload into an edit event.
func (d Decoder) DecodeUpdate(payload *discordgo.MessageUpdate) (*snipebot.Event, error) {
	if payload == nil || payload.Message == nil {
		return nil, fmt.Errorf("decode message update: nil payload")
	}
	message := payload.Message
	if message.ID == "" || message.ChannelID == "" {
		return nil, fmt.Errorf("decode message update: missing message or channel id")
	}
	if message.EditedTimestamp == nil {
		return nil, nil
	}

	before := payload.BeforeUpdate
	event := d.newBaseEvent(message, snipebot.EventKindMessageEdited, *message.EditedTimestamp)
	event.ID = composeEventID(
		"edit",
		message.ChannelID,
		message.ID,
		strconv.FormatInt(message.EditedTimestamp.UnixNano(), 10),
	)

	author := message
	if author.Author == nil && before != nil {
		author = before
	}
	event.Actor = actorFromMessage(author, message.Member)
	event.Mutation = &snipebot.Mutation{
		Type:            snipebot.MutationTypeEdit,
		TargetMessageID: message.ID,
		Before:          snapshotOf(before),
		After: &snipebot.MessageSnapshot{
			Text:      message.Content,
			Media:     mapAttachments(message.Attachments),
			CreatedAt: message.Timestamp,
		},
	}

	return event, nil
}

// DecodeDelete maps one MESSAGE_DELETE payload into a retraction event.
//
// The gateway only reports identifiers; author and content come from the
// session state cache when the message was still held there.
func (d Decoder) DecodeDelete(payload *discordgo.MessageDelete) (*snipebot.Event, error) {
	if payload == nil || payload.Message == nil {
		return nil, fmt.Errorf("decode message delete: nil payload")
	}
	message := payload.Message
	if message.ID == "" || message.ChannelID == "" {
		return nil, fmt.Errorf("decode message delete: missing message or channel id")
	}

	before := payload.BeforeDelete
	event := d.newBaseEvent(message, snipebot.EventKindMessageRetracted, time.Time{})
	event.ID = composeEventID("delete", message.ChannelID, message.ID)
	if before != nil {
		event.Actor = actorFromMessage(before, before.Member)
	}
	event.Mutation = &snipebot.Mutation{
		Type:            snipebot.MutationTypeRetraction,
		TargetMessageID: message.ID,
		Before:          snapshotOf(before),
	}

	return event, nil
}

func (d Decoder) newBaseEvent(message *discordgo.Message, kind snipebot.EventKind, occurredAt time.Time) *snipebot.Event {
	if occurredAt.IsZero() {
		occurredAt = d.clock()
	}

	conversationType := snipebot.ConversationTypeChannel
	if message.GuildID == "" {
		conversationType = snipebot.ConversationTypePrivate
	}

	return &snipebot.Event{
		Kind:       kind,
		OccurredAt: occurredAt,
		Platform:   DriverPlatform,
		TenantID:   message.GuildID,
		Conversation: snipebot.Conversation{
			ID:   message.ChannelID,
			Type: conversationType,
		},
	}
}

func (d Decoder) clock() time.Time {
	if d.now == nil {
		return time.Now()
	}

	return d.now()
}

func actorFromMessage(message *discordgo.Message, member *discordgo.Member) snipebot.Actor {
	if message == nil || message.Author == nil {
		return snipebot.Actor{}
	}
	user := message.Author

	actor := snipebot.Actor{
		ID:          user.ID,
		Username:    user.Username,
		DisplayName: displayName(user, member),
		AvatarURL:   user.AvatarURL(""),
		IsBot:       user.Bot,
	}
	if member != nil {
		membership := membershipFromMember(member)
		actor.Member = &membership
	}

	return actor
}

// displayName follows the server nickname, then the global name, then the username.
func displayName(user *discordgo.User, member *discordgo.Member) string {
	if member != nil && strings.TrimSpace(member.Nick) != "" {
		return member.Nick
	}
	if strings.TrimSpace(user.GlobalName) != "" {
		return user.GlobalName
	}

	return user.Username
}

func membershipFromMember(member *discordgo.Member) snipebot.Membership {
	return snipebot.Membership{
		RoleIDs: append([]string(nil), member.Roles...),
		Boosted: member.PremiumSince != nil,
	}
}

func snapshotOf(message *discordgo.Message) *snipebot.MessageSnapshot {
	if message == nil {
		return nil
	}

	return &snipebot.MessageSnapshot{
		Text:      message.Content,
		Media:     mapAttachments(message.Attachments),
		CreatedAt: message.Timestamp,
	}
}

func mapAttachments(attachments []*discordgo.MessageAttachment) []snipebot.MediaAttachment {
	if len(attachments) == 0 {
		return nil
	}

	media := make([]snipebot.MediaAttachment, 0, len(attachments))
	for _, attachment := range attachments {
		if attachment == nil || attachment.URL == "" {
			continue
		}
		media = append(media, snipebot.MediaAttachment{
			ID:        attachment.ID,
			Type:      mediaTypeFromContentType(attachment.ContentType),
			MIMEType:  attachment.ContentType,
			FileName:  attachment.Filename,
			SizeBytes: int64(attachment.Size),
			URI:       attachment.URL,
		})
	}

	return media
}

func mediaTypeFromContentType(contentType string) snipebot.MediaType {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return snipebot.MediaTypePhoto
	case strings.HasPrefix(contentType, "video/"):
		return snipebot.MediaTypeVideo
	case strings.HasPrefix(contentType, "audio/"):
		return snipebot.MediaTypeAudio
	default:
		return snipebot.MediaTypeDocument
	}
}

func composeEventID(kind string, parts ...string) string {
	return "dc:" + kind + ":" + strings.Join(parts, ":")
}
