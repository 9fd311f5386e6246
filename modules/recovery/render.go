package recovery

import (
	"time"

	"snipebot/internal/attachment"
	"snipebot/internal/editledger"
	"snipebot/internal/snapshot"
	"snipebot/pkg/snipebot"
)

const (
	deletionColor = 0xE74C3C
	editColor     = 0x3498DB

	emptyMessageText = "*[Message vide]*"
	emptyFieldText   = "*[Vide]*"
	mediaRemovedText = "🖼️ *Image/GIF supprimé*"
	unknownAuthor    = "Inconnu"

	beforeFieldName = "Avant :"
	afterFieldName  = "Après :"

	deniedReply  = "Bien tenté mais non."
	noSnipeReply = "Aucun message supprimé à afficher 😶"
	noEditReply  = "Aucune édition récente à afficher 😶"
)

// renderSnipe builds the deletion card and, when the primary attachment is a
// video, the raw URL to send separately so the platform previews it.
func renderSnipe(record snapshot.SnipeRecord, location *time.Location) (embed *snipebot.Embed, videoURL string) {
	description := record.Content
	if description == "" {
		description = emptyMessageText
	}
	if len(record.Attachments) > 0 {
		description += "\n\n" + mediaRemovedText
	}

	embed = &snipebot.Embed{
		AuthorName:    authorName(record.Author),
		AuthorIconURL: record.Author.AvatarURL,
		Description:   description,
		Color:         deletionColor,
		Footer:        formatClock(record.CapturedAt, location),
	}
	if len(record.Attachments) == 0 {
		return embed, ""
	}

	primary := record.Attachments[0]
	switch attachment.Classify(primary) {
	case attachment.KindImage:
		embed.ImageURL = primary
	case attachment.KindVideo:
		videoURL = primary
	}

	return embed, videoURL
}

func renderEdit(record editledger.Record, location *time.Location) *snipebot.Embed {
	return &snipebot.Embed{
		AuthorName:    authorName(record.Author),
		AuthorIconURL: record.Author.AvatarURL,
		Color:         editColor,
		Fields: []snipebot.EmbedField{
			{Name: beforeFieldName, Value: orPlaceholder(record.Before)},
			{Name: afterFieldName, Value: orPlaceholder(record.After)},
		},
		Footer: formatClock(record.CapturedAt, location),
	}
}

func authorName(author snapshot.Author) string {
	if author.DisplayName != "" {
		return author.DisplayName
	}

	return unknownAuthor
}

func orPlaceholder(text string) string {
	if text == "" {
		return emptyFieldText
	}

	return text
}

func formatClock(at time.Time, location *time.Location) string {
	if location != nil {
		at = at.In(location)
	}

	return at.Format("15:04")
}
