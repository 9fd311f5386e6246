package telegram

import (
	"strconv"
	"strings"

	"github.com/gotd/td/tg"

	"snipebot/pkg/snipebot"
)

// mediaURIScheme prefixes the pseudo URLs built for Telegram media, which has
// no public download address.
const mediaURIScheme = "tg://media/"

var extensionsByMIME = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/gif":       ".gif",
	"image/webp":      ".webp",
	"video/mp4":       ".mp4",
	"video/webm":      ".webm",
	"video/quicktime": ".mov",
	"audio/mpeg":      ".mp3",
	"audio/ogg":       ".ogg",
}

// mapMedia describes the single photo or document a message may carry.
// Webpage previews, polls, locations and the rest are not attachments.
func mapMedia(chatID, messageID string, media tg.MessageMediaClass) []snipebot.MediaAttachment {
	var attachment snipebot.MediaAttachment
	switch typed := media.(type) {
	case *tg.MessageMediaPhoto:
		photo, ok := typed.GetPhoto()
		if !ok || photo == nil {
			return nil
		}
		id := strconv.FormatInt(photo.GetID(), 10)
		attachment = snipebot.MediaAttachment{
			ID:       id,
			Type:     snipebot.MediaTypePhoto,
			MIMEType: "image/jpeg",
			URI:      mediaURI(chatID, messageID, "photo-"+id+".jpg"),
		}
	case *tg.MessageMediaDocument:
		document, ok := typed.GetDocument()
		if !ok {
			return nil
		}
		doc, ok := document.AsNotEmpty()
		if !ok {
			return nil
		}
		attachment = documentAttachment(chatID, messageID, doc)
	default:
		return nil
	}

	return []snipebot.MediaAttachment{attachment}
}

func documentAttachment(chatID, messageID string, doc *tg.Document) snipebot.MediaAttachment {
	id := strconv.FormatInt(doc.ID, 10)
	attachment := snipebot.MediaAttachment{
		ID:        id,
		Type:      documentMediaType(doc),
		MIMEType:  doc.MimeType,
		SizeBytes: doc.Size,
	}
	for _, attribute := range doc.Attributes {
		if named, ok := attribute.(*tg.DocumentAttributeFilename); ok {
			attachment.FileName = named.FileName
			break
		}
	}

	// The URI ends in a file name so extension based classification works.
	name := attachment.FileName
	if name == "" {
		name = string(attachment.Type) + "-" + id + extensionsByMIME[strings.ToLower(doc.MimeType)]
	}
	attachment.URI = mediaURI(chatID, messageID, name)

	return attachment
}

// documentMediaType trusts audio and video attributes over the MIME type;
// voice notes and round videos ship generic MIME types.
func documentMediaType(doc *tg.Document) snipebot.MediaType {
	for _, attribute := range doc.Attributes {
		switch attribute.(type) {
		case *tg.DocumentAttributeAudio:
			return snipebot.MediaTypeAudio
		case *tg.DocumentAttributeVideo:
			return snipebot.MediaTypeVideo
		}
	}

	major, _, _ := strings.Cut(doc.MimeType, "/")
	switch major {
	case "image":
		return snipebot.MediaTypePhoto
	case "video":
		return snipebot.MediaTypeVideo
	case "audio":
		return snipebot.MediaTypeAudio
	default:
		return snipebot.MediaTypeDocument
	}
}

// mediaURI builds tg://media/<chat>/<message>/<name>.
func mediaURI(chatID, messageID, name string) string {
	return mediaURIScheme + chatID + "/" + messageID + "/" + name
}
