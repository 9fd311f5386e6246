package telegram

import (
	"strconv"
	"strings"

	"github.com/gotd/td/tg"

	"snipebot/pkg/snipebot"
)

// conversationOf names the chat a message was posted in. Unknown ids still
// produce a conversation so the event stays routable.
func conversationOf(entities tg.Entities, peer tg.PeerClass) snipebot.Conversation {
	switch typed := peer.(type) {
	case *tg.PeerUser:
		user := userActor(entities, typed.UserID)
		return snipebot.Conversation{
			ID:    user.ID,
			Type:  snipebot.ConversationTypePrivate,
			Title: user.DisplayName,
		}
	case *tg.PeerChat:
		conversation := snipebot.Conversation{
			ID:   strconv.FormatInt(typed.ChatID, 10),
			Type: snipebot.ConversationTypeGroup,
		}
		if chat, ok := entities.Chats[typed.ChatID]; ok && chat != nil {
			conversation.Title = chat.Title
		}
		return conversation
	case *tg.PeerChannel:
		return channelConversation(entities, typed.ChannelID)
	default:
		return snipebot.Conversation{}
	}
}

// channelConversation treats megagroups as groups; broadcast channels stay channels.
func channelConversation(entities tg.Entities, channelID int64) snipebot.Conversation {
	conversation := snipebot.Conversation{
		ID:   strconv.FormatInt(channelID, 10),
		Type: snipebot.ConversationTypeChannel,
	}
	if channel, ok := entities.Channels[channelID]; ok && channel != nil {
		conversation.Title = channel.Title
		if channel.Megagroup {
			conversation.Type = snipebot.ConversationTypeGroup
		}
	}

	return conversation
}

// senderOf falls back to the chat itself for channel posts and anonymous
// admins, which carry no sender.
func senderOf(entities tg.Entities, message *tg.Message) snipebot.Actor {
	from, ok := message.GetFromID()
	if !ok {
		from = message.PeerID
	}

	switch typed := from.(type) {
	case *tg.PeerUser:
		return userActor(entities, typed.UserID)
	case *tg.PeerChat, *tg.PeerChannel:
		conversation := conversationOf(entities, typed)
		return snipebot.Actor{ID: conversation.ID, DisplayName: conversation.Title}
	default:
		return snipebot.Actor{}
	}
}

func userActor(entities tg.Entities, userID int64) snipebot.Actor {
	id := strconv.FormatInt(userID, 10)
	user, ok := entities.Users[userID]
	if !ok || user == nil {
		return snipebot.Actor{ID: id, DisplayName: id}
	}

	username, _ := user.GetUsername()
	firstName, _ := user.GetFirstName()
	lastName, _ := user.GetLastName()

	name := strings.TrimSpace(firstName + " " + lastName)
	switch {
	case name != "":
	case username != "":
		name = username
	default:
		name = id
	}

	return snipebot.Actor{
		ID:          id,
		Username:    username,
		DisplayName: name,
		IsBot:       user.Bot,
	}
}
