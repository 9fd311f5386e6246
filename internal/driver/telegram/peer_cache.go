package telegram

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/gotd/td/tg"

	"snipebot/pkg/snipebot"
)

// PeerCache remembers the access hashes Telegram ships alongside updates.
// Bots cannot resolve a bare id, so every outbound call and member lookup
// goes through peers seen earlier in an update.
type PeerCache struct {
	mu       sync.RWMutex
	users    map[int64]tg.InputPeerUser
	chats    map[int64]tg.InputPeerChat
	channels map[int64]tg.InputPeerChannel
}

// NewPeerCache creates an empty cache.
func NewPeerCache() *PeerCache {
	return &PeerCache{
		users:    make(map[int64]tg.InputPeerUser),
		chats:    make(map[int64]tg.InputPeerChat),
		channels: make(map[int64]tg.InputPeerChannel),
	}
}

// Remember records every user, basic group and channel in entities.
func (c *PeerCache) Remember(entities tg.Entities) {
	if c == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for id, user := range entities.Users {
		if user != nil {
			c.users[id] = *user.AsInputPeer()
		}
	}
	for id, chat := range entities.Chats {
		if chat != nil {
			c.chats[id] = *chat.AsInputPeer()
		}
	}
	for id, channel := range entities.Channels {
		if channel != nil {
			c.channels[id] = *channel.AsInputPeer()
		}
	}
}

// Resolve returns the input peer for a conversation of a decoded event.
// Supergroups are decoded as groups but addressed as channels.
func (c *PeerCache) Resolve(conversation snipebot.Conversation) (tg.InputPeerClass, error) {
	if c == nil {
		return nil, fmt.Errorf("resolve peer: nil cache")
	}
	id, err := strconv.ParseInt(conversation.ID, 10, 64)
	if err != nil || id == 0 {
		return nil, fmt.Errorf("resolve peer: invalid conversation id %q", conversation.ID)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	switch conversation.Type {
	case snipebot.ConversationTypePrivate:
		if peer, ok := c.users[id]; ok {
			return &peer, nil
		}
	case snipebot.ConversationTypeGroup:
		if peer, ok := c.channels[id]; ok {
			return &peer, nil
		}
		if peer, ok := c.chats[id]; ok {
			return &peer, nil
		}
	case snipebot.ConversationTypeChannel:
		if peer, ok := c.channels[id]; ok {
			return &peer, nil
		}
	}

	return nil, fmt.Errorf("resolve peer: %s %s not seen yet", conversation.Type, conversation.ID)
}

// ResolveChannel returns the input channel of a supergroup or channel.
func (c *PeerCache) ResolveChannel(channelID string) (*tg.InputChannel, error) {
	if c == nil {
		return nil, fmt.Errorf("resolve channel: nil cache")
	}
	id, err := strconv.ParseInt(channelID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("resolve channel: invalid id %q", channelID)
	}

	c.mu.RLock()
	peer, ok := c.channels[id]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("resolve channel: %s is not a known channel", channelID)
	}

	return &tg.InputChannel{ChannelID: peer.ChannelID, AccessHash: peer.AccessHash}, nil
}

// ResolveUser returns the input peer of a user seen in any update.
func (c *PeerCache) ResolveUser(userID string) (tg.InputPeerClass, error) {
	peer, err := c.Resolve(snipebot.Conversation{ID: userID, Type: snipebot.ConversationTypePrivate})
	if err != nil {
		return nil, fmt.Errorf("resolve user: %w", err)
	}

	return peer, nil
}
