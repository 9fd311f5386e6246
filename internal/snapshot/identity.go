package snapshot

import (
	"container/list"
	"sync"
)

type identityKey struct {
	channelID string
	messageID string
}

// identityCache is an insertion-ordered bounded map. Eviction always removes
// the oldest inserted key; lookups never promote.
type identityCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	index    map[identityKey]*list.Element
}

type identityEntry struct {
	key     identityKey
	message ObservedMessage
}

func newIdentityCache(capacity int) *identityCache {
	return &identityCache{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[identityKey]*list.Element, capacity),
	}
}

// put stores message as the newest insertion and returns how many entries were evicted.
func (c *identityCache) put(message ObservedMessage) int {
	key := identityKey{channelID: message.ChannelID, messageID: message.ID}

	c.mu.Lock()
	defer c.mu.Unlock()

	if element, exists := c.index[key]; exists {
		c.order.Remove(element)
		delete(c.index, key)
	}
	c.index[key] = c.order.PushBack(&identityEntry{key: key, message: message})

	evicted := 0
	for c.order.Len() > c.capacity {
		c.removeElement(c.order.Front())
		evicted++
	}

	return evicted
}

func (c *identityCache) get(channelID string, messageID string) (ObservedMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, exists := c.index[identityKey{channelID: channelID, messageID: messageID}]
	if !exists {
		return ObservedMessage{}, false
	}

	return element.Value.(*identityEntry).message, true
}

// replace swaps the stored message for key without changing its insertion position.
func (c *identityCache) replace(message ObservedMessage) bool {
	key := identityKey{channelID: message.ChannelID, messageID: message.ID}

	c.mu.Lock()
	defer c.mu.Unlock()

	element, exists := c.index[key]
	if !exists {
		return false
	}
	element.Value.(*identityEntry).message = message

	return true
}

// pruneWhile drops oldest-inserted entries for as long as stale reports true.
func (c *identityCache) pruneWhile(stale func(ObservedMessage) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	pruned := 0
	for element := c.order.Front(); element != nil; element = c.order.Front() {
		if !stale(element.Value.(*identityEntry).message) {
			break
		}
		c.removeElement(element)
		pruned++
	}

	return pruned
}

func (c *identityCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.order.Len()
}

func (c *identityCache) keys() []identityKey {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]identityKey, 0, c.order.Len())
	for element := c.order.Front(); element != nil; element = element.Next() {
		keys = append(keys, element.Value.(*identityEntry).key)
	}

	return keys
}

func (c *identityCache) removeElement(element *list.Element) {
	entry := element.Value.(*identityEntry)
	delete(c.index, entry.key)
	c.order.Remove(element)
}
