package services

import (
	"log/slog"
	"strconv"
	"sync"
	"time"
)

// MessageCacheTTL is how long a processed caption line counts toward
// duplicate detection.
const MessageCacheTTL = time.Hour

type cachedMessage struct {
	text        string
	version     uint32
	processedAt time.Time
}

// MessageCache remembers recently stored caption lines so retransmitted
// payloads are dropped instead of written twice. A line with the same
// key but different text or version is an update, not a duplicate.
type MessageCache struct {
	mu      sync.Mutex
	entries map[string]map[string]cachedMessage
	now     func() time.Time
}

func NewMessageCache() *MessageCache {
	return &MessageCache{
		entries: make(map[string]map[string]cachedMessage),
		now:     time.Now,
	}
}

func messageCacheKey(meetingID string, messageID *uint32, deviceID string) string {
	msgID := "none"
	if messageID != nil {
		msgID = strconv.FormatUint(uint64(*messageID), 10)
	}
	return meetingID + ":messages:" + msgID + "/" + deviceID
}

// IsDuplicate reports whether this exact line was already stored within
// the TTL. Expired entries are evicted on the way.
func (c *MessageCache) IsDuplicate(meetingID string, messageID *uint32, deviceID, text string, version uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	meeting, ok := c.entries[meetingID]
	if !ok {
		return false
	}

	key := messageCacheKey(meetingID, messageID, deviceID)
	cached, ok := meeting[key]
	if !ok {
		return false
	}

	if cached.processedAt.Add(MessageCacheTTL).Before(c.now()) {
		delete(meeting, key)
		if len(meeting) == 0 {
			delete(c.entries, meetingID)
		}
		return false
	}

	return cached.text == text && cached.version == version
}

// Remember stores the line. Call only after the DB insert succeeded, so
// an insert failure never suppresses the retry.
func (c *MessageCache) Remember(meetingID string, messageID *uint32, deviceID, text string, version uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.entries[meetingID] == nil {
		c.entries[meetingID] = make(map[string]cachedMessage)
	}

	c.entries[meetingID][messageCacheKey(meetingID, messageID, deviceID)] = cachedMessage{
		text:        text,
		version:     version,
		processedAt: c.now(),
	}
}

// CleanupExpired sweeps entries past the TTL and drops empty meetings.
func (c *MessageCache) CleanupExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	expired := 0
	for meetingID, meeting := range c.entries {
		for key, cached := range meeting {
			if cached.processedAt.Add(MessageCacheTTL).Before(now) {
				delete(meeting, key)
				expired++
			}
		}
		if len(meeting) == 0 {
			delete(c.entries, meetingID)
		}
	}
	if expired > 0 {
		slog.Info("Expired message cache entries cleaned up", "count", expired)
	}
}
