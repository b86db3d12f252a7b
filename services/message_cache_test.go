package services

import (
	"testing"
	"time"
)

func uint32Ptr(v uint32) *uint32 { return &v }

func TestMessageCacheDuplicateDetection(t *testing.T) {
	cache := NewMessageCache()

	msgID := uint32Ptr(42)
	if cache.IsDuplicate("meet-1", msgID, "devices/5", "hello", 1) {
		t.Error("IsDuplicate() = true before anything was remembered")
	}

	cache.Remember("meet-1", msgID, "devices/5", "hello", 1)

	if !cache.IsDuplicate("meet-1", msgID, "devices/5", "hello", 1) {
		t.Error("IsDuplicate() = false for identical line")
	}
	if cache.IsDuplicate("meet-1", msgID, "devices/5", "hello there", 1) {
		t.Error("IsDuplicate() = true for changed text, expected update")
	}
	if cache.IsDuplicate("meet-1", msgID, "devices/5", "hello", 2) {
		t.Error("IsDuplicate() = true for changed version, expected update")
	}
	if cache.IsDuplicate("meet-2", msgID, "devices/5", "hello", 1) {
		t.Error("IsDuplicate() = true across meetings")
	}
	if cache.IsDuplicate("meet-1", uint32Ptr(43), "devices/5", "hello", 1) {
		t.Error("IsDuplicate() = true across message ids")
	}
	if cache.IsDuplicate("meet-1", msgID, "devices/6", "hello", 1) {
		t.Error("IsDuplicate() = true across devices")
	}
}

func TestMessageCacheNilMessageID(t *testing.T) {
	cache := NewMessageCache()

	cache.Remember("meet-1", nil, "devices/5", "no id line", 1)

	if !cache.IsDuplicate("meet-1", nil, "devices/5", "no id line", 1) {
		t.Error("IsDuplicate() = false for identical line without message id")
	}
	if cache.IsDuplicate("meet-1", uint32Ptr(1), "devices/5", "no id line", 1) {
		t.Error("nil and numeric message ids share a cache entry")
	}
}

func TestMessageCacheTTLExpiry(t *testing.T) {
	base := time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC)

	cache := NewMessageCache()
	cache.now = func() time.Time { return base }
	cache.Remember("meet-1", uint32Ptr(1), "devices/5", "hello", 1)

	cache.now = func() time.Time { return base.Add(MessageCacheTTL - time.Minute) }
	if !cache.IsDuplicate("meet-1", uint32Ptr(1), "devices/5", "hello", 1) {
		t.Error("entry expired before its TTL")
	}

	cache.now = func() time.Time { return base.Add(MessageCacheTTL + time.Minute) }
	if cache.IsDuplicate("meet-1", uint32Ptr(1), "devices/5", "hello", 1) {
		t.Error("entry survived past its TTL")
	}
}

func TestMessageCacheCleanupExpired(t *testing.T) {
	base := time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC)

	cache := NewMessageCache()
	cache.now = func() time.Time { return base }
	cache.Remember("meet-1", uint32Ptr(1), "devices/5", "old", 1)

	cache.now = func() time.Time { return base.Add(MessageCacheTTL + time.Minute) }
	cache.Remember("meet-1", uint32Ptr(2), "devices/5", "fresh", 1)
	cache.CleanupExpired()

	if cache.IsDuplicate("meet-1", uint32Ptr(1), "devices/5", "old", 1) {
		t.Error("expired entry survived cleanup")
	}
	if !cache.IsDuplicate("meet-1", uint32Ptr(2), "devices/5", "fresh", 1) {
		t.Error("fresh entry was dropped by cleanup")
	}
}
