package services

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

// MappingTTL is how long a meeting's participant directory lives
// without a new roster sync.
const MappingTTL = 24 * time.Hour

// ParticipantEntry is one participant as synced by the extension.
type ParticipantEntry struct {
	Name      string    `json:"name"`
	Variants  []string  `json:"variants"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MappingStore is the in-memory participant directory. Each meeting
// maps device ids to names, with a variant index so the garbled device
// ids coming out of raw payloads still resolve.
type MappingStore struct {
	mu      sync.RWMutex
	entries map[string]map[string]ParticipantEntry
	index   map[string]map[string]string
	expiry  map[string]time.Time
	now     func() time.Time
}

func NewMappingStore() *MappingStore {
	return &MappingStore{
		entries: make(map[string]map[string]ParticipantEntry),
		index:   make(map[string]map[string]string),
		expiry:  make(map[string]time.Time),
		now:     time.Now,
	}
}

// Save upserts one participant and indexes the device id plus every
// non-empty variant. The meeting's expiry is refreshed.
func (m *MappingStore) Save(meetingID, deviceID, name string, variants []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.entries[meetingID] == nil {
		m.entries[meetingID] = make(map[string]ParticipantEntry)
		m.index[meetingID] = make(map[string]string)
	}

	now := m.now()
	_, existed := m.entries[meetingID][deviceID]
	m.entries[meetingID][deviceID] = ParticipantEntry{
		Name:      name,
		Variants:  variants,
		UpdatedAt: now,
	}

	for _, variant := range append([]string{deviceID}, variants...) {
		if variant != "" {
			m.index[meetingID][variant] = deviceID
		}
	}

	m.expiry[meetingID] = now.Add(MappingTTL)

	action := "created"
	if existed {
		action = "updated"
	}
	slog.Info("Participant mapping saved", "meeting_id", meetingID, "device_id", deviceID, "name", name, "variants", len(variants), "action", action)
}

// FindName resolves a device id to a participant name. Raw payloads
// deliver the id in several mangled shapes, so lookups go from exact to
// increasingly loose: direct, control-prefix stripped, path fragments,
// then the full variant index. Empty means no match.
func (m *MappingStore) FindName(meetingID, deviceID string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries, ok := m.entries[meetingID]
	if !ok {
		slog.Warn("No participant mapping for meeting", "meeting_id", meetingID, "device_id", deviceID)
		return ""
	}
	index := m.index[meetingID]

	if entry, ok := entries[deviceID]; ok {
		return entry.Name
	}

	if cleaned := stripControlPrefix(deviceID); cleaned != "" && cleaned != deviceID {
		if entry, ok := entries[cleaned]; ok {
			return entry.Name
		}
		if name, ok := m.lookupIndexed(entries, index, cleaned); ok {
			return name
		}
	}

	if strings.Contains(deviceID, "devices/") {
		parts := strings.Split(deviceID, "devices/")
		if name, ok := m.lookupIndexed(entries, index, parts[len(parts)-1]); ok {
			return name
		}
		if strings.Contains(deviceID, "spaces/") {
			spaceParts := strings.Split(deviceID, "spaces/")
			if name, ok := m.lookupIndexed(entries, index, spaceParts[len(spaceParts)-1]); ok {
				return name
			}
		}
	}

	if strings.Contains(deviceID, "/") {
		parts := strings.Split(deviceID, "/")
		if name, ok := m.lookupIndexed(entries, index, parts[len(parts)-1]); ok {
			return name
		}
		if len(parts) >= 2 && parts[len(parts)-2] == "devices" {
			if name, ok := m.lookupIndexed(entries, index, parts[len(parts)-1]); ok {
				return name
			}
		}
	}

	if name, ok := m.lookupIndexed(entries, index, deviceID); ok {
		return name
	}

	slog.Warn("Participant not found in mapping", "meeting_id", meetingID, "device_id", deviceID, "mappings", len(entries), "index_entries", len(index))
	return ""
}

func (m *MappingStore) lookupIndexed(entries map[string]ParticipantEntry, index map[string]string, key string) (string, bool) {
	mappedID, ok := index[key]
	if !ok {
		return "", false
	}
	entry, ok := entries[mappedID]
	if !ok {
		return "", false
	}
	return entry.Name, true
}

// Mapping returns a snapshot of the meeting's directory, nil when the
// meeting has none.
func (m *MappingStore) Mapping(meetingID string) map[string]ParticipantEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries, ok := m.entries[meetingID]
	if !ok {
		return nil
	}

	snapshot := make(map[string]ParticipantEntry, len(entries))
	for deviceID, entry := range entries {
		snapshot[deviceID] = entry
	}
	slog.Info("Participant mapping retrieved", "meeting_id", meetingID, "participants", len(snapshot))
	return snapshot
}

// Clear drops the meeting's directory, index, and expiry.
func (m *MappingStore) Clear(meetingID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearLocked(meetingID)
	slog.Info("Participant mapping cleared", "meeting_id", meetingID)
}

func (m *MappingStore) clearLocked(meetingID string) {
	delete(m.entries, meetingID)
	delete(m.index, meetingID)
	delete(m.expiry, meetingID)
}

// CleanupExpired drops meetings whose TTL has passed.
func (m *MappingStore) CleanupExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	expired := 0
	for meetingID, deadline := range m.expiry {
		if deadline.Before(now) {
			m.clearLocked(meetingID)
			expired++
		}
	}
	if expired > 0 {
		slog.Info("Expired participant mappings cleaned up", "count", expired)
	}
}

// UnknownName labels an unmapped speaker by the tail of their device id.
func UnknownName(deviceID string) string {
	lastChars := deviceID
	if len(deviceID) >= 4 {
		lastChars = deviceID[len(deviceID)-4:]
	}
	return "Unknown (" + lastChars + ")"
}

// stripControlPrefix removes leading control bytes (0x00-0x1F) that raw
// payload extraction sometimes leaves on a device id.
func stripControlPrefix(deviceID string) string {
	return strings.TrimLeft(deviceID, "\x00\x01\x02\x03\x04\x05\x06\x07\x08\x09\x0a\x0b\x0c\x0d\x0e\x0f\x10\x11\x12\x13\x14\x15\x16\x17\x18\x19\x1a\x1b\x1c\x1d\x1e\x1f")
}
