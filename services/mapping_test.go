package services

import (
	"testing"
	"time"
)

func TestMappingStoreFindName(t *testing.T) {
	store := NewMappingStore()
	store.Save("meet-1", "spaces/j5ZV3BSRHZEB/devices/227", "Alice", []string{"227", "devices/227"})
	store.Save("meet-1", "spaces/j5ZV3BSRHZEB/devices/31", "Bob", []string{"31"})

	tests := []struct {
		name     string
		deviceID string
		expected string
	}{
		{"direct match", "spaces/j5ZV3BSRHZEB/devices/227", "Alice"},
		{"variant match", "227", "Alice"},
		{"control prefix stripped", "\x01\x04spaces/j5ZV3BSRHZEB/devices/227", "Alice"},
		{"devices suffix", "garbled~~devices/31", "Bob"},
		{"last path part", "something/else/227", "Alice"},
		{"unknown device", "spaces/other/devices/999", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := store.FindName("meet-1", tt.deviceID); got != tt.expected {
				t.Errorf("FindName(%q) = %q, expected %q", tt.deviceID, got, tt.expected)
			}
		})
	}

	if got := store.FindName("meet-2", "227"); got != "" {
		t.Errorf("FindName() for unknown meeting = %q, expected empty", got)
	}
}

func TestMappingStoreSaveUpdates(t *testing.T) {
	store := NewMappingStore()
	store.Save("meet-1", "devices/5", "Old Name", nil)
	store.Save("meet-1", "devices/5", "New Name", []string{"5"})

	if got := store.FindName("meet-1", "devices/5"); got != "New Name" {
		t.Errorf("FindName() after update = %q, expected %q", got, "New Name")
	}

	mapping := store.Mapping("meet-1")
	if len(mapping) != 1 {
		t.Fatalf("Mapping() returned %d entries, expected 1", len(mapping))
	}
}

func TestMappingStoreClear(t *testing.T) {
	store := NewMappingStore()
	store.Save("meet-1", "devices/5", "Alice", nil)

	store.Clear("meet-1")

	if mapping := store.Mapping("meet-1"); mapping != nil {
		t.Errorf("Mapping() after Clear = %v, expected nil", mapping)
	}
	if got := store.FindName("meet-1", "devices/5"); got != "" {
		t.Errorf("FindName() after Clear = %q, expected empty", got)
	}
}

func TestMappingStoreCleanupExpired(t *testing.T) {
	base := time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC)

	store := NewMappingStore()
	store.now = func() time.Time { return base }
	store.Save("meet-1", "devices/5", "Alice", nil)

	// Still inside the TTL
	store.now = func() time.Time { return base.Add(MappingTTL - time.Minute) }
	store.CleanupExpired()
	if store.Mapping("meet-1") == nil {
		t.Fatal("mapping expired before its TTL")
	}

	store.now = func() time.Time { return base.Add(MappingTTL + time.Minute) }
	store.CleanupExpired()
	if store.Mapping("meet-1") != nil {
		t.Error("mapping survived past its TTL")
	}
}

func TestUnknownName(t *testing.T) {
	tests := []struct {
		deviceID string
		expected string
	}{
		{"spaces/j5ZV3BSRHZEB/devices/227", "Unknown (/227)"},
		{"ab", "Unknown (ab)"},
		{"", "Unknown ()"},
	}

	for _, tt := range tests {
		if got := UnknownName(tt.deviceID); got != tt.expected {
			t.Errorf("UnknownName(%q) = %q, expected %q", tt.deviceID, got, tt.expected)
		}
	}
}
