package services

import (
	"testing"
	"time"

	"github.com/dapmeet/backend/models"
)

func TestResolveSessionID(t *testing.T) {
	now := time.Date(2026, 8, 27, 15, 0, 0, 0, time.UTC)

	tests := []struct {
		name           string
		latest         *models.Meeting
		expectedID     string
		expectedExists bool
	}{
		{
			name:           "no previous session",
			latest:         nil,
			expectedID:     "abc-def-ghi-user1",
			expectedExists: false,
		},
		{
			name: "recent session reused",
			latest: &models.Meeting{
				UniqueSessionID: "abc-def-ghi-user1",
				CreatedAt:       now.Add(-2 * time.Hour),
			},
			expectedID:     "abc-def-ghi-user1",
			expectedExists: true,
		},
		{
			name: "session just inside the window",
			latest: &models.Meeting{
				UniqueSessionID: "abc-def-ghi-user1",
				CreatedAt:       now.Add(-SessionWindow + time.Minute),
			},
			expectedID:     "abc-def-ghi-user1",
			expectedExists: true,
		},
		{
			name: "expired session rolls over to dated id",
			latest: &models.Meeting{
				UniqueSessionID: "abc-def-ghi-user1",
				CreatedAt:       now.Add(-30 * time.Hour),
			},
			expectedID:     "abc-def-ghi-user1-2026-08-27",
			expectedExists: false,
		},
		{
			name: "expired dated session on the same day resolves to itself",
			latest: &models.Meeting{
				UniqueSessionID: "abc-def-ghi-user1-2026-08-27",
				CreatedAt:       now.Add(-25 * time.Hour),
			},
			expectedID:     "abc-def-ghi-user1-2026-08-27",
			expectedExists: true,
		},
		{
			name: "expired dated session from a previous day rolls over",
			latest: &models.Meeting{
				UniqueSessionID: "abc-def-ghi-user1-2026-08-25",
				CreatedAt:       now.Add(-50 * time.Hour),
			},
			expectedID:     "abc-def-ghi-user1-2026-08-27",
			expectedExists: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, exists := ResolveSessionID("abc-def-ghi", "user1", tt.latest, now)
			if id != tt.expectedID {
				t.Errorf("ResolveSessionID() id = %q, expected %q", id, tt.expectedID)
			}
			if exists != tt.expectedExists {
				t.Errorf("ResolveSessionID() exists = %v, expected %v", exists, tt.expectedExists)
			}
		})
	}
}

func TestSessionBase(t *testing.T) {
	if got := SessionBase("abc-def-ghi", "user1"); got != "abc-def-ghi-user1" {
		t.Errorf("SessionBase() = %q", got)
	}
}

func TestDatedSessionIDUsesUTC(t *testing.T) {
	// 22:00 at UTC-5 is already the next day in UTC
	zone := time.FixedZone("UTC-5", -5*3600)
	at := time.Date(2026, 8, 26, 22, 0, 0, 0, zone)

	got := DatedSessionID("abc", "user1", at)
	if got != "abc-user1-2026-08-27" {
		t.Errorf("DatedSessionID() = %q, expected %q", got, "abc-user1-2026-08-27")
	}
}
