package services

import (
	"encoding/json"
	"hash/fnv"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dapmeet/backend/models"
	"github.com/dapmeet/backend/repository"
	ws "github.com/dapmeet/backend/websocket"
	"github.com/go-chi/chi/v5"
)

type MeetingEndpoints struct {
	repo     *repository.GORMRepository
	resolver *SessionResolver
	mappings *MappingStore
	decoder  *Decoder
	msgCache *MessageCache
	hub      *ws.Hub
}

type CreateMeetingRequest struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type MeetingSummary struct {
	UniqueSessionID string    `json:"unique_session_id"`
	MeetingID       string    `json:"meeting_id"`
	UserID          string    `json:"user_id"`
	Title           string    `json:"title"`
	CreatedAt       time.Time `json:"created_at"`
	Speakers        []string  `json:"speakers"`
	LastMessage     *string   `json:"last_message,omitempty"`
}

type MeetingListResponse struct {
	Meetings []MeetingSummary `json:"meetings"`
	Total    int64            `json:"total"`
	Limit    int              `json:"limit"`
	Offset   int              `json:"offset"`
	HasMore  bool             `json:"has_more"`
}

type MeetingDetailResponse struct {
	UniqueSessionID string                     `json:"unique_session_id"`
	MeetingID       string                     `json:"meeting_id"`
	UserID          string                     `json:"user_id"`
	Title           string                     `json:"title"`
	CreatedAt       time.Time                  `json:"created_at"`
	Speakers        []string                   `json:"speakers"`
	Segments        []models.TranscriptSegment `json:"segments"`
}

type ParticipantSync struct {
	DeviceID string   `json:"deviceId"`
	Name     string   `json:"name"`
	Variants []string `json:"variants"`
}

type ParticipantsSyncRequest struct {
	SessionID    string            `json:"sessionId"`
	SpaceID      string            `json:"spaceId,omitempty"`
	Participants []ParticipantSync `json:"participants"`
}

type ParticipantsResponse struct {
	Participants []ParticipantSync `json:"participants"`
	LastUpdated  *time.Time        `json:"last_updated,omitempty"`
}

type CreateSegmentRequest struct {
	GoogleMeetUserID string    `json:"google_meet_user_id"`
	Username         string    `json:"username"`
	Timestamp        time.Time `json:"timestamp"`
	Text             string    `json:"text"`
	Version          int       `json:"ver"`
	MessageID        *string   `json:"mess_id,omitempty"`
}

type RawTranscriptRequest struct {
	RawData   string     `json:"rawData"`
	Label     string     `json:"label"`
	SessionID string     `json:"sessionId"`
	SpaceID   string     `json:"spaceId,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

type DecodedData struct {
	DeviceID  string  `json:"device_id"`
	MessageID *uint32 `json:"message_id"`
	Text      string  `json:"text"`
	Version   uint32  `json:"version"`
	LangID    *int    `json:"lang_id"`
	Username  string  `json:"username"`
}

type RawTranscriptResponse struct {
	Success bool         `json:"success"`
	Decoded *DecodedData `json:"decoded"`
	Saved   bool         `json:"saved"`
	Error   string       `json:"error,omitempty"`
}

func NewMeetingEndpoints(repo *repository.GORMRepository, resolver *SessionResolver, mappings *MappingStore, decoder *Decoder, msgCache *MessageCache, hub *ws.Hub) *MeetingEndpoints {
	return &MeetingEndpoints{
		repo:     repo,
		resolver: resolver,
		mappings: mappings,
		decoder:  decoder,
		msgCache: msgCache,
		hub:      hub,
	}
}

func (e *MeetingEndpoints) RegisterRoutes(r chi.Router) {
	r.Route("/meetings", func(r chi.Router) {
		r.Get("/", e.ListMeetingsHandler)
		r.Post("/", e.CreateMeetingHandler)
		r.Get("/{id}/info", e.MeetingInfoHandler)
		r.Post("/{id}/participants", e.SyncParticipantsHandler)
		r.Get("/{id}/participants", e.GetParticipantsHandler)
		r.Delete("/{id}/participants", e.ClearParticipantsHandler)
		r.Post("/{id}/segments", e.AddSegmentHandler)
		r.Post("/{id}/raw-transcript", e.RawTranscriptHandler)
		r.Get("/{id}", e.GetMeetingHandler)
		r.Delete("/{id}", e.DeleteMeetingHandler)
	})
}

func (e *MeetingEndpoints) ListMeetingsHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := r.Context().Value("user").(*models.User)
	if !ok {
		http.Error(w, "User not found in context", http.StatusInternalServerError)
		return
	}

	limit := 50
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil {
		limit = v
	}
	limit = min(max(limit, 1), 100)

	offset := 0
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil {
		offset = max(v, 0)
	}

	meetings, total, err := e.repo.ListMeetings(r.Context(), user.ID, limit, offset)
	if err != nil {
		http.Error(w, "Failed to list meetings", http.StatusInternalServerError)
		return
	}

	sessionIDs := make([]string, 0, len(meetings))
	for _, meeting := range meetings {
		sessionIDs = append(sessionIDs, meeting.UniqueSessionID)
	}

	speakers, err := e.repo.GetSessionSpeakers(r.Context(), sessionIDs)
	if err != nil {
		http.Error(w, "Failed to list meetings", http.StatusInternalServerError)
		return
	}
	latest, err := e.repo.GetLatestAssistantMessages(r.Context(), sessionIDs)
	if err != nil {
		http.Error(w, "Failed to list meetings", http.StatusInternalServerError)
		return
	}

	summaries := make([]MeetingSummary, 0, len(meetings))
	for _, meeting := range meetings {
		summary := MeetingSummary{
			UniqueSessionID: meeting.UniqueSessionID,
			MeetingID:       meeting.MeetingID,
			UserID:          meeting.UserID,
			Title:           meeting.Title,
			CreatedAt:       meeting.CreatedAt,
			Speakers:        speakers[meeting.UniqueSessionID],
		}
		if summary.Speakers == nil {
			summary.Speakers = []string{}
		}
		if msg, ok := latest[meeting.UniqueSessionID]; ok {
			content := msg.Content
			summary.LastMessage = &content
		}
		summaries = append(summaries, summary)
	}

	response := MeetingListResponse{
		Meetings: summaries,
		Total:    total,
		Limit:    limit,
		Offset:   offset,
		HasMore:  int64(offset+len(summaries)) < total,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)

	slog.Info("Meetings listed", "user_id", user.ID, "count", len(summaries), "total", total)
}

func (e *MeetingEndpoints) CreateMeetingHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := r.Context().Value("user").(*models.User)
	if !ok {
		http.Error(w, "User not found in context", http.StatusInternalServerError)
		return
	}

	var req CreateMeetingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ID == "" {
		http.Error(w, "Meeting ID is required", http.StatusBadRequest)
		return
	}

	meeting, created, err := e.resolver.GetOrCreateMeeting(r.Context(), req.ID, req.Title, user)
	if err != nil {
		http.Error(w, "Failed to create meeting", http.StatusInternalServerError)
		return
	}

	loaded, err := e.repo.GetMeetingWithSegments(r.Context(), meeting.UniqueSessionID, user.ID)
	if err != nil || loaded == nil {
		http.Error(w, "Failed to load meeting", http.StatusInternalServerError)
		return
	}
	if loaded.Segments == nil {
		loaded.Segments = []models.TranscriptSegment{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(loaded)

	slog.Info("Meeting resolved", "session_id", meeting.UniqueSessionID, "user_id", user.ID, "created", created)
}

func (e *MeetingEndpoints) MeetingInfoHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := r.Context().Value("user").(*models.User)
	if !ok {
		http.Error(w, "User not found in context", http.StatusInternalServerError)
		return
	}

	meetingID := chi.URLParam(r, "id")
	meeting, err := e.resolver.GetActiveMeeting(r.Context(), meetingID, user)
	if err != nil {
		http.Error(w, "Failed to get meeting", http.StatusInternalServerError)
		return
	}
	if meeting == nil {
		http.Error(w, "Meeting not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(meeting)
}

func (e *MeetingEndpoints) GetMeetingHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := r.Context().Value("user").(*models.User)
	if !ok {
		http.Error(w, "User not found in context", http.StatusInternalServerError)
		return
	}

	meetingID := chi.URLParam(r, "id")
	sessionID := SessionBase(meetingID, user.ID)

	meeting, err := e.repo.GetMeeting(r.Context(), sessionID, user.ID)
	if err != nil {
		http.Error(w, "Failed to get meeting", http.StatusInternalServerError)
		return
	}
	if meeting == nil {
		http.Error(w, "Meeting not found", http.StatusNotFound)
		return
	}

	segments, err := e.repo.GetDedupedSegments(r.Context(), sessionID)
	if err != nil {
		http.Error(w, "Failed to get segments", http.StatusInternalServerError)
		return
	}
	speakers, err := e.repo.GetSessionSpeakers(r.Context(), []string{sessionID})
	if err != nil {
		http.Error(w, "Failed to get speakers", http.StatusInternalServerError)
		return
	}

	response := MeetingDetailResponse{
		UniqueSessionID: meeting.UniqueSessionID,
		MeetingID:       meeting.MeetingID,
		UserID:          meeting.UserID,
		Title:           meeting.Title,
		CreatedAt:       meeting.CreatedAt,
		Speakers:        speakers[sessionID],
		Segments:        segments,
	}
	if response.Speakers == nil {
		response.Speakers = []string{}
	}
	if response.Segments == nil {
		response.Segments = []models.TranscriptSegment{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)

	slog.Info("Meeting retrieved", "session_id", sessionID, "user_id", user.ID, "segments", len(segments))
}

func (e *MeetingEndpoints) DeleteMeetingHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := r.Context().Value("user").(*models.User)
	if !ok {
		http.Error(w, "User not found in context", http.StatusInternalServerError)
		return
	}

	meetingID := chi.URLParam(r, "id")
	sessionID := SessionBase(meetingID, user.ID)

	meeting, err := e.repo.GetMeeting(r.Context(), sessionID, user.ID)
	if err != nil {
		http.Error(w, "Failed to get meeting", http.StatusInternalServerError)
		return
	}
	if meeting == nil {
		http.Error(w, "Meeting not found", http.StatusNotFound)
		return
	}

	if err := e.repo.DeleteMeeting(r.Context(), sessionID, user.ID); err != nil {
		http.Error(w, "Failed to delete meeting", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (e *MeetingEndpoints) SyncParticipantsHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := r.Context().Value("user").(*models.User)
	if !ok {
		http.Error(w, "User not found in context", http.StatusInternalServerError)
		return
	}

	meetingID := chi.URLParam(r, "id")

	var req ParticipantsSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	meeting, err := e.repo.GetLatestMeetingByPrefix(r.Context(), SessionBase(meetingID, user.ID))
	if err != nil {
		http.Error(w, "Failed to sync participants", http.StatusInternalServerError)
		return
	}
	if meeting == nil {
		http.Error(w, "Meeting not found", http.StatusNotFound)
		return
	}

	for _, participant := range req.Participants {
		e.mappings.Save(meetingID, participant.DeviceID, participant.Name, participant.Variants)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":             "ok",
		"participants_count": len(req.Participants),
	})

	slog.Info("Participants synced", "meeting_id", meetingID, "user_id", user.ID, "count", len(req.Participants))
}

func (e *MeetingEndpoints) GetParticipantsHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := r.Context().Value("user").(*models.User)
	if !ok {
		http.Error(w, "User not found in context", http.StatusInternalServerError)
		return
	}

	meetingID := chi.URLParam(r, "id")

	meeting, err := e.repo.GetLatestMeetingByPrefix(r.Context(), SessionBase(meetingID, user.ID))
	if err != nil {
		http.Error(w, "Failed to get participants", http.StatusInternalServerError)
		return
	}
	if meeting == nil {
		http.Error(w, "Meeting not found", http.StatusNotFound)
		return
	}

	mapping := e.mappings.Mapping(meetingID)
	if mapping == nil {
		http.Error(w, "Participants mapping not found", http.StatusNotFound)
		return
	}

	response := ParticipantsResponse{Participants: make([]ParticipantSync, 0, len(mapping))}
	for deviceID, entry := range mapping {
		response.Participants = append(response.Participants, ParticipantSync{
			DeviceID: deviceID,
			Name:     entry.Name,
			Variants: entry.Variants,
		})
		if response.LastUpdated == nil || entry.UpdatedAt.After(*response.LastUpdated) {
			updatedAt := entry.UpdatedAt
			response.LastUpdated = &updatedAt
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (e *MeetingEndpoints) ClearParticipantsHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := r.Context().Value("user").(*models.User)
	if !ok {
		http.Error(w, "User not found in context", http.StatusInternalServerError)
		return
	}

	meetingID := chi.URLParam(r, "id")

	meeting, err := e.repo.GetLatestMeetingByPrefix(r.Context(), SessionBase(meetingID, user.ID))
	if err != nil {
		http.Error(w, "Failed to clear participants", http.StatusInternalServerError)
		return
	}
	if meeting == nil {
		http.Error(w, "Meeting not found", http.StatusNotFound)
		return
	}

	e.mappings.Clear(meetingID)
	w.WriteHeader(http.StatusNoContent)
}

func (e *MeetingEndpoints) AddSegmentHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := r.Context().Value("user").(*models.User)
	if !ok {
		http.Error(w, "User not found in context", http.StatusInternalServerError)
		return
	}

	meetingID := chi.URLParam(r, "id")
	sessionID := SessionBase(meetingID, user.ID)

	var req CreateSegmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Version <= 0 {
		req.Version = 1
	}

	meeting, err := e.repo.GetMeeting(r.Context(), sessionID, user.ID)
	if err != nil {
		http.Error(w, "Failed to get meeting", http.StatusInternalServerError)
		return
	}
	if meeting == nil {
		http.Error(w, "Meeting not found", http.StatusNotFound)
		return
	}

	segment := &models.TranscriptSegment{
		SessionID:       sessionID,
		DeviceID:        req.GoogleMeetUserID,
		SpeakerUsername: req.Username,
		Timestamp:       req.Timestamp,
		Text:            req.Text,
		Version:         req.Version,
		MessageID:       req.MessageID,
	}
	if err := e.repo.CreateSegment(r.Context(), segment); err != nil {
		http.Error(w, "Failed to save transcript segment", http.StatusInternalServerError)
		return
	}

	e.broadcastSegment(segment)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(segment)
}

// RawTranscriptHandler decodes one raw caption payload and stores it as
// a segment. Decode failures answer 200 with success=false so the
// extension keeps streaming instead of retrying.
func (e *MeetingEndpoints) RawTranscriptHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := r.Context().Value("user").(*models.User)
	if !ok {
		http.Error(w, "User not found in context", http.StatusInternalServerError)
		return
	}

	meetingID := chi.URLParam(r, "id")

	var req RawTranscriptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	meeting, err := e.repo.GetLatestMeetingByPrefix(r.Context(), SessionBase(meetingID, user.ID))
	if err != nil {
		http.Error(w, "Failed to process raw transcript", http.StatusInternalServerError)
		return
	}
	if meeting == nil {
		http.Error(w, "Meeting not found", http.StatusNotFound)
		return
	}
	sessionID := meeting.UniqueSessionID

	decoded, err := e.decoder.Decode(req.RawData)
	if err != nil {
		slog.Error("Raw transcript decode failed", "error", err, "meeting_id", meetingID, "label", req.Label)
		writeRawTranscriptResponse(w, RawTranscriptResponse{
			Success: false,
			Error:   "Failed to decode: " + err.Error(),
		})
		return
	}

	deviceID := strings.TrimSpace(strings.Trim(decoded.DeviceID, "\x00\x01\x02\x03\x04\x05\x06\x07\x08\x0b\x0c"))
	if deviceID == "" && decoded.Text != "" {
		deviceID = fallbackDeviceID(decoded.MessageID, req.SessionID, meetingID, req.Timestamp)
		slog.Warn("Device id missing, using fallback", "meeting_id", meetingID, "device_id", deviceID)
	}

	if deviceID == "" || decoded.Text == "" {
		slog.Warn("Decoded payload missing device id or text", "meeting_id", meetingID, "device_id", deviceID, "text_len", len(decoded.Text))
		writeRawTranscriptResponse(w, RawTranscriptResponse{
			Success: false,
			Error:   "Decoded data missing device_id or text",
		})
		return
	}

	deviceID = sanitizeDeviceID(deviceID)

	username := e.mappings.FindName(meetingID, deviceID)
	if username == "" {
		username = UnknownName(deviceID)
	}
	if len(username) > 200 {
		username = username[:200]
	}

	saved := false
	var saveErr string
	if !e.msgCache.IsDuplicate(meetingID, decoded.MessageID, deviceID, decoded.Text, decoded.Version) {
		timestamp := time.Now().UTC()
		if req.Timestamp != nil {
			timestamp = *req.Timestamp
		}

		var messageID *string
		if decoded.MessageID != nil {
			str := strconv.FormatUint(uint64(*decoded.MessageID), 10)
			messageID = &str
		}

		segment := &models.TranscriptSegment{
			SessionID:       sessionID,
			DeviceID:        deviceID,
			SpeakerUsername: username,
			Timestamp:       timestamp,
			Text:            decoded.Text,
			Version:         int(decoded.Version),
			MessageID:       messageID,
		}
		if err := e.repo.CreateSegment(r.Context(), segment); err != nil {
			saveErr = "Failed to save segment: " + err.Error()
		} else {
			saved = true
			// Cache only confirmed writes so a failed insert is retried
			e.msgCache.Remember(meetingID, decoded.MessageID, deviceID, decoded.Text, decoded.Version)
			e.broadcastSegment(segment)
		}
	} else {
		slog.Debug("Skipped duplicate caption", "meeting_id", meetingID, "device_id", deviceID)
	}

	writeRawTranscriptResponse(w, RawTranscriptResponse{
		Success: true,
		Decoded: &DecodedData{
			DeviceID:  deviceID,
			MessageID: decoded.MessageID,
			Text:      decoded.Text,
			Version:   decoded.Version,
			LangID:    decoded.LangID,
			Username:  username,
		},
		Saved: saved,
		Error: saveErr,
	})
}

func (e *MeetingEndpoints) broadcastSegment(segment *models.TranscriptSegment) {
	e.hub.BroadcastSegment(ws.SegmentEvent{
		SessionID: segment.SessionID,
		Speaker:   segment.SpeakerUsername,
		Text:      segment.Text,
		Timestamp: segment.Timestamp,
		Version:   segment.Version,
	})
}

func writeRawTranscriptResponse(w http.ResponseWriter, response RawTranscriptResponse) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// fallbackDeviceID builds a synthetic device id for payloads that carry
// text but no usable device path. The message id keeps it stable across
// retransmissions; without one it falls back to the session and the
// payload timestamp.
func fallbackDeviceID(messageID *uint32, sessionID, meetingID string, timestamp *time.Time) string {
	if messageID != nil {
		return "fallback_msg_" + strconv.FormatUint(uint64(*messageID), 10)
	}

	suffix := sessionID
	if suffix == "" {
		suffix = meetingID
	}
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}

	var tsHash uint32
	if timestamp != nil {
		h := fnv.New32a()
		h.Write([]byte(timestamp.UTC().String()))
		tsHash = h.Sum32() % 1000000
	}
	return "fallback_" + suffix + "_" + strconv.FormatUint(uint64(tsHash), 10)
}

// sanitizeDeviceID strips binary garbage off an extracted device id and
// trims caption text that leaked past the device number.
func sanitizeDeviceID(deviceID string) string {
	clean := keepDeviceChars(deviceID)
	if len(clean) > 500 {
		clean = clean[:500]
	}

	if strings.Contains(clean, "/") {
		parts := strings.Split(clean, "/")
		devicesIdx := -1
		for i, part := range parts {
			if part == "devices" {
				devicesIdx = i
				break
			}
		}
		if len(parts) >= 3 && devicesIdx >= 0 && devicesIdx+1 < len(parts) {
			deviceNum := parts[devicesIdx+1]
			if len(deviceNum) <= 50 && isDeviceToken(deviceNum) {
				remaining := strings.Join(parts[devicesIdx+2:], "/")
				if len(remaining) > 10 {
					clean = strings.Join(parts[:devicesIdx+2], "/")
					slog.Warn("Device id contained trailing text, trimmed", "device_id", clean)
				}
			}
		}
	}

	if len(clean) > 500 {
		clean = clean[:500]
	}
	return clean
}

// isDeviceToken reports whether a path element looks like a device
// number rather than leaked text.
func isDeviceToken(s string) bool {
	stripped := strings.NewReplacer("/", "", "_", "", "-", "", ".", "").Replace(s)
	if stripped == "" {
		return false
	}
	for _, r := range stripped {
		if !('0' <= r && r <= '9' || 'a' <= r && r <= 'z' || 'A' <= r && r <= 'Z') {
			return false
		}
	}
	return true
}
