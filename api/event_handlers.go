package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"argus/core"
	"argus/storage"

	"github.com/gorilla/mux"
)

// eventRequest is the inbound event payload. RiskScore is deliberately
// untyped: clients send anything, sanitization coerces it into [0,100].
type eventRequest struct {
	OrgID             string                 `json:"org_id" validate:"required"`
	UserID            string                 `json:"user_id"`
	SessionID         string                 `json:"session_id"`
	EventType         string                 `json:"event_type" validate:"required"`
	EventCategory     string                 `json:"event_category" validate:"required"`
	RiskScore         interface{}            `json:"risk_score"`
	EventData         map[string]interface{} `json:"event_data"`
	IPAddress         string                 `json:"ip_address"`
	UserAgent         string                 `json:"user_agent"`
	DeviceFingerprint string                 `json:"device_fingerprint"`
	LocationData      map[string]interface{} `json:"location_data"`
	DetectionRules    []string               `json:"detection_rules"`
}

// toEvent converts the request into a core event. Sanitization happens inside
// the recorder/evaluator paths, not here.
func (req *eventRequest) toEvent() *core.SecurityEvent {
	event := core.NewSecurityEvent()
	event.OrgID = req.OrgID
	event.UserID = req.UserID
	event.SessionID = req.SessionID
	event.EventType = req.EventType
	event.EventCategory = core.EventCategory(req.EventCategory)
	event.RiskScore = core.ClampRiskScore(req.RiskScore)
	event.EventData = req.EventData
	event.IPAddress = req.IPAddress
	event.UserAgent = req.UserAgent
	event.DeviceFingerprint = req.DeviceFingerprint
	event.LocationData = req.LocationData
	event.DetectionRules = req.DetectionRules
	return event
}

func (a *API) decodeEventRequest(w http.ResponseWriter, r *http.Request) (*eventRequest, bool) {
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON payload", err, a.logger)
		return nil, false
	}
	if err := a.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Missing required fields", err, a.logger)
		return nil, false
	}
	if !core.EventCategory(req.EventCategory).IsValid() {
		writeError(w, http.StatusBadRequest, "Unknown event category", nil, a.logger)
		return nil, false
	}
	return &req, true
}

// logEvent accepts one event for recording. Always 202 once the payload is
// structurally valid: persistence is fire-and-forget by design.
func (a *API) logEvent(w http.ResponseWriter, r *http.Request) {
	req, ok := a.decodeEventRequest(w, r)
	if !ok {
		return
	}

	event := req.toEvent()
	a.recorder.LogEvent(event)

	writeJSON(w, http.StatusAccepted, map[string]string{"event_id": event.EventID})
}

// analyzeEvent evaluates one event against the organization's active rules
// and returns the verdict without recording the event.
func (a *API) analyzeEvent(w http.ResponseWriter, r *http.Request) {
	req, ok := a.decodeEventRequest(w, r)
	if !ok {
		return
	}

	event := req.toEvent()
	event.Sanitize()

	result := a.evaluator.AnalyzeEvent(r.Context(), event)
	writeJSON(w, http.StatusOK, result)
}

// getEvents returns the most recent events for an organization.
func (a *API) getEvents(w http.ResponseWriter, r *http.Request) {
	orgID := r.URL.Query().Get("org_id")
	if orgID == "" {
		writeError(w, http.StatusBadRequest, "org_id query parameter is required", nil, a.logger)
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be an integer in [1,1000]", err, a.logger)
			return
		}
		limit = parsed
	}

	events, err := a.eventStorage.GetRecentEvents(r.Context(), orgID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to retrieve events", err, a.logger)
		return
	}
	if events == nil {
		events = []core.SecurityEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

// setFalsePositive updates the human-review flag on a persisted event.
func (a *API) setFalsePositive(w http.ResponseWriter, r *http.Request) {
	eventID := mux.Vars(r)["id"]

	var req struct {
		FalsePositive bool `json:"false_positive"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON payload", err, a.logger)
		return
	}

	err := a.eventStorage.SetFalsePositive(r.Context(), eventID, req.FalsePositive)
	if errors.Is(err, storage.ErrEventNotFound) {
		writeError(w, http.StatusNotFound, "Event not found", nil, a.logger)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update event", err, a.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"false_positive": req.FalsePositive})
}

// healthCheck reports service liveness and buffer depth.
func (a *API) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "ok",
		"buffer_depth": a.recorder.QueueDepth(),
	})
}
