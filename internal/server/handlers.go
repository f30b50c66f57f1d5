package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"jiranotifier/internal/background"
	"jiranotifier/internal/notification"
	logx "jiranotifier/pkg/logx"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// handlePush accepts a raw push payload. Malformed JSON is still accepted:
// the pipeline falls back to defaults.
func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	if s.deps.Push == nil {
		writeError(w, http.StatusServiceUnavailable, "push intake disabled")
		return
	}
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxPayloadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "read body failed")
		return
	}
	s.deps.Push(raw)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeError(w, http.StatusServiceUnavailable, "history unavailable")
		return
	}
	list, err := s.deps.History.ListAll(r.Context())
	if err != nil {
		s.log.Warn("list history failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// handleClear deletes every record. The caller must confirm with
// "X-Confirm: clear".
func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeError(w, http.StatusServiceUnavailable, "history unavailable")
		return
	}
	if !strings.EqualFold(strings.TrimSpace(r.Header.Get(confirmHeader)), confirmClear) {
		writeError(w, http.StatusPreconditionRequired, "confirm with "+confirmHeader+": "+confirmClear)
		return
	}
	if err := s.deps.History.Clear(r.Context()); err != nil {
		s.log.Warn("clear history failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "clear failed")
		return
	}
	if s.deps.Cleared != nil {
		s.deps.Cleared(r.Context())
	}
	w.WriteHeader(http.StatusNoContent)
}

type activateRequest struct {
	NotificationID string `json:"notificationId"`
	URL            string `json:"url"`
	IssueKey       string `json:"issueKey"`
	BaseURL        string `json:"baseUrl"`
}

// handleActivate routes a click. A known notification id reuses the data it
// was shown with; otherwise the request carries the link data itself.
func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	if s.deps.Click == nil {
		writeError(w, http.StatusServiceUnavailable, "click routing disabled")
		return
	}
	var req activateRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, s.cfg.MaxPayloadBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var act background.Activation
	if id := strings.TrimSpace(req.NotificationID); id != "" {
		found := false
		if s.deps.Lookup != nil {
			act, found = s.deps.Lookup(id)
		}
		if !found {
			writeError(w, http.StatusNotFound, "unknown notification")
			return
		}
	} else {
		act.Data = notification.Data{URL: req.URL, IssueKey: req.IssueKey, BaseURL: req.BaseURL}
		if act.Data.IsZero() {
			writeError(w, http.StatusBadRequest, "notificationId or link data required")
			return
		}
	}
	s.deps.Click(act)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := Health{OK: true, Store: "unknown"}
	if s.deps.Health != nil {
		h = s.deps.Health(r.Context())
	}
	status := http.StatusOK
	if !h.OK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, h)
}
