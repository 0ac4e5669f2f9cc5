// internal/api/handlers/status_handler.go
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/fawad-mazhar/cmdhub/internal/hub"
	"github.com/fawad-mazhar/cmdhub/internal/models"
)

const defaultEventLimit = 100

type StatusHandler struct {
	hub *hub.Hub
}

func NewStatusHandler(h *hub.Hub) *StatusHandler {
	return &StatusHandler{hub: h}
}

func (h *StatusHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.hub.GenerateReport())
}

func (h *StatusHandler) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.hub.Analytics().Snapshot())
}

// ListEvents returns recent events, oldest first. ?since=seq returns everything newer
// than seq; otherwise ?limit= caps the count. ?archived=true reads the event archive
// instead of the in-memory log.
func (h *StatusHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	log := h.hub.Events().Log()
	q := r.URL.Query()
	archived := q.Get("archived") == "true"

	var events []models.CommandEvent
	if since := q.Get("since"); since != "" {
		if archived {
			respondError(w, http.StatusBadRequest, "since is not supported for archived events")
			return
		}
		seq, err := strconv.ParseUint(since, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid since")
			return
		}
		events = log.Since(seq)
	} else {
		limit := defaultEventLimit
		if v := q.Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				respondError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			limit = n
		}
		if archived {
			var err error
			if events, err = h.hub.ArchivedEvents(r.Context(), limit); err != nil {
				respondError(w, statusFor(err), err.Error())
				return
			}
		} else {
			events = log.Recent(limit)
		}
	}

	if eventType := q.Get("type"); eventType != "" {
		filtered := events[:0]
		for _, e := range events {
			if e.Type == eventType {
				filtered = append(filtered, e)
			}
		}
		events = filtered
	}
	if events == nil {
		events = []models.CommandEvent{}
	}

	respondJSON(w, http.StatusOK, events)
}

func (h *StatusHandler) ListModules(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.hub.Modules().List())
}

func (h *StatusHandler) SetModuleEnabled(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Enabled == nil {
		respondError(w, http.StatusBadRequest, "body must be {\"enabled\": bool}")
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.hub.Modules().SetEnabled(id, *body.Enabled); err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}

	descriptor, err := h.hub.Modules().Get(id)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, descriptor)
}

func (h *StatusHandler) ListResources(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"resources":   h.hub.Pool().Resources(),
		"utilization": h.hub.Pool().Utilization(),
	})
}

func (h *StatusHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"rules":      h.hub.Rules().Rules(),
		"alertCount": h.hub.Rules().AlertCount(),
	})
}
