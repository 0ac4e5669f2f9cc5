// internal/api/handlers/system_handler.go
package handlers

import (
	"encoding/json"
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/fawad-mazhar/cmdhub/internal/hub"
	"github.com/fawad-mazhar/cmdhub/internal/models"
)

type SystemHandler struct {
	hub *hub.Hub
}

func NewSystemHandler(h *hub.Hub) *SystemHandler {
	return &SystemHandler{hub: h}
}

// UpsertSystem records a status update. Rules are evaluated before the response is written.
func (h *SystemHandler) UpsertSystem(w http.ResponseWriter, r *http.Request) {
	var status models.SystemStatus
	if err := json.NewDecoder(r.Body).Decode(&status); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if id := chi.URLParam(r, "id"); id != "" {
		status.ID = id
	}
	if status.ID == "" {
		respondError(w, http.StatusBadRequest, "system id is required")
		return
	}
	if status.Status != "" && !status.Status.Valid() {
		respondError(w, http.StatusBadRequest, "unknown status "+string(status.Status))
		return
	}

	stored, err := h.hub.UpsertSystem(r.Context(), status)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, stored)
}

func (h *SystemHandler) GetSystem(w http.ResponseWriter, r *http.Request) {
	status, err := h.hub.Entities().Get(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, status)
}

// ListSystems returns every system ordered by id, optionally filtered by ?status=
func (h *SystemHandler) ListSystems(w http.ResponseWriter, r *http.Request) {
	filter := models.Status(strings.ToUpper(r.URL.Query().Get("status")))

	systems := make([]models.SystemStatus, 0)
	for s := range h.hub.Entities().List() {
		if filter != "" && s.Status != filter {
			continue
		}
		systems = append(systems, s)
	}
	slices.SortFunc(systems, func(a, b models.SystemStatus) int {
		return strings.Compare(a.ID, b.ID)
	})

	respondJSON(w, http.StatusOK, systems)
}
