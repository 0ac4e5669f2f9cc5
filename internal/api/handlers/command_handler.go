// internal/api/handlers/command_handler.go
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fawad-mazhar/cmdhub/internal/hub"
)

type CommandHandler struct {
	hub *hub.Hub
}

func NewCommandHandler(h *hub.Hub) *CommandHandler {
	return &CommandHandler{hub: h}
}

type commandRequest struct {
	Params  map[string]any     `json:"params"`
	Options hub.CommandOptions `json:"options"`
}

func (h *CommandHandler) ExecuteCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	result, err := h.hub.ExecuteCommand(r.Context(), chi.URLParam(r, "name"), req.Params, req.Options)
	if err != nil {
		respondJSON(w, statusFor(err), result)
		return
	}
	respondJSON(w, http.StatusOK, result)
}
