// internal/api/handlers/respond.go
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fawad-mazhar/cmdhub/internal/entity"
	"github.com/fawad-mazhar/cmdhub/internal/hub"
	"github.com/fawad-mazhar/cmdhub/internal/module"
	"github.com/fawad-mazhar/cmdhub/internal/pool"
)

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// statusFor maps domain errors onto HTTP status codes
func statusFor(err error) int {
	var (
		entityNotFound *entity.EntityNotFoundError
		moduleNotFound *module.ModuleNotFoundError
		busy           *pool.ResourceBusyError
		resNotFound    *pool.ResourceNotFoundError
		invalid        *entity.InvalidStatusError
	)
	switch {
	case errors.As(err, &invalid):
		return http.StatusBadRequest
	case errors.As(err, &entityNotFound), errors.As(err, &moduleNotFound), errors.As(err, &resNotFound):
		return http.StatusNotFound
	case errors.Is(err, hub.ErrNoArchive):
		return http.StatusNotFound
	case errors.As(err, &busy):
		return http.StatusServiceUnavailable
	case errors.Is(err, pool.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, module.ErrModuleDisabled):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
