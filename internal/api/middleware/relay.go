package middleware

import (
	"context"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"

	apiContext "hookrelay/internal/api/context"
	"hookrelay/internal/pkg/errors"
	"hookrelay/internal/platform/repositories"
)

// RelayLoader resolves the :relay_id route parameter and stores the relay in
// the request context.
type RelayLoader struct {
	repo *repositories.RelayRepository
}

func NewRelayLoader(repo *repositories.RelayRepository) *RelayLoader {
	return &RelayLoader{repo: repo}
}

func (m *RelayLoader) Handle(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params, _ := r.Context().Value(apiContext.Params).(httprouter.Params)
		relayID := params.ByName("relay_id")
		if relayID == "" {
			errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Missing relay id", nil)
			return
		}

		relay, err := m.repo.GetByID(r.Context(), relayID)
		if err != nil {
			log.Error().Err(err).Str("relay_id", relayID).Msg("Failed to load relay")
			errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeStorage, "Failed to load relay", nil)
			return
		}
		if relay == nil {
			errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Relay not found", nil)
			return
		}

		ctx := context.WithValue(r.Context(), apiContext.Relay, relay)
		next(w, r.WithContext(ctx))
	}
}
