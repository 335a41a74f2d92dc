package handlers

import (
	stderrors "errors"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"

	apiContext "hookrelay/internal/api/context"
	"hookrelay/internal/engine/broker"
	"hookrelay/internal/engine/history"
	"hookrelay/internal/engine/relay"
	"hookrelay/internal/pkg/errors"
	"hookrelay/internal/platform/models"
)

// writeServiceError maps engine errors onto the JSON error envelope.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		cfgErr     *relay.ConfigError
		remoteErr  *broker.RemoteError
		storageErr *history.StorageError
	)

	switch {
	case stderrors.Is(err, relay.ErrRelayNotFound), stderrors.Is(err, history.ErrNotFound):
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, err.Error(), nil)
	case stderrors.As(err, &cfgErr):
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, cfgErr.Message, nil)
	case stderrors.As(err, &remoteErr):
		errors.WriteError(w, http.StatusBadGateway, errors.ErrCodeUpstream, remoteErr.Message,
			map[string]int{"broker_status": remoteErr.Status})
	case stderrors.As(err, &storageErr):
		log.Error().Err(err).Str("path", r.URL.Path).Msg("Storage failure")
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeStorage, "Failed to access relay history", nil)
	default:
		log.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Internal server error", nil)
	}
}

func param(r *http.Request, name string) string {
	params, _ := r.Context().Value(apiContext.Params).(httprouter.Params)
	return params.ByName(name)
}

func relayFrom(r *http.Request) *models.Relay {
	relay, _ := r.Context().Value(apiContext.Relay).(*models.Relay)
	return relay
}
