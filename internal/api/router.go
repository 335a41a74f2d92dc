package api

import (
	"context"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"

	apiContext "hookrelay/internal/api/context"
	"hookrelay/internal/api/handlers"
	"hookrelay/internal/api/middleware"
	"hookrelay/internal/pkg/errors"
	"hookrelay/internal/platform/auth"
)

type Dependencies struct {
	HealthHandler  *handlers.HealthHandler
	RelayHandler   *handlers.RelayHandler
	HistoryHandler *handlers.HistoryHandler
	MetricsHandler *handlers.MetricsHandler
	AuthMiddleware *middleware.AuthMiddleware
	RelayLoader    *middleware.RelayLoader
	PollLimiter    *middleware.PollLimiter
}

func NewRouter(deps *Dependencies) http.Handler {
	router := httprouter.New()

	router.GET("/health", wrap(deps.HealthHandler.Check))

	authMid := deps.AuthMiddleware
	relayMid := deps.RelayLoader
	read := authMid.Require(auth.ScopeRead)
	write := authMid.Require(auth.ScopeWrite)

	if deps.MetricsHandler != nil {
		router.GET("/metrics", chain(deps.MetricsHandler.Export, authMid.Handle, read))
	}

	// Relays
	router.GET("/api/v1/projects/:project_id/relays",
		chain(deps.RelayHandler.List, authMid.Handle, read))
	router.POST("/api/v1/projects/:project_id/relays",
		chain(deps.RelayHandler.Create, authMid.Handle, write))
	router.GET("/api/v1/relays/:relay_id",
		chain(deps.RelayHandler.Get, authMid.Handle, read, relayMid.Handle))
	router.PATCH("/api/v1/relays/:relay_id",
		chain(deps.RelayHandler.Update, authMid.Handle, write, relayMid.Handle))
	router.DELETE("/api/v1/relays/:relay_id",
		chain(deps.RelayHandler.Delete, authMid.Handle, write, relayMid.Handle))
	router.GET("/api/v1/relays/:relay_id/qr",
		chain(deps.RelayHandler.QRCode, authMid.Handle, read, relayMid.Handle))
	router.POST("/api/v1/relays/:relay_id/poll",
		chain(deps.RelayHandler.Poll, authMid.Handle, write, relayMid.Handle, deps.PollLimiter.Handle))

	// History
	router.GET("/api/v1/relays/:relay_id/history",
		chain(deps.HistoryHandler.List, authMid.Handle, read, relayMid.Handle))
	router.GET("/api/v1/relays/:relay_id/unread",
		chain(deps.HistoryHandler.CountUnread, authMid.Handle, read, relayMid.Handle))
	router.POST("/api/v1/relays/:relay_id/read-all",
		chain(deps.HistoryHandler.MarkAllRead, authMid.Handle, write, relayMid.Handle))
	router.POST("/api/v1/relays/:relay_id/history/:record_id/read",
		chain(deps.HistoryHandler.MarkRead, authMid.Handle, write, relayMid.Handle))
	router.POST("/api/v1/relays/:relay_id/history/:record_id/relay-again",
		chain(deps.HistoryHandler.RelayAgain, authMid.Handle, write, relayMid.Handle))

	router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Route not found", nil)
	})
	router.PanicHandler = func(w http.ResponseWriter, r *http.Request, v interface{}) {
		log.Error().Interface("panic", v).Str("path", r.URL.Path).Msg("Handler panicked")
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Internal server error", nil)
	}

	return accessLog(router)
}

// Helper function to chain middlewares
func chain(handler http.HandlerFunc, middlewares ...func(http.HandlerFunc) http.HandlerFunc) httprouter.Handle {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return wrap(handler)
}

// Convert http.HandlerFunc to httprouter.Handle
func wrap(handler http.HandlerFunc) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		ctx := context.WithValue(r.Context(), apiContext.Params, ps)
		handler(w, r.WithContext(ctx))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}
