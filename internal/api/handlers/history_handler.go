package handlers

import (
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"hookrelay/internal/engine/history"
	"hookrelay/internal/engine/relay"
	"hookrelay/internal/pkg/errors"
	"hookrelay/internal/platform/audit"
)

type HistoryHandler struct {
	store   *history.Store
	tracker *history.Tracker
	poller  *relay.Poller
	audit   *audit.Logger
}

func NewHistoryHandler(store *history.Store, tracker *history.Tracker, poller *relay.Poller, auditLogger *audit.Logger) *HistoryHandler {
	return &HistoryHandler{store: store, tracker: tracker, poller: poller, audit: auditLogger}
}

// List returns the newest entries first. Records that cannot be decoded are
// skipped and logged.
func (h *HistoryHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > history.DefaultRetention {
		limit = history.DefaultRetention
	}

	relayID := relayFrom(r).ID
	entries := make([]*history.Entry, 0, limit)
	for entry, err := range h.store.List(r.Context(), history.RelayScope(relayID), limit) {
		if err != nil {
			log.Warn().Err(err).Str("relay_id", relayID).Msg("Skipping unreadable history record")
			continue
		}
		entries = append(entries, entry)
	}

	errors.WriteJSON(w, http.StatusOK, entries)
}

func (h *HistoryHandler) CountUnread(w http.ResponseWriter, r *http.Request) {
	n, err := h.tracker.CountUnread(r.Context(), history.RelayScope(relayFrom(r).ID))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	errors.WriteJSON(w, http.StatusOK, map[string]int{"unread": n})
}

func (h *HistoryHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	err := h.tracker.MarkRead(r.Context(), history.RelayScope(relayFrom(r).ID), param(r, "record_id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HistoryHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.tracker.MarkAllRead(r.Context(), history.RelayScope(relayFrom(r).ID))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	errors.WriteJSON(w, http.StatusOK, map[string]int{"marked": n})
}

func (h *HistoryHandler) RelayAgain(w http.ResponseWriter, r *http.Request) {
	relayID := relayFrom(r).ID
	entry, err := h.poller.RelayAgain(r.Context(), relayID, param(r, "record_id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	h.audit.Log(r, audit.ActionRelayAgain, relayID, map[string]interface{}{
		"record_id": param(r, "record_id"),
		"status":    entry.Status,
	})
	errors.WriteJSON(w, http.StatusOK, entry)
}
