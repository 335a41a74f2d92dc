package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"hookrelay/internal/engine/relay"
	"hookrelay/internal/pkg/errors"
	"hookrelay/internal/platform/audit"
)

type RelayHandler struct {
	service *relay.Service
	poller  *relay.Poller
	audit   *audit.Logger
}

func NewRelayHandler(service *relay.Service, poller *relay.Poller, auditLogger *audit.Logger) *RelayHandler {
	return &RelayHandler{service: service, poller: poller, audit: auditLogger}
}

func (h *RelayHandler) List(w http.ResponseWriter, r *http.Request) {
	relays, err := h.service.List(r.Context(), param(r, "project_id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	errors.WriteJSON(w, http.StatusOK, relays)
}

func (h *RelayHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req relay.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	created, err := h.service.Create(r.Context(), param(r, "project_id"), &req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	h.audit.Log(r, audit.ActionRelayCreate, created.ID, map[string]interface{}{
		"project_id":   created.ProjectID,
		"relay_to_url": created.RelayToURL,
		"capture_only": created.CaptureOnly,
	})
	errors.WriteJSON(w, http.StatusCreated, created)
}

func (h *RelayHandler) Get(w http.ResponseWriter, r *http.Request) {
	errors.WriteJSON(w, http.StatusOK, relayFrom(r))
}

func (h *RelayHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req relay.UpdateInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	updated, err := h.service.Update(r.Context(), relayFrom(r).ID, &req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	h.audit.Log(r, audit.ActionRelayUpdate, updated.ID, nil)
	errors.WriteJSON(w, http.StatusOK, updated)
}

func (h *RelayHandler) Delete(w http.ResponseWriter, r *http.Request) {
	current := relayFrom(r)
	if err := h.service.Delete(r.Context(), current.ID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	h.audit.Log(r, audit.ActionRelayDelete, current.ID, map[string]interface{}{"project_id": current.ProjectID})
	w.WriteHeader(http.StatusNoContent)
}

func (h *RelayHandler) QRCode(w http.ResponseWriter, r *http.Request) {
	size, _ := strconv.Atoi(r.URL.Query().Get("size"))

	png, err := h.service.QRCode(r.Context(), relayFrom(r).ID, size)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Write(png)
}

// Poll runs one cycle synchronously and returns its result.
func (h *RelayHandler) Poll(w http.ResponseWriter, r *http.Request) {
	result, err := h.poller.Poll(r.Context(), relayFrom(r).ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	h.audit.Log(r, audit.ActionRelayPoll, result.RelayID, map[string]interface{}{
		"relayed": result.RelayedCount,
		"total":   result.TotalCount,
	})
	errors.WriteJSON(w, http.StatusOK, result)
}
