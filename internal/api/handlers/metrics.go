package handlers

import (
	"context"
	"fmt"
	"net/http"

	"hookrelay/internal/pkg/errors"
	"hookrelay/internal/platform/models"
)

type RelayLister interface {
	ListAll(ctx context.Context) ([]*models.Relay, error)
}

// MetricsHandler exports relay counters in the Prometheus text format.
type MetricsHandler struct {
	relays RelayLister
}

func NewMetricsHandler(relays RelayLister) *MetricsHandler {
	return &MetricsHandler{relays: relays}
}

func (h *MetricsHandler) Export(w http.ResponseWriter, r *http.Request) {
	relays, err := h.relays.ListAll(r.Context())
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeStorage, "Failed to load relays", nil)
		return
	}

	var pollable int
	for _, relay := range relays {
		if relay.Pollable() {
			pollable++
		}
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	fmt.Fprintf(w, "# HELP hookrelay_up Is the server up\n")
	fmt.Fprintf(w, "# TYPE hookrelay_up gauge\n")
	fmt.Fprintf(w, "hookrelay_up 1\n")

	fmt.Fprintf(w, "# HELP hookrelay_relays Configured relays\n")
	fmt.Fprintf(w, "# TYPE hookrelay_relays gauge\n")
	fmt.Fprintf(w, "hookrelay_relays{state=\"pollable\"} %d\n", pollable)
	fmt.Fprintf(w, "hookrelay_relays{state=\"idle\"} %d\n", len(relays)-pollable)

	fmt.Fprintf(w, "# HELP hookrelay_relayed_total Calls delivered or captured per relay\n")
	fmt.Fprintf(w, "# TYPE hookrelay_relayed_total counter\n")
	for _, relay := range relays {
		fmt.Fprintf(w, "hookrelay_relayed_total{relay_id=%q} %d\n", relay.ID, relay.RelayCount)
	}

	fmt.Fprintf(w, "# HELP hookrelay_errors_total Failed deliveries per relay\n")
	fmt.Fprintf(w, "# TYPE hookrelay_errors_total counter\n")
	for _, relay := range relays {
		fmt.Fprintf(w, "hookrelay_errors_total{relay_id=%q} %d\n", relay.ID, relay.ErrorCount)
	}
}
