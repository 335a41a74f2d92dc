package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/julienschmidt/httprouter"

	apiContext "hookrelay/internal/api/context"
	"hookrelay/internal/platform/models"
	"hookrelay/internal/platform/repositories"
)

var relayColumns = []string{
	"id", "project_id", "description", "webhook_uuid", "webhook_url", "relay_to_url",
	"capture_only", "enabled", "polling_enabled", "last_checked", "last_relayed", "pending_since",
	"last_error", "relay_count", "error_count", "created_at", "updated_at",
}

func requestFor(relayID string) *http.Request {
	req, _ := http.NewRequest("GET", "/", nil)
	params := httprouter.Params{{Key: "relay_id", Value: relayID}}
	ctx := context.WithValue(req.Context(), apiContext.Params, params)
	return req.WithContext(ctx)
}

func TestRelayLoader(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	loader := NewRelayLoader(repositories.NewRelayRepository(db))

	t.Run("Valid Relay", func(t *testing.T) {
		rows := sqlmock.NewRows(relayColumns).
			AddRow("rly_123", "proj_1", "orders", "wh-1", "https://broker.test/h/wh-1", "http://localhost:3000",
				false, true, true, nil, nil, nil, "", 0, 0, 1700000000000, 1700000000000)

		mock.ExpectQuery("SELECT (.+) FROM relays WHERE id = ?").
			WithArgs("rly_123").
			WillReturnRows(rows)

		rr := httptest.NewRecorder()
		handler := loader.Handle(func(w http.ResponseWriter, r *http.Request) {
			relay := r.Context().Value(apiContext.Relay).(*models.Relay)
			if relay.ID != "rly_123" || relay.WebhookUUID != "wh-1" {
				t.Errorf("Unexpected relay %+v", relay)
			}
			w.WriteHeader(http.StatusOK)
		})

		handler.ServeHTTP(rr, requestFor("rly_123"))

		if rr.Code != http.StatusOK {
			t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusOK)
		}
	})

	t.Run("Unknown Relay", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM relays WHERE id = ?").
			WithArgs("rly_999").
			WillReturnRows(sqlmock.NewRows(relayColumns))

		rr := httptest.NewRecorder()
		handler := loader.Handle(func(w http.ResponseWriter, r *http.Request) {
			t.Error("Handler should not be called")
		})

		handler.ServeHTTP(rr, requestFor("rly_999"))

		if rr.Code != http.StatusNotFound {
			t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusNotFound)
		}
	})

	t.Run("Query Error", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM relays WHERE id = ?").
			WithArgs("rly_500").
			WillReturnError(errors.New("disk I/O error"))

		rr := httptest.NewRecorder()
		handler := loader.Handle(func(w http.ResponseWriter, r *http.Request) {
			t.Error("Handler should not be called")
		})

		handler.ServeHTTP(rr, requestFor("rly_500"))

		if rr.Code != http.StatusInternalServerError {
			t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusInternalServerError)
		}
	})

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}
