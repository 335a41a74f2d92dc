package audit

import (
	"net"
	"net/http"

	"github.com/rs/zerolog"

	apiContext "hookrelay/internal/api/context"
	"hookrelay/internal/pkg/logger"
	"hookrelay/internal/platform/auth"
)

const (
	ActionRelayCreate = "relay.create"
	ActionRelayUpdate = "relay.update"
	ActionRelayDelete = "relay.delete"
	ActionRelayPoll   = "relay.poll"
	ActionRelayAgain  = "relay.relay_again"
)

// Logger writes one structured line per state-changing API call.
type Logger struct {
	log zerolog.Logger
}

func NewLogger() *Logger {
	return &Logger{log: logger.Component("audit")}
}

// New wraps an existing zerolog logger.
func New(l zerolog.Logger) *Logger {
	return &Logger{log: l}
}

// Log records action against relayID. A nil Logger discards the event.
func (l *Logger) Log(r *http.Request, action, relayID string, metadata map[string]interface{}) {
	if l == nil {
		return
	}

	subject := "anonymous"
	if claims, ok := r.Context().Value(apiContext.Claims).(*auth.Claims); ok && claims.Subject != "" {
		subject = claims.Subject
	}

	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}

	event := l.log.Info().
		Str("action", action).
		Str("relay_id", relayID).
		Str("subject", subject).
		Str("ip_address", ip).
		Str("user_agent", r.UserAgent())
	if len(metadata) > 0 {
		event = event.Interface("metadata", metadata)
	}
	event.Msg("Audit")
}
