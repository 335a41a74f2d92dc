package history

type Status string

const (
	StatusCaptured Status = "captured"
	StatusSuccess  Status = "success"
	StatusFailed   Status = "failed"
)

// Delivered reports whether the call behind an entry has reached its
// destination, either captured locally or forwarded successfully.
func (s Status) Delivered() bool {
	return s == StatusCaptured || s == StatusSuccess
}

type Request struct {
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers,omitempty"`
	Body      string            `json:"body,omitempty"`
	IP        string            `json:"ip,omitempty"`
	UserAgent string            `json:"user_agent,omitempty"`
}

type Response struct {
	StatusCode int    `json:"status_code"`
	Body       string `json:"body,omitempty"`
}

// Entry is one relay processing attempt for a broker call. Only Read changes
// after the entry is appended.
type Entry struct {
	ID              string    `json:"id"`
	Timestamp       int64     `json:"timestamp"` // unix millis
	WebhookCallUUID string    `json:"webhook_call_uuid"`
	RelayID         string    `json:"relay_id"`
	RelayToURL      string    `json:"relay_to_url,omitempty"`
	CaptureOnly     bool      `json:"capture_only"`
	Status          Status    `json:"status"`
	Read            bool      `json:"read"`
	Manual          bool      `json:"manual,omitempty"`
	Request         Request   `json:"request"`
	Response        *Response `json:"response,omitempty"`
	DurationMs      *int64    `json:"duration_ms,omitempty"`
	Error           string    `json:"error,omitempty"`
}
