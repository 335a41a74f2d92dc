package models

// Relay maps a broker webhook endpoint to a local forwarding target.
// Timestamps are unix milliseconds.
type Relay struct {
	ID             string `json:"id"`
	ProjectID      string `json:"project_id"`
	Description    string `json:"description"`
	WebhookUUID    string `json:"webhook_uuid"`
	WebhookURL     string `json:"webhook_url"`
	RelayToURL     string `json:"relay_to_url"`
	CaptureOnly    bool   `json:"capture_only"`
	Enabled        bool   `json:"enabled"`
	PollingEnabled bool   `json:"polling_enabled"`
	LastChecked    *int64 `json:"last_checked,omitempty"`
	LastRelayed    *int64 `json:"last_relayed,omitempty"`
	// PendingSince is the creation time of the oldest call a previous cycle
	// left pending at the broker. Polling resumes from it instead of
	// LastChecked so failed calls are fetched again.
	PendingSince *int64 `json:"pending_since,omitempty"`
	LastError    string `json:"last_error,omitempty"`
	RelayCount   int    `json:"relay_count"`
	ErrorCount   int    `json:"error_count"`
	CreatedAt    int64  `json:"created_at"`
	UpdatedAt    int64  `json:"updated_at"`
}

// Pollable reports whether scheduled polling should visit the relay.
func (r *Relay) Pollable() bool {
	return r.Enabled && r.PollingEnabled
}
