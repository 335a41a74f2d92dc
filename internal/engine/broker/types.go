package broker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

type CallStatus string

const (
	CallPending CallStatus = "pending"
	CallRelayed CallStatus = "relayed"
)

// CapturedCall is a webhook request the broker received on a relay endpoint.
type CapturedCall struct {
	WebhookCallUUID string     `json:"webhook_call_uuid"`
	Method          string     `json:"method"`
	Headers         Headers    `json:"headers"`
	Body            Body       `json:"body"`
	IP              string     `json:"ip"`
	UserAgent       string     `json:"user_agent"`
	CreatedAt       Timestamp  `json:"created_at"`
	Status          CallStatus `json:"status"`
}

func (c *CapturedCall) Relayed() bool {
	return c.Status == CallRelayed
}

// Headers accepts header values sent either as strings or as string arrays.
// Multiple values are joined with ", ".
type Headers map[string]string

func (h *Headers) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*h = nil
		return nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("headers: %w", err)
	}

	out := make(Headers, len(raw))
	for name, value := range raw {
		var s string
		if err := json.Unmarshal(value, &s); err == nil {
			out[name] = s
			continue
		}
		var list []string
		if err := json.Unmarshal(value, &list); err == nil {
			out[name] = strings.Join(list, ", ")
			continue
		}
		// numbers, booleans
		out[name] = strings.Trim(string(value), `"`)
	}
	*h = out
	return nil
}

// Names returns the header names in sorted order.
func (h Headers) Names() []string {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Body holds a call body as text. A structured JSON body is kept in its
// serialized form.
type Body string

func (b *Body) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*b = ""
		return nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return fmt.Errorf("body: %w", err)
		}
		*b = Body(s)
		return nil
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, trimmed); err != nil {
		return fmt.Errorf("body: %w", err)
	}
	*b = Body(compact.String())
	return nil
}

// Timestamp accepts RFC 3339 strings, "2006-01-02 15:04:05" style strings
// (read as UTC) or unix milliseconds. A value in none of these forms decodes
// as the zero time so one odd call does not fail a whole listing.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	t.Time = time.Time{}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}

	raw := string(trimmed)
	if trimmed[0] == '"' {
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return err
		}
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return nil
		}
	}

	if parsed, ok := parseTimestamp(raw); ok {
		t.Time = parsed
		return nil
	}
	log.Warn().Str("created_at", raw).Msg("Unrecognized call timestamp")
	return nil
}

func parseTimestamp(raw string) (time.Time, bool) {
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms), true
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

// Endpoint is a public relay endpoint allocated by the broker.
type Endpoint struct {
	WebhookUUID string `json:"webhook_uuid"`
	WebhookURL  string `json:"webhook_url"`
}

func (e *Endpoint) UnmarshalJSON(data []byte) error {
	var raw struct {
		WebhookUUID string `json:"webhook_uuid"`
		WebhookURL  string `json:"webhook_url"`
		UUID        string `json:"uuid"`
		URL         string `json:"url"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.WebhookUUID = raw.WebhookUUID
	if e.WebhookUUID == "" {
		e.WebhookUUID = raw.UUID
	}
	e.WebhookURL = raw.WebhookURL
	if e.WebhookURL == "" {
		e.WebhookURL = raw.URL
	}
	return nil
}

// decodeCalls normalizes the shapes the broker uses for call listings: a bare
// array, {"data": [...]} or {"calls": [...]}. Elements are decoded one by one;
// an element that cannot be decoded is logged and left out.
func decodeCalls(data []byte) ([]CapturedCall, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty response body")
	}

	var items []json.RawMessage
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, err
		}
	} else {
		var wrapped struct {
			Data  *[]json.RawMessage `json:"data"`
			Calls *[]json.RawMessage `json:"calls"`
		}
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return nil, err
		}
		switch {
		case wrapped.Data != nil:
			items = *wrapped.Data
		case wrapped.Calls != nil:
			items = *wrapped.Calls
		default:
			return nil, fmt.Errorf("response has neither data nor calls")
		}
	}

	calls := make([]CapturedCall, 0, len(items))
	for i, item := range items {
		var call CapturedCall
		if err := json.Unmarshal(item, &call); err != nil {
			log.Warn().Err(err).Int("index", i).Msg("Skipping undecodable call")
			continue
		}
		calls = append(calls, call)
	}
	return calls, nil
}
