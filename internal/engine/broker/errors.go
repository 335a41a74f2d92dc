package broker

import (
	"encoding/json"
	"net/http"
	"strings"
)

// RemoteError is returned for any failed broker call. Status is 0 when the
// broker could not be reached at all.
type RemoteError struct {
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}

// remoteMessage picks the message to surface for a failed response: the
// broker's error or message field, else the raw body, else the status text.
func remoteMessage(status int, body []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}

	if text := strings.TrimSpace(string(body)); text != "" {
		return text
	}
	if text := http.StatusText(status); text != "" {
		return text
	}
	return "unexpected broker response"
}
