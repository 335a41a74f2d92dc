package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"hookrelay/internal/platform/config"
)

const (
	defaultTimeout = 10 * time.Second
	maxBodyBytes   = 4 << 20
)

// Client talks to the remote broker that hosts public webhook endpoints.
// Calls are never retried here; the next poll cycle is the retry.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(cfg config.BrokerConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
	}
}

// CreateRelayEndpoint allocates a new public webhook endpoint.
func (c *Client) CreateRelayEndpoint(ctx context.Context) (*Endpoint, error) {
	_, body, err := c.do(ctx, http.MethodPost, "/relays", nil)
	if err != nil {
		return nil, err
	}

	var endpoint Endpoint
	if err := json.Unmarshal(body, &endpoint); err != nil {
		return nil, &RemoteError{Status: http.StatusOK, Message: fmt.Sprintf("decode endpoint: %v", err)}
	}
	if endpoint.WebhookUUID == "" {
		return nil, &RemoteError{Status: http.StatusOK, Message: "broker returned no webhook uuid"}
	}
	return &endpoint, nil
}

// ListPendingCalls returns up to limit calls received at or after since, in
// broker order. A nil since fetches everything the broker still holds.
func (c *Client) ListPendingCalls(ctx context.Context, webhookUUID string, since *time.Time, limit int) ([]CapturedCall, error) {
	query := url.Values{}
	if since != nil {
		query.Set("since", since.UTC().Format(time.RFC3339))
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	path := "/relays/" + url.PathEscape(webhookUUID) + "/calls"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}

	status, body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	switch status {
	case http.StatusOK:
	case http.StatusNoContent:
		return []CapturedCall{}, nil
	default:
		return nil, &RemoteError{Status: status, Message: fmt.Sprintf("unexpected status %d listing calls", status)}
	}

	calls, err := decodeCalls(body)
	if err != nil {
		return nil, &RemoteError{Status: http.StatusOK, Message: fmt.Sprintf("decode calls: %v", err)}
	}
	return calls, nil
}

// MarkConsumed flags a call as relayed so later polls skip it. The broker
// treats repeated calls as no-ops.
func (c *Client) MarkConsumed(ctx context.Context, webhookUUID, callUUID string) error {
	path := "/relays/" + url.PathEscape(webhookUUID) + "/calls/" + url.PathEscape(callUUID) + "/consume"
	_, _, err := c.do(ctx, http.MethodPost, path, nil)
	return err
}

// DeleteRelayEndpoint releases a public endpoint. An endpoint the broker no
// longer knows is treated as deleted.
func (c *Client) DeleteRelayEndpoint(ctx context.Context, webhookUUID string) error {
	_, _, err := c.do(ctx, http.MethodDelete, "/relays/"+url.PathEscape(webhookUUID), nil)
	var re *RemoteError
	if errors.As(err, &re) && re.Status == http.StatusNotFound {
		return nil
	}
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (int, []byte, error) {
	if c.baseURL == "" {
		return 0, nil, &RemoteError{Message: "broker base url is not configured"}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, nil, &RemoteError{Message: err.Error()}
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Api-Key", c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		log.Warn().Err(err).Str("method", method).Str("path", path).Msg("Broker request failed")
		return 0, nil, &RemoteError{Message: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, &RemoteError{Status: resp.StatusCode, Message: fmt.Sprintf("read response: %v", err)}
	}

	log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("Broker request")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, nil, &RemoteError{Status: resp.StatusCode, Message: remoteMessage(resp.StatusCode, data)}
	}
	return resp.StatusCode, data, nil
}
