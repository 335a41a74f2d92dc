package relay

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"hookrelay/internal/engine/broker"
	"hookrelay/internal/platform/config"
)

const defaultMaxResponseBytes = 64 * 1024

// ForwardResult is the outcome of one delivery attempt. Failures are values:
// Error holds "HTTP <code>" or the transport error text.
type ForwardResult struct {
	Success      bool   `json:"success"`
	StatusCode   int    `json:"status_code"`
	ResponseBody string `json:"response_body"`
	DurationMs   int64  `json:"duration_ms"`
	Error        string `json:"error,omitempty"`
}

type Forwarder interface {
	Forward(ctx context.Context, call *broker.CapturedCall, targetURL string) *ForwardResult
}

// Headers that describe the broker's hop, not the original call.
var droppedHeaders = map[string]bool{
	"Host":                true,
	"Content-Length":      true,
	"Accept-Encoding":     true,
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Proxy-Connection":    true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

var bodyMethods = map[string]bool{
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// HTTPForwarder replays captured calls against a local target.
type HTTPForwarder struct {
	client      *http.Client
	maxResponse int64
	secret      string
}

func NewHTTPForwarder(cfg config.RelayConfig) *HTTPForwarder {
	timeout := cfg.ForwardTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxResponse := cfg.MaxResponseBytes
	if maxResponse <= 0 {
		maxResponse = defaultMaxResponseBytes
	}

	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	dial := dialer.DialContext
	if cfg.ResolveLoopback {
		dial = loopbackDialer(dialer)
	}

	transport := &http.Transport{
		DialContext:           dial,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}

	return &HTTPForwarder{
		client:      &http.Client{Timeout: timeout, Transport: transport},
		maxResponse: maxResponse,
		secret:      cfg.SigningSecret,
	}
}

// loopbackDialer dials 127.0.0.1 for local development host names
// (localhost, *.localhost, *.test) while the request keeps its Host header,
// so virtual-host setups on the developer machine still route.
func loopbackDialer(d *net.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err == nil && isLocalName(host) {
			addr = net.JoinHostPort("127.0.0.1", port)
		}
		return d.DialContext(ctx, network, addr)
	}
}

func isLocalName(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	return host == "localhost" ||
		strings.HasSuffix(host, ".localhost") ||
		strings.HasSuffix(host, ".test")
}

func (f *HTTPForwarder) Forward(ctx context.Context, call *broker.CapturedCall, targetURL string) *ForwardResult {
	start := time.Now()
	result := &ForwardResult{}
	defer func() {
		result.DurationMs = time.Since(start).Milliseconds()
	}()

	req, err := buildRequest(ctx, call, targetURL)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	if f.secret != "" {
		var sent []byte
		if req.ContentLength > 0 {
			sent = []byte(call.Body)
		}
		req.Header.Set(SignatureHeader, "sha256="+Sign(f.secret, sent))
	}

	resp, err := f.client.Do(req)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	defer resp.Body.Close()

	result.StatusCode = resp.StatusCode
	body, err := f.readBody(resp)
	if err != nil {
		result.Error = fmt.Sprintf("read response: %v", err)
		return result
	}
	result.ResponseBody = body

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		result.Error = fmt.Sprintf("HTTP %d", resp.StatusCode)
		return result
	}

	result.Success = true
	return result
}

func buildRequest(ctx context.Context, call *broker.CapturedCall, targetURL string) (*http.Request, error) {
	target, err := url.Parse(targetURL)
	if err != nil {
		return nil, fmt.Errorf("invalid relay url: %w", err)
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return nil, fmt.Errorf("invalid relay url: unsupported scheme %q", target.Scheme)
	}

	method := strings.ToUpper(strings.TrimSpace(call.Method))
	if method == "" {
		method = http.MethodPost
	}

	var body io.Reader
	if bodyMethods[method] && call.Body != "" {
		body = strings.NewReader(string(call.Body))
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, err
	}

	connectionScoped := connectionHeaders(call.Headers)
	for _, name := range call.Headers.Names() {
		canonical := http.CanonicalHeaderKey(name)
		if droppedHeaders[canonical] || connectionScoped[canonical] {
			continue
		}
		req.Header.Set(canonical, call.Headers[name])
	}
	req.Host = target.Host

	return req, nil
}

// connectionHeaders returns the header names listed in a Connection header.
func connectionHeaders(h broker.Headers) map[string]bool {
	names := map[string]bool{}
	for name, value := range h {
		if http.CanonicalHeaderKey(name) != "Connection" {
			continue
		}
		for _, field := range strings.Split(value, ",") {
			if field = strings.TrimSpace(field); field != "" {
				names[http.CanonicalHeaderKey(field)] = true
			}
		}
	}
	return names
}

// readBody reads at most maxResponse bytes, decoding a gzip or deflate body
// the transport left encoded.
func (f *HTTPForwarder) readBody(resp *http.Response) (string, error) {
	var reader io.Reader = resp.Body

	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip", "x-gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return "", err
		}
		defer gz.Close()
		reader = gz
	case "deflate":
		raw, err := io.ReadAll(io.LimitReader(resp.Body, f.maxResponse*8))
		if err != nil {
			return "", err
		}
		reader = inflate(raw)
	}

	data, err := io.ReadAll(io.LimitReader(reader, f.maxResponse))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// inflate handles both zlib-wrapped and raw deflate streams; servers send
// either under "deflate".
func inflate(raw []byte) io.Reader {
	if zr, err := zlib.NewReader(bytes.NewReader(raw)); err == nil {
		return zr
	}
	return flate.NewReader(bytes.NewReader(raw))
}
