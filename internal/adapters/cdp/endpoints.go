package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const maxEndpointResponseBytes = 1 << 20

// Target is one controllable browsing context reported by the debugger's
// HTTP discovery surface.
type Target struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	Title                string `json:"title"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

type VersionInfo struct {
	Browser              string `json:"Browser"`
	ProtocolVersion      string `json:"Protocol-Version"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// Endpoint wraps the HTTP side of one browser's remote-debugging surface.
type Endpoint struct {
	Port   int
	Client *http.Client
}

func NewEndpoint(port int) Endpoint {
	return Endpoint{
		Port:   port,
		Client: &http.Client{Timeout: 6 * time.Second},
	}
}

func (e Endpoint) baseURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d", e.Port)
}

// Ready reports whether the discovery endpoint answers 200 on /json.
func (e Endpoint) Ready(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL()+"/json", nil)
	if err != nil {
		return false
	}

	resp, err := e.client().Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxEndpointResponseBytes))

	return resp.StatusCode == http.StatusOK
}

// ListTargets enumerates targets via /json.
func (e Endpoint) ListTargets(ctx context.Context) ([]Target, error) {
	var targets []Target
	if err := e.getJSON(ctx, "/json", &targets); err != nil {
		return nil, err
	}
	return targets, nil
}

// ListOpenTargets enumerates targets via /json/list, the endpoint used to
// find a target created through the websocket channel.
func (e Endpoint) ListOpenTargets(ctx context.Context) ([]Target, error) {
	var targets []Target
	if err := e.getJSON(ctx, "/json/list", &targets); err != nil {
		return nil, err
	}
	return targets, nil
}

// CreateTarget asks the browser for a new page target via /json/new.
func (e Endpoint) CreateTarget(ctx context.Context, targetURL string) (Target, error) {
	var target Target
	if err := e.getJSON(ctx, "/json/new?"+url.QueryEscape(targetURL), &target); err != nil {
		return Target{}, err
	}
	return target, nil
}

// Version returns /json/version, which carries the browser-level websocket
// debugger URL.
func (e Endpoint) Version(ctx context.Context) (VersionInfo, error) {
	var info VersionInfo
	if err := e.getJSON(ctx, "/json/version", &info); err != nil {
		return VersionInfo{}, err
	}
	return info, nil
}

func (e Endpoint) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL()+path, nil)
	if err != nil {
		return fmt.Errorf("create %s request: %w", path, err)
	}

	resp, err := e.client().Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("get %s: status %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxEndpointResponseBytes)).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}

	return nil
}

func (e Endpoint) client() *http.Client {
	if e.Client != nil {
		return e.Client
	}
	return http.DefaultClient
}
