package auth

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bnema/gmail-fleet/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultAwaitTimeout leaves room for a human completing the consent
	// screen inside the driven browser.
	DefaultAwaitTimeout  = 600 * time.Second
	defaultListenProbe   = 3 * time.Second
	listenProbeInterval  = 100 * time.Millisecond
	postAuthRedirectURL  = "https://mail.google.com/mail/u/0/#inbox"
	callbackSuccessDelay = 2000
)

// FlowConfig describes the identity provider side of the handshake.
type FlowConfig struct {
	AuthEndpoint string
	ClientID     string
	Scopes       []string
}

type flowResult struct {
	code string
	err  error
}

// Flow is one in-flight loopback authorization: an ephemeral listener bound
// to exactly one account's handshake. The result transitions out of pending
// exactly once; concurrent callbacks race and the first write wins. The
// listener shuts itself down after one completed exchange.
//
// Flow has no browser dependency: the caller decides how the provider's
// consent page reaches AuthURL (a driven session or a human's browser).
type Flow struct {
	ID        string
	AccountID domain.AccountID

	port     int
	authURL  string
	pkce     PKCEPair
	server   *http.Server
	listener net.Listener
	logger   *zap.Logger

	resultCh   chan flowResult
	resultOnce sync.Once
	closeOnce  sync.Once
}

// BeginFlow allocates a port, builds the provider authorization URL with
// the loopback redirect embedded, and starts the callback listener.
func BeginFlow(accountID domain.AccountID, cfg FlowConfig, logger *zap.Logger) (*Flow, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.AuthEndpoint == "" {
		return nil, errors.New("auth endpoint is required")
	}
	if cfg.ClientID == "" {
		return nil, errors.New("client id is required")
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("%w: listen callback server: %v", domain.ErrResourceExhausted, err)
	}
	port := listener.Addr().(*net.TCPAddr).Port

	pkce, err := NewPKCEPair()
	if err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("generate pkce pair: %w", err)
	}

	authURL, err := buildAuthorizationURL(cfg, redirectURI(port), pkce.Challenge)
	if err != nil {
		_ = listener.Close()
		return nil, err
	}

	flow := &Flow{
		ID:        uuid.NewString(),
		AccountID: accountID,
		port:      port,
		authURL:   authURL,
		pkce:      pkce,
		listener:  listener,
		logger:    logger.With(zap.String("account", string(accountID)), zap.Int("port", port)),
		resultCh:  make(chan flowResult, 1),
	}

	flow.server = &http.Server{Handler: http.HandlerFunc(flow.handleCallback)}
	go func() {
		if serveErr := flow.server.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			flow.recordResult(flowResult{err: fmt.Errorf("%w: %v", domain.ErrAuthorization, serveErr)})
		}
	}()

	return flow, nil
}

func redirectURI(port int) string {
	return fmt.Sprintf("http://127.0.0.1:%d/callback", port)
}

func buildAuthorizationURL(cfg FlowConfig, redirect string, challenge string) (string, error) {
	parsed, err := url.Parse(cfg.AuthEndpoint)
	if err != nil {
		return "", fmt.Errorf("parse auth endpoint: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", errors.New("auth endpoint must use http or https")
	}

	q := parsed.Query()
	q.Set("response_type", "code")
	q.Set("client_id", cfg.ClientID)
	q.Set("redirect_uri", redirect)
	if len(cfg.Scopes) > 0 {
		q.Set("scope", strings.Join(cfg.Scopes, " "))
	}
	q.Set("access_type", "offline")
	q.Set("prompt", "consent")
	q.Set("include_granted_scopes", "true")
	q.Set("code_challenge", challenge)
	q.Set("code_challenge_method", PKCEChallengeMethodS256)
	parsed.RawQuery = q.Encode()

	return parsed.String(), nil
}

func (f *Flow) AuthURL() string      { return f.authURL }
func (f *Flow) Port() int            { return f.port }
func (f *Flow) RedirectURI() string  { return redirectURI(f.port) }
func (f *Flow) CodeVerifier() string { return f.pkce.Verifier }

// WaitListening blocks until the callback port accepts connections, so a
// browser is never pointed at the authorization URL before the listener is
// reachable.
func (f *Flow) WaitListening(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = defaultListenProbe
	}

	deadline := time.Now().Add(timeout)
	addr := fmt.Sprintf("127.0.0.1:%d", f.port)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		time.Sleep(listenProbeInterval)
	}

	return fmt.Errorf("callback server not reachable on %s", addr)
}

// Await blocks until the flow leaves pending or the timeout elapses. The
// result is consumed exactly once; the flow is closed either way.
func (f *Flow) Await(timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = DefaultAwaitTimeout
	}
	defer f.Close()

	select {
	case result := <-f.resultCh:
		return result.code, result.err
	case <-time.After(timeout):
		return "", fmt.Errorf("%w: account %s after %s", domain.ErrAuthorizationTimeout, f.AccountID, timeout)
	}
}

// Close is best-effort and idempotent.
func (f *Flow) Close() {
	f.closeOnce.Do(func() {
		if err := f.server.Close(); err != nil {
			f.logger.Debug("callback server close failed", zap.Error(err))
		}
	})
}

func (f *Flow) handleCallback(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/callback" {
		http.NotFound(w, r)
		return
	}

	q := r.URL.Query()
	switch {
	case q.Get("error") != "":
		message := q.Get("error")
		f.logger.Warn("authorization rejected at provider", zap.String("error", message))
		f.recordResult(flowResult{err: denialError(message)})
		renderPage(w, deniedPage)
		f.shutdownAsync()
	case q.Get("code") != "":
		f.logger.Info("authorization code received")
		f.recordResult(flowResult{code: q.Get("code")})
		renderPage(w, successPage)
		f.shutdownAsync()
	default:
		// No state mutation: a stray probe must not consume the flow.
		renderPage(w, noCodePage)
	}
}

func denialError(message string) error {
	if message == "access_denied" {
		return fmt.Errorf("%w: %s", domain.ErrAuthorizationDenied, message)
	}
	return fmt.Errorf("%w: %s", domain.ErrAuthorization, message)
}

// recordResult implements first-write-wins: the flow state leaves pending
// at most once, later callbacks are ignored.
func (f *Flow) recordResult(result flowResult) {
	f.resultOnce.Do(func() {
		f.resultCh <- result
	})
}

// shutdownAsync stops the listener after the in-flight response is written;
// the listener's lifetime is exactly one completed exchange.
func (f *Flow) shutdownAsync() {
	go f.Close()
}

func renderPage(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

var successPage = fmt.Sprintf(`<html><body style="font-family:sans-serif;text-align:center;padding:40px;">
<h2>Authorization complete</h2>
<p>You can close this tab. Redirecting to your inbox&hellip;</p>
<script>setTimeout(()=>{location.replace(%q);},%d);</script>
</body></html>`, postAuthRedirectURL, callbackSuccessDelay)

const deniedPage = `<html><body style="font-family:sans-serif;text-align:center;padding:40px;">
<h2>Authorization denied</h2>
<p>The request was rejected. You can close this tab.</p>
</body></html>`

const noCodePage = `<html><body style="font-family:sans-serif;text-align:center;padding:40px;">
<h2>No authorization code received</h2>
</body></html>`
