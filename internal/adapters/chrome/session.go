package chrome

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/bnema/gmail-fleet/internal/adapters/cdp"
	"github.com/bnema/gmail-fleet/internal/domain"
	"github.com/bnema/gmail-fleet/internal/ports"
	"go.uber.org/zap"
)

const navigateSettle = 200 * time.Millisecond

// Session is one cloned browser instance bound to one account. The worker
// processing the account owns it exclusively until release.
type Session struct {
	accountID domain.AccountID
	port      int
	cmd       *exec.Cmd
	waitDone  chan error
	endpoint  cdp.Endpoint
	pageWSURL string
	cfg       Config
	logger    *zap.Logger

	stateMu sync.Mutex
	state   domain.SessionState
}

var (
	_ ports.BrowserSession = (*Session)(nil)
	_ ports.TabOpener      = (*Session)(nil)
	_ ports.PageScripter   = (*Session)(nil)
)

func (s *Session) AccountID() domain.AccountID { return s.accountID }
func (s *Session) Port() int                   { return s.port }
func (s *Session) PageDebuggerURL() string     { return s.pageWSURL }

func (s *Session) State() domain.SessionState {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

func (s *Session) setState(next domain.SessionState) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.state == next || s.state.CanTransition(next) {
		s.state = next
	}
}

// Navigate drives the primary page target to url over a fresh debugger
// connection: enable the page domain, navigate, optionally wait for the
// load event, then a short settle so the renderer catches up.
func (s *Session) Navigate(ctx context.Context, url string, waitLoad bool, timeout time.Duration) error {
	if s.State() != domain.SessionReady {
		return fmt.Errorf("navigate %s: session not ready", s.accountID)
	}
	if timeout <= 0 {
		timeout = s.cfg.NavigateTimeout
	}

	conn, err := cdp.Dial(ctx, s.pageWSURL, s.cfg.DialTimeout, s.logger)
	if err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	defer conn.Close()

	if _, err := conn.Call("Page.enable", nil, timeout); err != nil {
		return fmt.Errorf("enable page domain: %w", err)
	}

	navID, err := conn.Send("Page.navigate", map[string]string{"url": url})
	if err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}

	if !waitLoad {
		return nil
	}

	// The navigate response and the load event interleave on one stream;
	// collect the response first, then hold for the event.
	if _, err := conn.AwaitResponse(navID, timeout); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if _, err := conn.AwaitEvent(cdp.EventNamed("Page.loadEventFired"), timeout); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}

	time.Sleep(navigateSettle)
	return nil
}

// OpenTab creates an additional target via the websocket channel and
// resolves its debugger URL through /json/list, matching by target id.
func (s *Session) OpenTab(ctx context.Context, url string, timeout time.Duration) (string, error) {
	if s.State() != domain.SessionReady {
		return "", fmt.Errorf("open tab for %s: session not ready", s.accountID)
	}

	conn, err := cdp.Dial(ctx, s.pageWSURL, s.cfg.DialTimeout, s.logger)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	result, err := conn.Call("Target.createTarget", map[string]string{"url": url}, timeout)
	if err != nil {
		return "", fmt.Errorf("create target: %w", err)
	}

	targetID, err := targetIDFromResult(result)
	if err != nil {
		return "", err
	}

	targets, err := s.endpoint.ListOpenTargets(ctx)
	if err != nil {
		return "", fmt.Errorf("list targets: %w", err)
	}
	for _, target := range targets {
		if target.ID == targetID && target.WebSocketDebuggerURL != "" {
			return target.WebSocketDebuggerURL, nil
		}
	}

	return "", fmt.Errorf("%w: created target %s not listed", domain.ErrNoTarget, targetID)
}

// BringToFront raises the primary page's window so foreground-only media
// playback keeps running.
func (s *Session) BringToFront(ctx context.Context, timeout time.Duration) error {
	if s.State() != domain.SessionReady {
		return fmt.Errorf("bring to front for %s: session not ready", s.accountID)
	}

	conn, err := cdp.Dial(ctx, s.pageWSURL, s.cfg.DialTimeout, s.logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.Call("Page.bringToFront", nil, timeout); err != nil {
		return fmt.Errorf("bring page to front: %w", err)
	}
	return nil
}

// EvaluateInPage runs the expression in the primary page and returns its
// string value.
func (s *Session) EvaluateInPage(ctx context.Context, expression string, timeout time.Duration) (string, error) {
	if s.State() != domain.SessionReady {
		return "", fmt.Errorf("evaluate for %s: session not ready", s.accountID)
	}

	conn, err := cdp.Dial(ctx, s.pageWSURL, s.cfg.DialTimeout, s.logger)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	if _, err := conn.Call("Runtime.enable", nil, timeout); err != nil {
		return "", fmt.Errorf("enable runtime: %w", err)
	}

	result, err := conn.Call("Runtime.evaluate", map[string]any{
		"expression":    expression,
		"returnByValue": true,
	}, timeout)
	if err != nil {
		return "", fmt.Errorf("evaluate expression: %w", err)
	}

	return evaluatedString(result)
}

// TabReadyState evaluates document.readyState in the tab behind wsURL.
func (s *Session) TabReadyState(ctx context.Context, wsURL string, timeout time.Duration) (string, error) {
	conn, err := cdp.Dial(ctx, wsURL, s.cfg.DialTimeout, s.logger)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	if _, err := conn.Call("Runtime.enable", nil, timeout); err != nil {
		return "", fmt.Errorf("enable runtime: %w", err)
	}

	result, err := conn.Call("Runtime.evaluate", map[string]any{
		"expression":    "document.readyState",
		"returnByValue": true,
	}, timeout)
	if err != nil {
		return "", fmt.Errorf("evaluate ready state: %w", err)
	}

	return evaluatedString(result)
}
