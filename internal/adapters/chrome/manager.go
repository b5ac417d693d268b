package chrome

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/bnema/gmail-fleet/internal/adapters/cdp"
	"github.com/bnema/gmail-fleet/internal/domain"
	"github.com/bnema/gmail-fleet/internal/ports"
	"go.uber.org/zap"
)

// Config carries every path and timeout the session manager honours. The
// timeout values are documented contracts, not implementation accidents.
type Config struct {
	// CloneRoot holds per-account cloned browser installs.
	CloneRoot string
	// ProfileRoot holds per-account user-data directories.
	ProfileRoot string
	// FallbackInstallDir is the shared install searched when an account has
	// no clone.
	FallbackInstallDir string
	// ExecutableName is the binary file name searched for inside installs.
	ExecutableName string

	ReadinessTimeout time.Duration
	ReadinessPoll    time.Duration
	TargetTimeout    time.Duration
	TargetPoll       time.Duration
	DialTimeout      time.Duration
	NavigateTimeout  time.Duration
	// FlushWait is how long a graceful close waits after window.close() so
	// the application can persist client-side state.
	FlushWait time.Duration
	ExitWait  time.Duration
	TermWait  time.Duration
}

func DefaultConfig(dataRoot string) Config {
	return Config{
		CloneRoot:          filepath.Join(dataRoot, "chromes"),
		ProfileRoot:        filepath.Join(dataRoot, "profiles"),
		FallbackInstallDir: "/opt/google/chrome",
		ExecutableName:     "chrome",
		ReadinessTimeout:   12 * time.Second,
		ReadinessPoll:      200 * time.Millisecond,
		TargetTimeout:      10 * time.Second,
		TargetPoll:         250 * time.Millisecond,
		DialTimeout:        8 * time.Second,
		NavigateTimeout:    12 * time.Second,
		FlushWait:          5 * time.Second,
		ExitWait:           6 * time.Second,
		TermWait:           2 * time.Second,
	}
}

// launchArgs are the flags required for unattended multi-account operation:
// isolated profile, remote debugging, and no first-run or certificate
// interstitials that would block an unattended instance.
func launchArgs(profileDir string, port int) []string {
	return []string{
		"--user-data-dir=" + profileDir,
		fmt.Sprintf("--remote-debugging-port=%d", port),
		"--remote-allow-origins=*",
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-default-apps",
		"--disable-translate",
		"--autoplay-policy=no-user-gesture-required",
		"--ignore-certificate-errors",
	}
}

// Manager owns browser process lifecycle: launch, readiness wait, primary
// target discovery and unconditional teardown. At most one live session per
// account at any time.
type Manager struct {
	cfg    Config
	logger *zap.Logger

	mu   sync.Mutex
	live map[domain.AccountID]*Session

	// endpointFor is an indirection for tests; production always points the
	// discovery client at the allocated port.
	endpointFor func(port int) cdp.Endpoint
}

var _ ports.SessionManager = (*Manager)(nil)

func NewManager(cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Manager{
		cfg:         cfg,
		logger:      logger,
		live:        make(map[domain.AccountID]*Session),
		endpointFor: cdp.NewEndpoint,
	}
}

func (m *Manager) Acquire(ctx context.Context, id domain.AccountID) (ports.BrowserSession, error) {
	// Reserve the slot under the same lock as the existence check so two
	// concurrent Acquires for one account cannot both launch a browser.
	m.mu.Lock()
	if _, exists := m.live[id]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("session already live for account %s", id)
	}
	m.live[id] = nil
	m.mu.Unlock()

	unreserve := func() {
		m.mu.Lock()
		delete(m.live, id)
		m.mu.Unlock()
	}

	exe, err := m.cfg.findExecutable(id)
	if err != nil {
		unreserve()
		return nil, fmt.Errorf("locate browser for %s: %w", id, err)
	}

	port, err := FreePort()
	if err != nil {
		unreserve()
		return nil, fmt.Errorf("allocate debugging port for %s: %w", id, err)
	}

	profileDir := m.cfg.ProfileDir(id)
	if err := os.MkdirAll(profileDir, 0o700); err != nil {
		unreserve()
		return nil, fmt.Errorf("%w: create profile dir: %v", domain.ErrProfileUnavailable, err)
	}

	cmd := exec.Command(exe, launchArgs(profileDir, port)...)
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		unreserve()
		return nil, fmt.Errorf("%w: start browser: %v", domain.ErrProfileUnavailable, err)
	}

	session := &Session{
		accountID: id,
		port:      port,
		cmd:       cmd,
		waitDone:  make(chan error, 1),
		endpoint:  m.endpointFor(port),
		state:     domain.SessionLaunching,
		cfg:       m.cfg,
		logger:    m.logger.With(zap.String("account", string(id)), zap.Int("port", port)),
	}
	go func() { session.waitDone <- cmd.Wait() }()

	if err := m.awaitReadiness(ctx, session); err != nil {
		m.reap(session)
		session.setState(domain.SessionFailed)
		unreserve()
		return nil, err
	}

	wsURL, err := m.awaitPrimaryTarget(ctx, session)
	if err != nil {
		m.reap(session)
		session.setState(domain.SessionFailed)
		unreserve()
		return nil, err
	}

	session.pageWSURL = wsURL
	session.setState(domain.SessionReady)

	m.mu.Lock()
	m.live[id] = session
	m.mu.Unlock()

	m.logger.Info("session started",
		zap.String("account", string(id)),
		zap.Int("port", port))

	return session, nil
}

// awaitReadiness polls the debug HTTP endpoint until it answers 200 or the
// readiness budget elapses.
func (m *Manager) awaitReadiness(ctx context.Context, s *Session) error {
	deadline := time.Now().Add(m.cfg.ReadinessTimeout)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}

		probeCtx, cancel := context.WithTimeout(ctx, time.Second)
		ready := s.endpoint.Ready(probeCtx)
		cancel()
		if ready {
			return nil
		}

		time.Sleep(m.cfg.ReadinessPoll)
	}

	return fmt.Errorf("%w: port %d after %s", domain.ErrLaunchTimeout, s.port, m.cfg.ReadinessTimeout)
}

// awaitPrimaryTarget creates a page target and resolves its websocket URL.
// The debug endpoint can answer before a navigable target exists, so target
// creation is retried on a poll interval up to its own budget.
func (m *Manager) awaitPrimaryTarget(ctx context.Context, s *Session) (string, error) {
	deadline := time.Now().Add(m.cfg.TargetTimeout)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		if target, err := s.endpoint.CreateTarget(ctx, "about:blank"); err == nil && target.WebSocketDebuggerURL != "" {
			return target.WebSocketDebuggerURL, nil
		}

		// Older builds reject /json/new; an existing target from the list
		// serves equally as the primary page.
		if targets, err := s.endpoint.ListTargets(ctx); err == nil {
			for _, target := range targets {
				if target.WebSocketDebuggerURL != "" {
					return target.WebSocketDebuggerURL, nil
				}
			}
		}

		time.Sleep(m.cfg.TargetPoll)
	}

	return "", fmt.Errorf("%w: port %d after %s", domain.ErrNoTarget, s.port, m.cfg.TargetTimeout)
}

// Release tears a session down. Graceful mode first asks the browser to
// close itself so client-side state gets flushed; every failure along the
// way only degrades the shutdown, it never surfaces. The session always
// ends Closed with the process gone.
func (m *Manager) Release(ctx context.Context, session ports.BrowserSession, graceful bool) {
	s, ok := session.(*Session)
	if !ok || s == nil {
		return
	}
	if s.State().Terminal() {
		return
	}

	s.setState(domain.SessionClosing)

	if graceful {
		m.gracefulClose(ctx, s)
	}

	m.reap(s)
	s.setState(domain.SessionClosed)

	m.mu.Lock()
	delete(m.live, s.accountID)
	m.mu.Unlock()

	m.logger.Info("session closed",
		zap.String("account", string(s.accountID)),
		zap.Bool("graceful", graceful))
}

func (m *Manager) gracefulClose(ctx context.Context, s *Session) {
	info, err := s.endpoint.Version(ctx)
	if err != nil || info.WebSocketDebuggerURL == "" {
		s.logger.Warn("no browser debugger url, falling back to process shutdown", zap.Error(err))
		return
	}

	conn, err := cdp.Dial(ctx, info.WebSocketDebuggerURL, m.cfg.DialTimeout, s.logger)
	if err != nil {
		s.logger.Warn("graceful close connect failed", zap.Error(err))
		return
	}
	defer conn.Close()

	if _, err := conn.Send("Runtime.enable", nil); err != nil {
		s.logger.Warn("enable runtime failed", zap.Error(err))
	}
	if _, err := conn.Send("Runtime.evaluate", map[string]any{"expression": "window.close()"}); err != nil {
		s.logger.Warn("window.close evaluate failed", zap.Error(err))
	}

	s.logger.Info("waiting for browser to flush state", zap.Duration("flush", m.cfg.FlushWait))
	select {
	case <-time.After(m.cfg.FlushWait):
	case <-ctx.Done():
	}

	if _, err := conn.Send("Browser.close", nil); err != nil {
		s.logger.Warn("browser close command failed", zap.Error(err))
	}
}

// reap waits for the process to exit on its own, then escalates from
// terminate to kill. It returns only once the process is confirmed gone.
func (m *Manager) reap(s *Session) {
	select {
	case <-s.waitDone:
		s.logger.Debug("browser exited cleanly")
		return
	case <-time.After(m.cfg.ExitWait):
	}

	s.logger.Info("browser still running, terminating")
	if err := s.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		s.logger.Debug("terminate signal failed", zap.Error(err))
	}

	select {
	case <-s.waitDone:
		return
	case <-time.After(m.cfg.TermWait):
	}

	s.logger.Warn("browser ignored terminate, killing")
	if err := s.cmd.Process.Kill(); err != nil {
		s.logger.Warn("kill failed", zap.Error(err))
	}
	<-s.waitDone
}
