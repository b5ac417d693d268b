package chrome

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/bnema/gmail-fleet/internal/adapters/cdp"
	"github.com/bnema/gmail-fleet/internal/domain"
	"github.com/bnema/gmail-fleet/internal/ports"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig(t *testing.T) Config {
	t.Helper()

	cfg := DefaultConfig(t.TempDir())
	cfg.FallbackInstallDir = t.TempDir()
	cfg.ExecutableName = "fake-chrome"
	cfg.ReadinessTimeout = 600 * time.Millisecond
	cfg.ReadinessPoll = 50 * time.Millisecond
	cfg.TargetTimeout = 600 * time.Millisecond
	cfg.TargetPoll = 50 * time.Millisecond
	cfg.FlushWait = 50 * time.Millisecond
	cfg.ExitWait = 200 * time.Millisecond
	cfg.TermWait = 200 * time.Millisecond

	return cfg
}

// writeFakeBrowser installs a script that records its pid and then sleeps,
// standing in for a browser process that never serves the debug endpoint.
func writeFakeBrowser(t *testing.T, cfg Config) string {
	t.Helper()

	pidFile := filepath.Join(t.TempDir(), "browser.pid")
	script := fmt.Sprintf("#!/bin/sh\necho $$ > %s\nexec sleep 30\n", pidFile)
	path := filepath.Join(cfg.FallbackInstallDir, cfg.ExecutableName)
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))

	return pidFile
}

func processGone(pid int) bool {
	return syscall.Kill(pid, 0) != nil
}

func readPID(t *testing.T, pidFile string) int {
	t.Helper()

	require.Eventually(t, func() bool {
		_, err := os.Stat(pidFile)
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)

	raw, err := os.ReadFile(pidFile)
	require.NoError(t, err)
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	require.NoError(t, err)
	return pid
}

// fakeDebugSurface serves the discovery endpoints plus a page/browser
// websocket, fully standing in for a live browser's control surface.
type fakeDebugSurface struct {
	server *httptest.Server
	wsBase string
}

func newFakeDebugSurface(t *testing.T) *fakeDebugSurface {
	t.Helper()

	fs := &fakeDebugSurface{}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	mux := http.NewServeMux()
	mux.HandleFunc("/devtools/", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		for {
			var req cdp.Message
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			if req.ID != 0 {
				_ = conn.WriteJSON(cdp.Message{ID: req.ID, Result: json.RawMessage(`{}`)})
			}
		}
	})
	mux.HandleFunc("/json/new", func(w http.ResponseWriter, r *http.Request) {
		writeJSONBody(w, cdp.Target{ID: "t-1", Type: "page", WebSocketDebuggerURL: fs.wsBase + "/devtools/page/t-1"})
	})
	mux.HandleFunc("/json/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSONBody(w, cdp.VersionInfo{Browser: "FakeChrome/1.0", WebSocketDebuggerURL: fs.wsBase + "/devtools/browser/b-1"})
	})
	mux.HandleFunc("/json/list", func(w http.ResponseWriter, r *http.Request) {
		writeJSONBody(w, []cdp.Target{{ID: "t-1", Type: "page", WebSocketDebuggerURL: fs.wsBase + "/devtools/page/t-1"}})
	})
	mux.HandleFunc("/json", func(w http.ResponseWriter, r *http.Request) {
		writeJSONBody(w, []cdp.Target{{ID: "t-1", Type: "page", WebSocketDebuggerURL: fs.wsBase + "/devtools/page/t-1"}})
	})

	fs.server = httptest.NewServer(mux)
	fs.wsBase = "ws" + strings.TrimPrefix(fs.server.URL, "http")
	t.Cleanup(fs.server.Close)

	return fs
}

func (f *fakeDebugSurface) port(t *testing.T) int {
	t.Helper()
	parsed := strings.Split(f.server.URL, ":")
	port, err := strconv.Atoi(parsed[len(parsed)-1])
	require.NoError(t, err)
	return port
}

func writeJSONBody(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestAcquireFailsWithProfileUnavailableWhenNoExecutable(t *testing.T) {
	t.Parallel()

	mgr := NewManager(testConfig(t), zap.NewNop())

	_, err := mgr.Acquire(context.Background(), "user@example.com")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrProfileUnavailable))
}

func TestAcquireTimesOutAndLeavesNoOrphanProcess(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	pidFile := writeFakeBrowser(t, cfg)
	mgr := NewManager(cfg, zap.NewNop())

	_, err := mgr.Acquire(context.Background(), "user@example.com")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrLaunchTimeout))

	pid := readPID(t, pidFile)
	assert.Eventually(t, func() bool { return processGone(pid) }, 3*time.Second, 50*time.Millisecond,
		"launch-timeout path must reap the browser process")
}

func TestAcquireReachesReadyAndReleaseReapsProcess(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	pidFile := writeFakeBrowser(t, cfg)
	surface := newFakeDebugSurface(t)

	mgr := NewManager(cfg, zap.NewNop())
	mgr.endpointFor = func(int) cdp.Endpoint { return cdp.NewEndpoint(surface.port(t)) }

	session, err := mgr.Acquire(context.Background(), "user@example.com")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionReady, session.State())
	assert.NotEmpty(t, session.PageDebuggerURL())

	require.NoError(t, session.Navigate(context.Background(), "https://mail.google.com/mail/u/0/#inbox", false, time.Second))

	// The account invariant: a second live session for the same account is
	// refused while the first is held.
	_, err = mgr.Acquire(context.Background(), "user@example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already live")

	mgr.Release(context.Background(), session, true)
	assert.Equal(t, domain.SessionClosed, session.State())

	pid := readPID(t, pidFile)
	assert.Eventually(t, func() bool { return processGone(pid) }, 3*time.Second, 50*time.Millisecond)
}

func TestAcquireIsExclusivePerAccountUnderConcurrency(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	writeFakeBrowser(t, cfg)
	surface := newFakeDebugSurface(t)

	mgr := NewManager(cfg, zap.NewNop())
	mgr.endpointFor = func(int) cdp.Endpoint { return cdp.NewEndpoint(surface.port(t)) }

	const callers = 4
	var (
		mu       sync.Mutex
		sessions []ports.BrowserSession
		refusals []error
		wg       sync.WaitGroup
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			session, err := mgr.Acquire(context.Background(), "user@example.com")
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				refusals = append(refusals, err)
				return
			}
			sessions = append(sessions, session)
		}()
	}
	wg.Wait()

	// Exactly one caller may hold the account's browser; the rest are
	// refused at the door instead of racing a second launch.
	require.Len(t, sessions, 1)
	require.Len(t, refusals, callers-1)
	for _, err := range refusals {
		assert.Contains(t, err.Error(), "already live")
	}

	mgr.Release(context.Background(), sessions[0], false)
}

func TestReleaseIsIdempotentAndNeverFails(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	writeFakeBrowser(t, cfg)
	surface := newFakeDebugSurface(t)

	mgr := NewManager(cfg, zap.NewNop())
	mgr.endpointFor = func(int) cdp.Endpoint { return cdp.NewEndpoint(surface.port(t)) }

	session, err := mgr.Acquire(context.Background(), "user@example.com")
	require.NoError(t, err)

	mgr.Release(context.Background(), session, false)
	mgr.Release(context.Background(), session, true)
	assert.Equal(t, domain.SessionClosed, session.State())

	// Releasing frees the account slot for a later run.
	second, err := mgr.Acquire(context.Background(), "user@example.com")
	require.NoError(t, err)
	mgr.Release(context.Background(), second, false)
}

func TestSessionNavigateRequiresReadyState(t *testing.T) {
	t.Parallel()

	session := &Session{accountID: "user@example.com", state: domain.SessionClosed, cfg: testConfig(t), logger: zap.NewNop()}

	err := session.Navigate(context.Background(), "https://mail.google.com", false, time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not ready")
}
