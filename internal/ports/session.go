package ports

import (
	"context"
	"time"

	"github.com/bnema/gmail-fleet/internal/domain"
)

// BrowserSession is one live, exclusively-owned browser instance. The worker
// processing the owning account is the only holder for the whole run.
type BrowserSession interface {
	AccountID() domain.AccountID
	Port() int
	// PageDebuggerURL is the websocket endpoint of the primary page target.
	PageDebuggerURL() string
	State() domain.SessionState
	// Navigate drives the primary page target to url, optionally waiting for
	// the page load event.
	Navigate(ctx context.Context, url string, waitLoad bool, timeout time.Duration) error
}

// TabOpener is implemented by sessions that can open extra tabs beyond the
// primary page. OpenTab returns the new tab's debugger websocket URL;
// TabReadyState reports document.readyState inside that tab.
type TabOpener interface {
	OpenTab(ctx context.Context, url string, timeout time.Duration) (string, error)
	TabReadyState(ctx context.Context, wsURL string, timeout time.Duration) (string, error)
}

// PageScripter is implemented by sessions that can run script inside the
// primary page and raise its window to the foreground.
type PageScripter interface {
	BringToFront(ctx context.Context, timeout time.Duration) error
	// EvaluateInPage runs the expression in the primary page and returns
	// its string value.
	EvaluateInPage(ctx context.Context, expression string, timeout time.Duration) (string, error)
}

// SessionManager owns browser process lifecycle. Acquire failures are fatal
// for the calling account's run; Release never returns an error and always
// leaves the session terminal.
type SessionManager interface {
	Acquire(ctx context.Context, id domain.AccountID) (BrowserSession, error)
	Release(ctx context.Context, session BrowserSession, graceful bool)
}
