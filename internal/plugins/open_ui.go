package plugins

import (
	"context"
	"fmt"
	"time"

	"github.com/bnema/gmail-fleet/internal/domain"
	"github.com/bnema/gmail-fleet/internal/ports"
)

const inboxURL = "https://mail.google.com/mail/u/0/#inbox"

// OpenUI navigates the session to the mailbox UI and flags the session to
// stay open after the run, for a human to take over.
type OpenUI struct{}

var _ ports.Action = (*OpenUI)(nil)

func (OpenUI) ID() domain.ActionID   { return "open_ui" }
func (OpenUI) RequiresBrowser() bool { return true }

func (OpenUI) Run(ctx context.Context, actx *ports.ActionContext) error {
	if actx.Session == nil {
		return fmt.Errorf("open_ui needs a browser session")
	}

	if err := actx.Session.Navigate(ctx, inboxURL, true, 0); err != nil {
		return fmt.Errorf("open mailbox ui: %w", err)
	}

	actx.Task.Shared[domain.SharedKeepOpen] = true
	actx.Log.Info("mailbox ui opened, session will stay up")

	// Give the inbox a moment to render before the run moves on.
	select {
	case <-time.After(time.Second):
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}
