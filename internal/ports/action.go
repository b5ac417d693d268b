package ports

import (
	"context"

	"github.com/bnema/gmail-fleet/internal/domain"
	"go.uber.org/zap"
)

// ActionContext is the shared per-account context every action in a run
// receives. Session is nil when no action in the run required a browser.
type ActionContext struct {
	Account  domain.Account
	Task     *domain.AccountTask
	Session  BrowserSession
	Mailbox  Mailbox
	Contacts Contacts
	Log      *zap.Logger
}

// Action is the pluggable unit the orchestrator executes. Implementations
// report browser dependence up front so the pipeline can decide whether an
// account needs a session at all.
type Action interface {
	ID() domain.ActionID
	RequiresBrowser() bool
	Run(ctx context.Context, actx *ActionContext) error
}

// ActionResolver maps action ids to implementations, failing on the first
// unknown id.
type ActionResolver interface {
	ResolveAll(ids []domain.ActionID) ([]Action, error)
}

// MailboxFactory builds message API clients bound to one account's
// credential.
type MailboxFactory interface {
	MailboxFor(account domain.Account, cred domain.Credential) (Mailbox, Contacts)
}
