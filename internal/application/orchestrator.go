package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/bnema/gmail-fleet/internal/domain"
	"github.com/bnema/gmail-fleet/internal/ports"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// RunRequest describes one pipeline invocation: the accounts to process,
// the ordered actions to run on each, and the shared values seeded into
// every account's task.
type RunRequest struct {
	Accounts      []domain.Account
	Actions       []domain.ActionID
	Shared        map[string]any
	MaxConcurrent int
}

// Orchestrator fans accounts out to a bounded worker pool. Accounts are
// isolated from each other: one account failing never stops the run, and
// at most MaxConcurrent browsers are alive at any moment.
type Orchestrator struct {
	sessions  ports.SessionManager
	creds     ports.CredentialSource
	auth      ports.Authorizer
	actions   ports.ActionResolver
	mailboxes ports.MailboxFactory
	clock     ports.Clock
	logger    *zap.Logger
}

func NewOrchestrator(
	sessions ports.SessionManager,
	creds ports.CredentialSource,
	auth ports.Authorizer,
	actions ports.ActionResolver,
	mailboxes ports.MailboxFactory,
	clock ports.Clock,
	logger *zap.Logger,
) *Orchestrator {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		sessions:  sessions,
		creds:     creds,
		auth:      auth,
		actions:   actions,
		mailboxes: mailboxes,
		clock:     clock,
		logger:    logger,
	}
}

// Run processes every account in the request and always returns a summary;
// the error is non-nil only when the run could not start at all.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (domain.RunSummary, error) {
	if len(req.Accounts) == 0 {
		return domain.RunSummary{}, errors.New("no accounts to process")
	}

	// Resolve up front so a misspelled action aborts before any browser
	// launches.
	resolved, err := o.actions.ResolveAll(req.Actions)
	if err != nil {
		return domain.RunSummary{}, err
	}

	limit := req.MaxConcurrent
	if limit <= 0 {
		limit = domain.DefaultMaxConcurrent
	}

	runID := uuid.NewString()
	started := o.clock.Now()
	o.logger.Info("run starting",
		zap.String("run", runID),
		zap.Int("accounts", len(req.Accounts)),
		zap.Int("max_concurrent", limit))

	results := make([]domain.AccountResult, len(req.Accounts))

	var group errgroup.Group
	group.SetLimit(limit)
	for i, account := range req.Accounts {
		i, account := i, account
		group.Go(func() error {
			results[i] = o.runAccount(ctx, account, req, resolved)
			return nil
		})
	}
	_ = group.Wait()

	summary := domain.RunSummary{
		RunID:      runID,
		Total:      len(results),
		Results:    results,
		StartedAt:  started,
		FinishedAt: o.clock.Now(),
	}
	for _, result := range results {
		if result.Outcome == domain.OutcomeCompleted {
			summary.Completed++
		} else {
			summary.Failed++
		}
	}

	o.logger.Info("run finished",
		zap.String("run", runID),
		zap.Int("completed", summary.Completed),
		zap.Int("failed", summary.Failed))
	return summary, nil
}

func (o *Orchestrator) runAccount(ctx context.Context, account domain.Account, req RunRequest, actions []ports.Action) domain.AccountResult {
	log := o.logger.With(zap.String("account", string(account.ID)))
	result := domain.AccountResult{
		AccountID: account.ID,
		StartedAt: o.clock.Now(),
	}
	fail := func(err error) domain.AccountResult {
		log.Error("account run failed", zap.Error(err))
		result.Outcome = domain.OutcomeFailed
		result.Err = err
		result.FinishedAt = o.clock.Now()
		return result
	}

	task := domain.NewAccountTask(account.ID, req.Actions)
	for key, value := range req.Shared {
		task.Shared[key] = value
	}

	needsBrowser := false
	for _, action := range actions {
		if action.RequiresBrowser() {
			needsBrowser = true
			break
		}
	}

	var session ports.BrowserSession
	if needsBrowser {
		var err error
		session, err = o.sessions.Acquire(ctx, account.ID)
		if err != nil {
			return fail(fmt.Errorf("acquire browser: %w", err))
		}
		log.Info("browser session ready", zap.Int("port", session.Port()))
	}

	released := false
	release := func() {
		if session == nil || released {
			return
		}
		released = true
		if task.KeepOpen() {
			result.KeptOpen = true
			log.Info("leaving browser session open")
			return
		}
		o.sessions.Release(ctx, session, true)
	}
	defer release()

	cred, err := o.resolveCredential(ctx, account, session, log)
	if err != nil {
		return fail(fmt.Errorf("resolve credential: %w", err))
	}

	mailbox, contacts := o.mailboxes.MailboxFor(account, cred)
	actx := &ports.ActionContext{
		Account:  account,
		Task:     task,
		Session:  session,
		Mailbox:  mailbox,
		Contacts: contacts,
		Log:      log,
	}

	// Per-action isolation: a failing action is recorded and the rest of
	// the account's actions still run.
	for _, action := range actions {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		if err := action.Run(ctx, actx); err != nil {
			log.Warn("action failed",
				zap.String("action", string(action.ID())), zap.Error(err))
			result.FailedActions = append(result.FailedActions, action.ID())
		}
	}

	release()
	result.Outcome = domain.OutcomeCompleted
	result.FinishedAt = o.clock.Now()
	return result
}

// resolveCredential works through the ladder: stored and valid, stored and
// refreshable, else a fresh interactive authorization driven through the
// account's live session. Without a session there is nothing to answer the
// consent screen, so the account aborts instead of launching a browser no
// enabled action asked for.
func (o *Orchestrator) resolveCredential(ctx context.Context, account domain.Account, session ports.BrowserSession, log *zap.Logger) (domain.Credential, error) {
	cred, err := o.creds.Load(ctx, account.ID)
	if err == nil {
		if cred.Valid(o.clock.Now()) {
			return cred, nil
		}
		if cred.Refreshable() {
			refreshed, refreshErr := o.creds.Refresh(ctx, cred)
			if refreshErr == nil {
				if saveErr := o.creds.Save(ctx, account.ID, refreshed); saveErr != nil {
					log.Warn("persisting refreshed credential failed", zap.Error(saveErr))
				}
				return refreshed, nil
			}
			log.Warn("token refresh failed, falling back to authorization", zap.Error(refreshErr))
		}
	} else if !errors.Is(err, domain.ErrCredentialUnavailable) {
		return domain.Credential{}, err
	}

	if session == nil {
		return domain.Credential{}, fmt.Errorf(
			"%w: interactive authorization needs a live browser session", domain.ErrCredentialUnavailable)
	}

	fresh, err := o.auth.Authorize(ctx, account.ID, session)
	if err != nil {
		return domain.Credential{}, err
	}
	if saveErr := o.creds.Save(ctx, account.ID, fresh); saveErr != nil {
		log.Warn("persisting fresh credential failed", zap.Error(saveErr))
	}
	return fresh, nil
}
