package plugins

import (
	"context"
	"fmt"

	"github.com/bnema/gmail-fleet/internal/adapters/gmail"
	"github.com/bnema/gmail-fleet/internal/domain"
	"github.com/bnema/gmail-fleet/internal/ports"
	"go.uber.org/zap"
)

// LabelAction is the generic label-mutation action: search the mailbox for
// the run's terms and apply one add/remove label set to every match. All
// the stock triage actions (archive, star, trash, ...) are instances.
type LabelAction struct {
	id     domain.ActionID
	scope  string
	add    []string
	remove []string
}

var _ ports.Action = (*LabelAction)(nil)

func labelActions() []*LabelAction {
	return []*LabelAction{
		{id: "archive", scope: "in:inbox", remove: []string{"INBOX"}},
		{id: "mark_important", scope: "in:inbox", add: []string{"IMPORTANT"}},
		{id: "mark_not_important", scope: "in:inbox", remove: []string{"IMPORTANT"}},
		{id: "star", scope: "in:inbox", add: []string{"STARRED"}},
		{id: "unstar", scope: "in:inbox", remove: []string{"STARRED"}},
		{id: "mark_unread", scope: "in:inbox", add: []string{"UNREAD"}},
		{id: "not_spam", scope: "in:spam", remove: []string{"SPAM"}},
		{id: "move_to_inbox", scope: "", add: []string{"INBOX"}},
		{id: "trash", scope: "in:inbox", add: []string{"TRASH"}, remove: []string{"INBOX"}},
	}
}

func (a *LabelAction) ID() domain.ActionID   { return a.id }
func (a *LabelAction) RequiresBrowser() bool { return false }

func (a *LabelAction) Run(ctx context.Context, actx *ports.ActionContext) error {
	terms := actx.Task.SearchTerms()
	if len(terms) == 0 {
		actx.Log.Info("no search terms, nothing to label", zap.String("action", string(a.id)))
		return nil
	}

	var modified int
	for _, term := range terms {
		query := gmail.BuildSearchQuery(term, a.scope)
		refs, err := actx.Mailbox.SearchMessages(ctx, query, 0)
		if err != nil {
			return fmt.Errorf("search %q: %w", term, err)
		}

		for _, ref := range refs {
			if err := actx.Mailbox.ModifyLabels(ctx, ref.ID, a.add, a.remove); err != nil {
				return fmt.Errorf("label message %s: %w", ref.ID, err)
			}
			modified++
		}
	}

	actx.Log.Info("label action finished",
		zap.String("action", string(a.id)), zap.Int("messages", modified))
	return nil
}
