package plugins

import (
	"context"
	"fmt"
	"strings"

	"github.com/bnema/gmail-fleet/internal/domain"
	"github.com/bnema/gmail-fleet/internal/ports"
	"go.uber.org/zap"
)

// AddContacts registers the run's sender addresses in the account's contact
// list. Input comes from the shared "contacts" value, comma separated.
type AddContacts struct{}

var _ ports.Action = (*AddContacts)(nil)

func (AddContacts) ID() domain.ActionID   { return "add_contacts" }
func (AddContacts) RequiresBrowser() bool { return false }

func (AddContacts) Run(ctx context.Context, actx *ports.ActionContext) error {
	raw, _ := actx.Task.Shared[domain.SharedContactInput].(string)
	emails := domain.SplitTerms(raw, ",")
	if len(emails) == 0 {
		actx.Log.Info("no contact addresses provided")
		return nil
	}

	var added int
	for _, email := range emails {
		if !strings.Contains(email, "@") {
			actx.Log.Warn("skipping invalid contact address", zap.String("email", email))
			continue
		}
		if err := actx.Contacts.CreateContact(ctx, email); err != nil {
			return fmt.Errorf("add contact %s: %w", email, err)
		}
		added++
	}

	actx.Log.Info("contacts added", zap.Int("count", added))
	return nil
}
