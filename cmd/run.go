package cmd

import (
	"context"
	"fmt"
	"strings"

	summaryadapter "github.com/bnema/gmail-fleet/internal/adapters/render/summary"
	"github.com/bnema/gmail-fleet/internal/application"
	"github.com/bnema/gmail-fleet/internal/domain"
	"github.com/spf13/cobra"
)

func newRunCmd(app *app) *cobra.Command {
	var (
		batchID       string
		accountIDs    []string
		actions       []string
		searchTerms   string
		contacts      string
		linksPerMsg   int
		maxConcurrent int
		verbose       bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run batch actions across accounts",
		Long:  "Runs the selected batch's actions across its member accounts, launching one isolated Chrome per account when an action needs a browser. Use --accounts and --actions to run an ad-hoc selection without a saved batch.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := buildRunRequest(cmd.Context(), app, runFlags{
				batchID:       batchID,
				accountIDs:    accountIDs,
				actions:       actions,
				searchTerms:   searchTerms,
				contacts:      contacts,
				linksPerMsg:   linksPerMsg,
				maxConcurrent: maxConcurrent,
			})
			if err != nil {
				return err
			}

			var summary domain.RunSummary
			label := fmt.Sprintf("Running %d account(s)...", len(req.Accounts))
			if err := runWithSpinner(cmd.Context(), cmd.ErrOrStderr(), label, func(ctx context.Context) error {
				summary, err = app.orchestrator.Run(ctx, req)
				return err
			}); err != nil {
				return err
			}

			rendered, err := app.summaryRenderer(summary, summaryadapter.RenderOptions{Verbose: verbose})
			if err != nil {
				return err
			}
			_, _ = fmt.Fprint(cmd.OutOrStdout(), rendered)

			if summary.Failed > 0 {
				return fmt.Errorf("%d of %d account(s) failed", summary.Failed, summary.Total)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&batchID, "batch", string(application.DefaultBatchID), "Batch ID to run")
	cmd.Flags().StringSliceVar(&accountIDs, "accounts", nil, "Run these accounts instead of a batch")
	cmd.Flags().StringSliceVar(&actions, "actions", nil, "Action IDs overriding the batch's actions")
	cmd.Flags().StringVar(&searchTerms, "search", "", "Search terms overriding the batch's terms")
	cmd.Flags().StringVar(&contacts, "contacts", "", "Comma-separated addresses for the add_contacts action")
	cmd.Flags().IntVar(&linksPerMsg, "links", 0, "Max links the click_links action opens per message")
	cmd.Flags().IntVar(&maxConcurrent, "max-concurrent", 0, "Concurrent account limit override")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show per-action failures and errors in the summary")

	return cmd
}

type runFlags struct {
	batchID       string
	accountIDs    []string
	actions       []string
	searchTerms   string
	contacts      string
	linksPerMsg   int
	maxConcurrent int
}

func buildRunRequest(ctx context.Context, app *app, flags runFlags) (application.RunRequest, error) {
	req, err := selectAccounts(ctx, app, flags)
	if err != nil {
		return application.RunRequest{}, err
	}

	if req.Shared == nil {
		req.Shared = make(map[string]any)
	}
	if len(flags.actions) > 0 {
		req.Actions = toActionIDs(flags.actions)
	}
	if flags.searchTerms != "" {
		req.Shared[domain.SharedSearchTerms] = flags.searchTerms
	}
	if flags.contacts != "" {
		req.Shared[domain.SharedContactInput] = flags.contacts
	}
	if flags.linksPerMsg > 0 {
		req.Shared[domain.SharedLinkCount] = flags.linksPerMsg
	}
	if flags.maxConcurrent > 0 {
		req.MaxConcurrent = flags.maxConcurrent
	}

	if len(req.Actions) == 0 {
		return application.RunRequest{}, fmt.Errorf("no actions selected; pass --actions or save them on the batch")
	}

	return req, nil
}

// selectAccounts resolves the run's account set, either ad hoc from
// --accounts or from the named batch. The default batch is materialized on
// demand so a fresh install can run without a prior "batch init".
func selectAccounts(ctx context.Context, app *app, flags runFlags) (application.RunRequest, error) {
	if len(flags.accountIDs) > 0 {
		accounts := make([]domain.Account, 0, len(flags.accountIDs))
		for _, raw := range flags.accountIDs {
			account, err := app.accounts.Get(ctx, domain.AccountID(strings.TrimSpace(raw)))
			if err != nil {
				return application.RunRequest{}, err
			}
			accounts = append(accounts, account)
		}

		return application.RunRequest{Accounts: accounts}, nil
	}

	if domain.BatchID(flags.batchID) == application.DefaultBatchID {
		if _, err := app.batches.EnsureDefaultBatch(ctx, toActionIDs(flags.actions)); err != nil {
			return application.RunRequest{}, err
		}
	}

	return app.batches.ResolveRun(ctx, domain.BatchID(flags.batchID))
}
