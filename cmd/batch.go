package cmd

import (
	"fmt"
	"strings"

	"github.com/bnema/gmail-fleet/internal/domain"
	"github.com/spf13/cobra"
)

func newBatchCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Manage account batches",
	}

	cmd.AddCommand(
		newBatchInitCmd(app),
		newBatchSetCmd(app),
		newBatchListCmd(app),
		newBatchRemoveCmd(app),
	)

	return cmd
}

func newBatchInitCmd(app *app) *cobra.Command {
	var actions []string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create or refresh the default batch covering every account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			batch, err := app.batches.EnsureDefaultBatch(cmd.Context(), toActionIDs(actions))
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "batch %s: %d member(s), actions [%s]\n",
				batch.ID, len(batch.Members), joinActionIDs(batch.Actions))
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&actions, "actions", nil, "Action IDs the default batch should run")

	return cmd
}

func newBatchSetCmd(app *app) *cobra.Command {
	var (
		name          string
		members       []string
		actions       []string
		searchTerms   string
		maxConcurrent int
	)

	cmd := &cobra.Command{
		Use:   "set <id>",
		Short: "Create or replace a batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				name = args[0]
			}

			memberIDs := make([]domain.AccountID, 0, len(members))
			for _, member := range members {
				memberIDs = append(memberIDs, domain.AccountID(strings.TrimSpace(member)))
			}

			batch, err := app.batches.Save(cmd.Context(), domain.Batch{
				ID:            domain.BatchID(args[0]),
				Name:          name,
				Members:       memberIDs,
				Actions:       toActionIDs(actions),
				MaxConcurrent: maxConcurrent,
				SearchTerms:   searchTerms,
			})
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "batch %s saved: %d member(s)\n", batch.ID, len(batch.Members))
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Batch display name")
	cmd.Flags().StringSliceVar(&members, "members", nil, "Member account emails")
	cmd.Flags().StringSliceVar(&actions, "actions", nil, "Action IDs to run")
	cmd.Flags().StringVar(&searchTerms, "search", "", "Search terms shared with the batch's actions")
	cmd.Flags().IntVar(&maxConcurrent, "max-concurrent", 0, "Concurrent account limit (0 uses the default)")
	_ = cmd.MarkFlagRequired("members")

	return cmd
}

func newBatchListCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List batches",
		RunE: func(cmd *cobra.Command, _ []string) error {
			batches, err := app.batches.List(cmd.Context())
			if err != nil {
				return err
			}

			for _, batch := range batches {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d member(s)\tactions [%s]\n",
					batch.ID, len(batch.Members), joinActionIDs(batch.Actions))
			}

			return nil
		},
	}
}

func newBatchRemoveCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.batches.Remove(cmd.Context(), domain.BatchID(args[0])); err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
			return nil
		},
	}
}

func newActionsCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "actions",
		Short: "List available actions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, id := range app.registry.IDs() {
				action, err := app.registry.Resolve(id)
				if err != nil {
					return err
				}

				kind := "api"
				if action.RequiresBrowser() {
					kind = "browser"
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", id, kind)
			}

			return nil
		},
	}
}

func toActionIDs(raw []string) []domain.ActionID {
	ids := make([]domain.ActionID, 0, len(raw))
	for _, id := range raw {
		trimmed := strings.TrimSpace(id)
		if trimmed == "" {
			continue
		}
		ids = append(ids, domain.ActionID(trimmed))
	}
	return ids
}

func joinActionIDs(ids []domain.ActionID) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, string(id))
	}
	return strings.Join(parts, ", ")
}
