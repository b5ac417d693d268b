package cmd

import (
	"fmt"

	"github.com/bnema/gmail-fleet/internal/domain"
	"github.com/spf13/cobra"
)

func newAccountCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage accounts",
	}

	cmd.AddCommand(
		newAccountAddCmd(app),
		newAccountListCmd(app),
		newAccountRemoveCmd(app),
	)

	return cmd
}

func newAccountAddCmd(app *app) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "add <email>",
		Short: "Register a Gmail account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			account, err := app.accounts.Add(cmd.Context(), args[0], name)
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "added %s (%s)\n", account.ID, account.Name)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Display name (defaults to the address local part)")

	return cmd
}

func newAccountListCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered accounts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			accounts, err := app.accounts.List(cmd.Context())
			if err != nil {
				return err
			}

			for _, account := range accounts {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", account.ID, account.Name)
			}

			return nil
		},
	}
}

func newAccountRemoveCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <email>",
		Short: "Remove a registered account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.accounts.Remove(cmd.Context(), domain.AccountID(args[0])); err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
			return nil
		},
	}
}
