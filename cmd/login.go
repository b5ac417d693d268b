package cmd

import (
	"context"
	"errors"
	"fmt"

	authadapter "github.com/bnema/gmail-fleet/internal/adapters/auth"
	"github.com/bnema/gmail-fleet/internal/domain"
	"github.com/spf13/cobra"
)

func newLoginCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authorize accounts against Google",
	}

	cmd.AddCommand(newLoginBrowserCmd(app), newLoginDeviceCmd(app))

	return cmd
}

func newLoginBrowserCmd(app *app) *cobra.Command {
	var accountID string

	cmd := &cobra.Command{
		Use:   "browser",
		Short: "Authorize through the account's managed Chrome",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireOAuthClient(app); err != nil {
				return err
			}

			account, err := app.accounts.Get(cmd.Context(), domain.AccountID(accountID))
			if err != nil {
				return err
			}

			return runBrowserLogin(cmd, app, account.ID)
		},
	}

	cmd.Flags().StringVar(&accountID, "account", "", "Account email to authorize")
	_ = cmd.MarkFlagRequired("account")

	return cmd
}

func newLoginDeviceCmd(app *app) *cobra.Command {
	var accountID string

	cmd := &cobra.Command{
		Use:   "device",
		Short: "Authorize with a device code, without a local browser",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireOAuthClient(app); err != nil {
				return err
			}

			account, err := app.accounts.Get(cmd.Context(), domain.AccountID(accountID))
			if err != nil {
				return err
			}

			return runDeviceLogin(cmd, app, account.ID)
		},
	}

	cmd.Flags().StringVar(&accountID, "account", "", "Account email to authorize")
	_ = cmd.MarkFlagRequired("account")

	return cmd
}

func runBrowserLogin(cmd *cobra.Command, app *app, accountID domain.AccountID) error {
	ctx := cmd.Context()

	session, err := app.sessions.Acquire(ctx, accountID)
	if err != nil {
		return fmt.Errorf("launch browser for %s: %w", accountID, err)
	}
	defer app.sessions.Release(ctx, session, true)

	cred, err := app.authorizer.Authorize(ctx, accountID, session)
	if err != nil {
		return fmt.Errorf("authorize %s: %w", accountID, err)
	}

	if err := app.credentials.Save(ctx, accountID, cred); err != nil {
		return fmt.Errorf("save credential for %s: %w", accountID, err)
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Authorized %s\n", accountID)
	return nil
}

func runDeviceLogin(cmd *cobra.Command, app *app, accountID domain.AccountID) error {
	ctx := cmd.Context()

	code, err := app.deviceFlow.RequestDeviceCode(ctx, authadapter.DefaultScopes)
	if err != nil {
		return fmt.Errorf("request device code: %w", err)
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Open %s and enter code %s to authorize %s\n",
		code.VerificationURL, code.UserCode, accountID)

	var cred domain.Credential
	err = runWithSpinner(ctx, cmd.ErrOrStderr(), "Waiting for device authorization...", func(ctx context.Context) error {
		cred, err = app.deviceFlow.PollToken(ctx, authadapter.DevicePollRequest{
			DeviceAuthID: code.DeviceAuthID,
			PollInterval: code.PollInterval,
			Timeout:      code.ExpiresIn,
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("wait for device authorization: %w", err)
	}

	if err := app.credentials.Save(ctx, accountID, cred); err != nil {
		return fmt.Errorf("save credential for %s: %w", accountID, err)
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Authorized %s\n", accountID)
	return nil
}

func requireOAuthClient(app *app) error {
	if app.oauthClientID == "" {
		return errors.New("GMF_OAUTH_CLIENT_ID is not set; create an OAuth desktop client in Google Cloud and export GMF_OAUTH_CLIENT_ID and GMF_OAUTH_CLIENT_SECRET")
	}
	return nil
}
