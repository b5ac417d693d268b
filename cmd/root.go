package cmd

import "github.com/spf13/cobra"

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "gmf",
		Short:         "Gmail Fleet (gmf): drive Gmail across many accounts",
		Long:          "gmf (Gmail Fleet) runs bulk actions across many Gmail accounts: it launches an isolated Chrome per account, handles the OAuth consent flow, and executes batch actions (label, open, click, contacts) through the Gmail API with bounded concurrency.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	app, err := wireApp()
	if err != nil {
		rootCmd.RunE = func(_ *cobra.Command, _ []string) error {
			return err
		}
		return rootCmd
	}

	rootCmd.AddCommand(
		newVersionCmd(),
		newAccountCmd(app),
		newBatchCmd(app),
		newActionsCmd(app),
		newLoginCmd(app),
		newRunCmd(app),
	)

	return rootCmd
}
