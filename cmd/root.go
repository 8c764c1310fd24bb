package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/mailbox-cli/mailbox/internal/log"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:     "mailbox",
	Short:   "A terminal email and calendar client",
	Long:    `mailbox is a terminal client for Gmail and Zoho Mail with an offline cache and Google Calendar integration.`,
	Version: version,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	RunE: runStatus,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		debug, _ := cmd.PersistentFlags().GetBool("debug")
		return log.Setup(debug)
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return log.Close()
	},
}

func Execute() int {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, os.Kill)
	defer cancel()

	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
