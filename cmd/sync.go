package cmd

import (
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Refresh the local cache from the provider",
	RunE:  runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().Bool("emails", false, "sync emails only")
	syncCmd.Flags().Bool("calendar", false, "sync the calendar only")
	syncCmd.Flags().Bool("full", false, "re-fetch inbox bodies, not just headers")
	syncCmd.Flags().Bool("if-needed", false, "only sync what is older than the configured max age")
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	emailsOnly, _ := cmd.Flags().GetBool("emails")
	calOnly, _ := cmd.Flags().GetBool("calendar")
	full, _ := cmd.Flags().GetBool("full")
	ifNeeded, _ := cmd.Flags().GetBool("if-needed")

	a, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	switch {
	case full:
		emailRes, calRes, err := a.Sync.InitialSync(ctx)
		if err != nil {
			return err
		}
		printSyncResult(emailRes)
		printSyncResult(calRes)
	case ifNeeded:
		emailRes, calRes, err := a.Sync.SyncIfNeeded(ctx)
		if err != nil {
			return err
		}
		if emailRes == nil && calRes == nil {
			cmd.Println("Cache is fresh.")
			return nil
		}
		printSyncResult(emailRes)
		printSyncResult(calRes)
	case emailsOnly:
		res, err := a.Sync.SyncEmails(ctx)
		if err != nil {
			return err
		}
		printSyncResult(res)
	case calOnly:
		res, err := a.Sync.SyncCalendar(ctx)
		if err != nil {
			return err
		}
		printSyncResult(res)
	default:
		emailRes, calRes, err := a.Sync.SyncAll(ctx)
		if err != nil {
			return err
		}
		printSyncResult(emailRes)
		printSyncResult(calRes)
	}
	return nil
}
