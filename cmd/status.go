package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mailbox-cli/mailbox/internal/provider"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show account and cache status",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().Bool("check", false, "verify the provider connection is live")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := openSession(ctx)
	if err != nil {
		var credErr *provider.CredentialError
		if errors.As(err, &credErr) {
			fmt.Println("Not signed in. Run 'mailbox login' to get started.")
			return nil
		}
		return err
	}
	defer a.Close()

	fmt.Printf("Account:  %s (%s)\n", a.Auth.CurrentEmail(), a.Auth.ActiveMethod())

	if cred, err := a.Store.CredentialByEmail(ctx, a.Auth.CurrentEmail()); err == nil && cred.TokenExpiry != nil {
		if cred.TokenExpired(time.Now()) {
			fmt.Println("Token:    expired, refreshes on next use")
		} else {
			fmt.Printf("Token:    valid until %s\n", cred.TokenExpiry.Local().Format(time.RFC1123))
		}
	}

	if check, _ := cmd.Flags().GetBool("check"); check {
		if a.Auth.VerifyConnection(ctx) {
			fmt.Println("Connection: ok")
		} else {
			fmt.Println("Connection: unreachable")
		}
	}

	st, err := a.Sync.CurrentStatus(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Emails:   %d cached, %d unread in inbox\n", st.EmailCount, st.UnreadCount)
	fmt.Printf("Events:   %d cached\n", st.EventCount)
	fmt.Printf("Email sync:    %s\n", describeSync(st.LastEmailSync, st.EmailStale))
	fmt.Printf("Calendar sync: %s\n", describeSync(st.LastCalendarSync, st.CalendarStale))
	return nil
}

func describeSync(last time.Time, stale bool) string {
	if last.IsZero() {
		return "never"
	}
	age := time.Since(last).Round(time.Second)
	if stale {
		return fmt.Sprintf("%s ago (stale)", age)
	}
	return fmt.Sprintf("%s ago", age)
}
