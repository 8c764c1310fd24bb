package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mailbox-cli/mailbox/internal/app"
	"github.com/mailbox-cli/mailbox/internal/crypto"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out of the current account",
	Long: `Drop the live session. With --clear the stored credential and the
cached emails and events are deleted too, which is required before
switching an account to a different auth method.`,
	RunE: runLogout,
}

func init() {
	rootCmd.AddCommand(logoutCmd)
	logoutCmd.Flags().Bool("clear", false, "also delete the stored credential and cached data")
}

func runLogout(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	clearAll, _ := cmd.Flags().GetBool("clear")

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Auth.LoginStored(ctx, ""); err != nil {
		if !clearAll {
			return err
		}
		// The credential may no longer authenticate; --clear must
		// still be able to remove it.
		fmt.Fprintf(os.Stderr, "warning: could not resume session: %v\n", err)
		cred, cerr := a.Store.MostRecentCredential(ctx)
		if cerr != nil {
			return fmt.Errorf("no stored credentials to clear")
		}
		if err := a.Store.DeleteCredential(ctx, cred.UserEmail); err != nil {
			return err
		}
		return clearCached(ctx, a, cred.UserEmail)
	}

	if !clearAll {
		a.Auth.Logout()
		fmt.Println("Logged out. Stored credentials kept; use --clear to remove them.")
		return nil
	}

	email, err := a.Auth.LogoutAndClear(ctx)
	if err != nil {
		return err
	}
	return clearCached(ctx, a, email)
}

func clearCached(ctx context.Context, a *app.App, email string) error {
	emails, events, err := a.Sync.ClearLocalData(ctx, email)
	if err != nil {
		return err
	}
	fmt.Printf("Removed credentials for %s and %d cached emails, %d cached events.\n",
		email, emails, events)

	// Once the last account is gone a keyring-held key protects
	// nothing; drop it so a future login starts clean. Keys supplied
	// via config stay the user's business.
	remaining, err := a.Store.ListCredentials(ctx)
	if err != nil {
		return err
	}
	if len(remaining) == 0 && a.Config.Security.EncryptionKey == "" {
		if err := crypto.DeleteStoredKey(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		} else {
			fmt.Println("Removed the encryption key from the OS keyring.")
		}
	}
	return nil
}
