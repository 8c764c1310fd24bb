package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/mailbox-cli/mailbox/internal/model"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in to an account",
	Long: `Sign in with Google OAuth (Gmail + Calendar), a Gmail app password,
or a Zoho Mail password. Secrets are encrypted before they are stored.`,
	RunE: runLogin,
}

func init() {
	rootCmd.AddCommand(loginCmd)
	loginCmd.Flags().String("method", "oauth", "auth method: oauth, app_password, or zoho")
	loginCmd.Flags().String("email", "", "account address (required for password methods)")
	loginCmd.Flags().Bool("stored", false, "resume from a stored credential instead of signing in")
	loginCmd.Flags().Bool("no-sync", false, "skip the initial sync after login")
}

func runLogin(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	methodFlag, _ := cmd.Flags().GetString("method")
	emailFlag, _ := cmd.Flags().GetString("email")
	stored, _ := cmd.Flags().GetBool("stored")
	noSync, _ := cmd.Flags().GetBool("no-sync")

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if stored {
		if err := a.Auth.LoginStored(ctx, emailFlag); err != nil {
			return err
		}
		fmt.Printf("Logged in as %s (%s)\n", a.Auth.CurrentEmail(), a.Auth.ActiveMethod())
		return nil
	}

	method, err := model.ParseAuthMethod(methodFlag)
	if err != nil {
		return err
	}

	var email string
	switch method {
	case model.AuthOAuth:
		email, err = a.Auth.LoginOAuth(ctx)
	case model.AuthAppPassword, model.AuthZoho:
		if emailFlag == "" {
			return fmt.Errorf("--email is required for %s login", method)
		}
		var password string
		password, err = promptPassword(fmt.Sprintf("Password for %s", emailFlag))
		if err != nil {
			return err
		}
		if method == model.AuthAppPassword {
			err = a.Auth.LoginAppPassword(ctx, emailFlag, password)
		} else {
			err = a.Auth.LoginZoho(ctx, emailFlag, password)
		}
		email = emailFlag
	}
	if err != nil {
		return err
	}
	fmt.Printf("Logged in as %s (%s)\n", email, method)

	if noSync {
		return nil
	}
	fmt.Println("Running initial sync...")
	emailRes, calRes, err := a.Sync.InitialSync(ctx)
	if err != nil {
		return err
	}
	printSyncResult(emailRes)
	printSyncResult(calRes)
	return nil
}

func promptPassword(label string) (string, error) {
	fmt.Fprintf(os.Stderr, "%s: ", label)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	if len(b) == 0 {
		return "", fmt.Errorf("empty password")
	}
	return string(b), nil
}
