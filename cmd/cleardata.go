package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var clearDataCmd = &cobra.Command{
	Use:   "clear-data",
	Short: "Delete all cached emails and events",
	Long: `Delete the local cache for the active account. Credentials are kept;
the next sync rebuilds the cache from the provider.`,
	RunE: runClearData,
}

func init() {
	rootCmd.AddCommand(clearDataCmd)
	clearDataCmd.Flags().Bool("yes", false, "skip the confirmation prompt")
}

func runClearData(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	yes, _ := cmd.Flags().GetBool("yes")

	a, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if !yes {
		fmt.Printf("Delete all cached data for %s? [y/N] ", a.Auth.CurrentEmail())
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			return err
		}
		if !strings.EqualFold(strings.TrimSpace(line), "y") {
			fmt.Println("Aborted.")
			return nil
		}
	}

	emails, events, err := a.Sync.ClearLocalData(ctx, "")
	if err != nil {
		return err
	}
	fmt.Printf("Deleted %d cached emails and %d cached events.\n", emails, events)
	return nil
}
