package cmd

import (
	"strings"

	"github.com/spf13/cobra"
)

var searchCmd = &cobra.Command{
	Use:   "search <query>...",
	Short: "Search messages",
	Long: `Search cached messages by subject, sender, or body. When the cache
has no match the search runs against the provider.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().Int("limit", 20, "max results")
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	limit, _ := cmd.Flags().GetInt("limit")
	query := strings.Join(args, " ")

	a, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	emails, err := a.Email.Search(ctx, query, limit)
	if err != nil {
		return err
	}
	return printEmails(emails)
}
