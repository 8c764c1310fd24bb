package cmd

import (
	"github.com/spf13/cobra"

	"github.com/mailbox-cli/mailbox/internal/model"
)

var inboxCmd = &cobra.Command{
	Use:   "inbox",
	Short: "List messages in a folder",
	RunE:  runInbox,
}

func init() {
	rootCmd.AddCommand(inboxCmd)
	inboxCmd.Flags().String("folder", "inbox", "folder: inbox, sent, drafts, spam, trash, or all")
	inboxCmd.Flags().Int("limit", 0, "max messages (default from config)")
	inboxCmd.Flags().Int("offset", 0, "skip the first N messages")
	inboxCmd.Flags().Bool("unread", false, "unread messages only")
	inboxCmd.Flags().Bool("no-sync", false, "read the cache without refreshing")
}

func runInbox(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	folderFlag, _ := cmd.Flags().GetString("folder")
	limit, _ := cmd.Flags().GetInt("limit")
	offset, _ := cmd.Flags().GetInt("offset")
	unread, _ := cmd.Flags().GetBool("unread")
	noSync, _ := cmd.Flags().GetBool("no-sync")

	folder, err := model.ParseFolder(folderFlag)
	if err != nil {
		return err
	}

	a, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if limit <= 0 {
		limit = a.Config.Sync.EmailLimit
	}
	if !noSync {
		if _, _, err := a.Sync.SyncIfNeeded(ctx); err != nil {
			return err
		}
	}

	emails, err := a.Email.CachedEmails(ctx, folder, limit, offset, unread)
	if err != nil {
		return err
	}
	return printEmails(emails)
}
