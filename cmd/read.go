package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var readCmd = &cobra.Command{
	Use:   "read <message-id>",
	Short: "Show one message",
	Long: `Show a message's headers and body, fetching the body from the
provider if only headers are cached. The message is marked read unless
--keep-unread is set.`,
	Args: cobra.ExactArgs(1),
	RunE: runRead,
}

func init() {
	rootCmd.AddCommand(readCmd)
	readCmd.Flags().Bool("keep-unread", false, "do not mark the message read")
	readCmd.Flags().Int("save", -1, "download attachment N into the current directory")
}

func runRead(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	messageID := args[0]
	keepUnread, _ := cmd.Flags().GetBool("keep-unread")
	save, _ := cmd.Flags().GetInt("save")

	a, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	email, err := a.Email.GetEmail(ctx, messageID)
	if err != nil {
		return err
	}

	if save >= 0 {
		att, err := a.Email.Attachment(ctx, messageID, save)
		if err != nil {
			return err
		}
		name := filepath.Base(att.Filename)
		if name == "" || name == "." {
			name = fmt.Sprintf("attachment-%d", save)
		}
		if err := os.WriteFile(name, att.Data, 0o644); err != nil {
			return err
		}
		fmt.Printf("Saved %s (%d bytes)\n", name, len(att.Data))
		return nil
	}

	fmt.Printf("From:    %s\n", email.From())
	fmt.Printf("To:      %s\n", strings.Join(email.To, ", "))
	if len(email.Cc) > 0 {
		fmt.Printf("Cc:      %s\n", strings.Join(email.Cc, ", "))
	}
	fmt.Printf("Date:    %s\n", email.Date.Local().Format("Mon, 2 Jan 2006 15:04"))
	fmt.Printf("Subject: %s\n\n", email.Subject)

	switch {
	case email.BodyText != "":
		fmt.Println(email.BodyText)
	case email.BodyHTML != "":
		fmt.Println("(HTML-only message)")
		fmt.Println(email.BodyHTML)
	default:
		fmt.Println("(no body)")
	}

	if len(email.Attachments) > 0 {
		fmt.Println()
		for i, att := range email.Attachments {
			fmt.Printf("Attachment %d: %s (%s, %d bytes)\n", i, att.Filename, att.MimeType, att.Size)
		}
		fmt.Println("Use --save N to download one.")
	}

	if !keepUnread && !email.Read {
		if err := a.Email.MarkRead(ctx, messageID); err != nil {
			fmt.Fprintf(os.Stderr, "warning: marking read: %v\n", err)
		}
	}
	return nil
}
