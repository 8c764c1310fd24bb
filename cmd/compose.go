package cmd

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mailbox-cli/mailbox/internal/provider"
)

var composeCmd = &cobra.Command{
	Use:   "compose",
	Short: "Send a new message",
	Long: `Send a message through the active account, Gmail API for OAuth
sessions and SMTP otherwise. Without --body the text is read from
standard input.`,
	RunE: runCompose,
}

func init() {
	rootCmd.AddCommand(composeCmd)
	composeCmd.Flags().StringSlice("to", nil, "recipient address (repeatable)")
	composeCmd.Flags().StringSlice("cc", nil, "cc address (repeatable)")
	composeCmd.Flags().StringSlice("bcc", nil, "bcc address (repeatable)")
	composeCmd.Flags().String("subject", "", "message subject")
	composeCmd.Flags().String("body", "", "message body; read from stdin when empty")
	composeCmd.Flags().StringSlice("attach", nil, "file to attach (repeatable)")
	composeCmd.MarkFlagRequired("to")
	composeCmd.MarkFlagRequired("subject")
}

func runCompose(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	to, _ := cmd.Flags().GetStringSlice("to")
	cc, _ := cmd.Flags().GetStringSlice("cc")
	bcc, _ := cmd.Flags().GetStringSlice("bcc")
	subject, _ := cmd.Flags().GetString("subject")
	body, _ := cmd.Flags().GetString("body")
	attach, _ := cmd.Flags().GetStringSlice("attach")

	if err := provider.ValidateAddresses(append(append(append([]string{}, to...), cc...), bcc...)); err != nil {
		return err
	}
	if body == "" {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("reading body from stdin: %w", err)
		}
		body = string(b)
	}

	msg := provider.Outgoing{
		To:       to,
		Cc:       cc,
		Bcc:      bcc,
		Subject:  subject,
		BodyText: body,
	}
	for _, path := range attach {
		att, err := loadAttachment(path)
		if err != nil {
			return err
		}
		msg.Attachments = append(msg.Attachments, att)
	}

	a, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Email.Send(ctx, msg); err != nil {
		return err
	}
	fmt.Printf("Sent %q to %d recipient(s).\n", subject, len(msg.Recipients()))
	return nil
}

func loadAttachment(path string) (provider.OutgoingAttachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return provider.OutgoingAttachment{}, fmt.Errorf("reading attachment: %w", err)
	}
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	return provider.OutgoingAttachment{
		Filename: filepath.Base(path),
		MimeType: mimeType,
		Data:     data,
	}, nil
}
