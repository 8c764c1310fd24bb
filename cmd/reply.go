package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var replyCmd = &cobra.Command{
	Use:   "reply <message-id>",
	Short: "Reply to a message",
	Long: `Reply to a message, quoting the original and keeping the thread
intact. Without --body the text is read from standard input.`,
	Args: cobra.ExactArgs(1),
	RunE: runReply,
}

func init() {
	rootCmd.AddCommand(replyCmd)
	replyCmd.Flags().String("body", "", "reply body; read from stdin when empty")
	replyCmd.Flags().Bool("all", false, "reply to every recipient of the original")
}

func runReply(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	body, _ := cmd.Flags().GetString("body")
	all, _ := cmd.Flags().GetBool("all")

	if body == "" {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("reading body from stdin: %w", err)
		}
		body = string(b)
	}

	a, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Email.Reply(ctx, args[0], body, all); err != nil {
		return err
	}
	fmt.Println("Reply sent.")
	return nil
}
