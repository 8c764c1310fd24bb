package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/mailbox-cli/mailbox/internal/app"
	"github.com/mailbox-cli/mailbox/internal/model"
	"github.com/mailbox-cli/mailbox/internal/sync"
)

// openApp builds the process-wide app and surfaces a freshly generated
// encryption key once.
func openApp() (*app.App, error) {
	a, err := app.New()
	if err != nil {
		return nil, err
	}
	if a.GeneratedKey {
		fmt.Fprintln(os.Stderr, "Generated a new encryption key and saved it to the system keyring.")
		fmt.Fprintln(os.Stderr, "Set security.encryption_key in the config to use a fixed key instead.")
	}
	return a, nil
}

// openSession builds the app and resumes the most recent stored
// session. Most commands start here.
func openSession(ctx context.Context) (*app.App, error) {
	a, err := openApp()
	if err != nil {
		return nil, err
	}
	if err := a.Auth.LoginStored(ctx, ""); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func newTabWriter() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
}

func printEmails(emails []model.Email) error {
	if len(emails) == 0 {
		fmt.Println("No messages.")
		return nil
	}
	w := newTabWriter()
	fmt.Fprintln(w, "\tDATE\tFROM\tSUBJECT\tID")
	for _, e := range emails {
		marker := " "
		if !e.Read {
			marker = "*"
		}
		from := e.FromName
		if from == "" {
			from = e.FromAddress
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			marker,
			e.Date.Local().Format("Jan _2 15:04"),
			truncate(from, 28),
			truncate(e.Subject, 60),
			e.MessageID)
	}
	return w.Flush()
}

func printEvents(events []model.CalendarEvent) error {
	if len(events) == 0 {
		fmt.Println("No events.")
		return nil
	}
	w := newTabWriter()
	fmt.Fprintln(w, "WHEN\tTITLE\tWHERE")
	for _, ev := range events {
		when := ev.Start.Local().Format("Mon Jan _2 15:04")
		if ev.AllDay {
			when = ev.Start.Local().Format("Mon Jan _2") + " (all day)"
		}
		where := ev.Location
		if ev.MeetingLink != "" {
			where = ev.MeetingLink
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", when, truncate(ev.Title, 48), where)
	}
	return w.Flush()
}

func printSyncResult(res *sync.Result) {
	if res == nil {
		return
	}
	state := "ok"
	if !res.Success {
		state = "failed"
	}
	fmt.Printf("%s sync %s: %d fetched, %d new, %d updated (%s)\n",
		res.Kind, state, res.TotalFetched, res.New, res.Updated,
		res.Duration.Round(time.Millisecond))
	for _, e := range res.Errors {
		fmt.Printf("  error: %s\n", e)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
