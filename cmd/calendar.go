package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var calendarCmd = &cobra.Command{
	Use:   "calendar",
	Short: "List upcoming calendar events",
	Long: `List events from the local cache, refreshing it first when stale.
Calendar access requires an OAuth session; password sessions can only
read what an earlier OAuth sync cached.`,
	RunE: runCalendar,
}

func init() {
	rootCmd.AddCommand(calendarCmd)
	calendarCmd.Flags().Bool("today", false, "today's events only")
	calendarCmd.Flags().Bool("month", false, "the next 30 days")
	calendarCmd.Flags().Int("days", 7, "days ahead to list")
	calendarCmd.Flags().String("search", "", "free-text event search")
	calendarCmd.Flags().Bool("list", false, "list the account's calendars")
	calendarCmd.Flags().Bool("no-sync", false, "read the cache without refreshing")
}

func runCalendar(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	today, _ := cmd.Flags().GetBool("today")
	month, _ := cmd.Flags().GetBool("month")
	days, _ := cmd.Flags().GetInt("days")
	if month {
		days = 30
	}
	search, _ := cmd.Flags().GetString("search")
	list, _ := cmd.Flags().GetBool("list")
	noSync, _ := cmd.Flags().GetBool("no-sync")

	a, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if list {
		cals, err := a.Calendar.ListCalendars(ctx)
		if err != nil {
			return err
		}
		for _, c := range cals {
			marker := " "
			if c.Primary {
				marker = "*"
			}
			fmt.Printf("%s %s\t%s\n", marker, c.ID, c.Summary)
		}
		return nil
	}

	if !noSync && a.Calendar.Available() {
		if _, _, err := a.Sync.SyncIfNeeded(ctx); err != nil {
			return err
		}
	}

	switch {
	case search != "":
		events, err := a.Calendar.SearchEvents(ctx, strings.TrimSpace(search), 50)
		if err != nil {
			return err
		}
		return printEvents(events)
	case today:
		events, err := a.Calendar.TodayEvents(ctx)
		if err != nil {
			return err
		}
		return printEvents(events)
	default:
		now := time.Now()
		events, err := a.Calendar.CachedEvents(ctx, now, now.AddDate(0, 0, days))
		if err != nil {
			return err
		}
		return printEvents(events)
	}
}
