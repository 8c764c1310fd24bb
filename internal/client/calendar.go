package client

import (
	"context"
	"fmt"
	"time"

	"github.com/mailbox-cli/mailbox/internal/log"
	"github.com/mailbox-cli/mailbox/internal/model"
	"github.com/mailbox-cli/mailbox/internal/provider"
	gmailprov "github.com/mailbox-cli/mailbox/internal/provider/gmail"
	"github.com/mailbox-cli/mailbox/internal/store"
)

// CalendarClient serves calendar reads. Only OAuth sessions have a
// calendar; password sessions fall back to whatever the cache holds.
type CalendarClient struct {
	session Session
	store   *store.Store

	cal provider.Calendar

	buildCalendar func(ctx context.Context) (provider.Calendar, error)
}

// NewCalendarClient returns a calendar client bound to sess.
func NewCalendarClient(sess Session, st *store.Store) *CalendarClient {
	c := &CalendarClient{session: sess, store: st}
	c.buildCalendar = c.defaultBuildCalendar
	return c
}

func (c *CalendarClient) defaultBuildCalendar(ctx context.Context) (provider.Calendar, error) {
	svc, err := c.session.CalendarService(ctx)
	if err != nil {
		return nil, err
	}
	if svc == nil {
		return nil, nil
	}
	return gmailprov.NewCalendarClient(svc, c.session.CurrentEmail()), nil
}

// Available reports whether the active session can reach a live
// calendar.
func (c *CalendarClient) Available() bool {
	return c.session.ActiveMethod() == model.AuthOAuth
}

func (c *CalendarClient) calendarFor(ctx context.Context) (provider.Calendar, error) {
	if c.cal != nil {
		return c.cal, nil
	}
	cal, err := c.buildCalendar(ctx)
	if err != nil || cal == nil {
		return nil, err
	}
	c.cal = cal
	return cal, nil
}

func (c *CalendarClient) resetProvider() {
	c.cal = nil
}

// withRetry mirrors the mail client's retry loop for calendar calls.
func (c *CalendarClient) withRetry(ctx context.Context, op string, fn func(cal provider.Calendar) error) error {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		cal, err := c.calendarFor(ctx)
		if err == nil {
			if cal == nil {
				return fmt.Errorf("%s: active session has no calendar access", op)
			}
			err = fn(cal)
		}
		if err == nil {
			return nil
		}
		if !provider.IsRetryable(err) {
			return err
		}
		lastErr = err
		log.Printf("%s attempt %d/%d failed: %v", op, attempt+1, maxAttempts, err)
		c.resetProvider()
		if attempt < maxAttempts-1 {
			select {
			case <-time.After(time.Second << attempt):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", op, maxAttempts, lastErr)
}

// FetchEvents pulls upcoming events from now through daysAhead days.
// With cache set, results are upserted so later reads work offline.
func (c *CalendarClient) FetchEvents(ctx context.Context, daysAhead, max int, cache bool) ([]model.CalendarEvent, error) {
	from := time.Now()
	to := from.AddDate(0, 0, daysAhead)

	var events []model.CalendarEvent
	err := c.withRetry(ctx, "fetch events", func(cal provider.Calendar) error {
		var err error
		events, err = cal.FetchEvents(ctx, from, to, max)
		return err
	})
	if err != nil {
		return nil, err
	}
	if cache && len(events) > 0 {
		if err := c.cacheEvents(ctx, events); err != nil {
			return nil, fmt.Errorf("caching fetched events: %w", err)
		}
	}
	return events, nil
}

// CachedEvents lists events from the local store in [from, to).
func (c *CalendarClient) CachedEvents(ctx context.Context, from, to time.Time) ([]model.CalendarEvent, error) {
	return c.store.EventsInRange(ctx, c.session.CurrentEmail(), from, to)
}

// TodayEvents lists cached events overlapping the current local day.
func (c *CalendarClient) TodayEvents(ctx context.Context) ([]model.CalendarEvent, error) {
	return c.store.TodayEvents(ctx, c.session.CurrentEmail(), time.Now())
}

// SearchEvents looks for events matching query, cache first with a
// live fallback.
func (c *CalendarClient) SearchEvents(ctx context.Context, query string, limit int) ([]model.CalendarEvent, error) {
	hits, err := c.store.SearchEvents(ctx, c.session.CurrentEmail(), query, limit)
	if err != nil {
		return nil, err
	}
	if len(hits) > 0 || !c.Available() {
		return hits, nil
	}

	err = c.withRetry(ctx, "search events", func(cal provider.Calendar) error {
		var err error
		hits, err = cal.SearchEvents(ctx, query, limit)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(hits) > 0 {
		if err := c.cacheEvents(ctx, hits); err != nil {
			log.Printf("caching event search results: %v", err)
		}
	}
	return hits, nil
}

// ListCalendars enumerates the calendars visible to the session.
func (c *CalendarClient) ListCalendars(ctx context.Context) ([]provider.CalendarInfo, error) {
	var cals []provider.CalendarInfo
	err := c.withRetry(ctx, "list calendars", func(cal provider.Calendar) error {
		var err error
		cals, err = cal.ListCalendars(ctx)
		return err
	})
	return cals, err
}

func (c *CalendarClient) cacheEvents(ctx context.Context, events []model.CalendarEvent) error {
	now := time.Now()
	user := c.session.CurrentEmail()
	for i := range events {
		events[i].UserEmail = user
		events[i].SyncedAt = now
	}
	return c.store.UpsertEvents(ctx, events)
}
