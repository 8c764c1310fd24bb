package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mailbox-cli/mailbox/internal/model"
)

type eventRow struct {
	ID          int64     `db:"id"`
	UserEmail   string    `db:"user_email"`
	EventID     string    `db:"event_id"`
	CalendarID  string    `db:"calendar_id"`
	Title       string    `db:"title"`
	Description string    `db:"description"`
	Location    string    `db:"location"`
	StartTime   time.Time `db:"start_time"`
	EndTime     time.Time `db:"end_time"`
	AllDay      bool      `db:"all_day"`
	Attendees   string    `db:"attendees"`
	MeetingLink string    `db:"meeting_link"`
	Status      string    `db:"status"`
	SyncedAt    time.Time `db:"synced_at"`
}

func eventToRow(ev *model.CalendarEvent) (*eventRow, error) {
	attendees, err := marshalList(ev.Attendees)
	if err != nil {
		return nil, err
	}
	calendarID := ev.CalendarID
	if calendarID == "" {
		calendarID = "primary"
	}
	status := ev.Status
	if status == "" {
		status = model.EventConfirmed
	}
	return &eventRow{
		UserEmail:   ev.UserEmail,
		EventID:     ev.EventID,
		CalendarID:  calendarID,
		Title:       ev.Title,
		Description: ev.Description,
		Location:    ev.Location,
		StartTime:   ev.Start.UTC(),
		EndTime:     ev.End.UTC(),
		AllDay:      ev.AllDay,
		Attendees:   attendees,
		MeetingLink: ev.MeetingLink,
		Status:      status,
		SyncedAt:    ev.SyncedAt.UTC(),
	}, nil
}

func (r *eventRow) toModel() (*model.CalendarEvent, error) {
	ev := &model.CalendarEvent{
		ID:          r.ID,
		UserEmail:   r.UserEmail,
		EventID:     r.EventID,
		CalendarID:  r.CalendarID,
		Title:       r.Title,
		Description: r.Description,
		Location:    r.Location,
		Start:       r.StartTime,
		End:         r.EndTime,
		AllDay:      r.AllDay,
		MeetingLink: r.MeetingLink,
		Status:      r.Status,
		SyncedAt:    r.SyncedAt,
	}
	if err := json.Unmarshal([]byte(r.Attendees), &ev.Attendees); err != nil {
		return nil, fmt.Errorf("decoding attendees for %s: %w", r.EventID, err)
	}
	return ev, nil
}

// UpsertEvents bulk-inserts calendar sync results, replacing every
// mutable column on conflict; the provider copy of an event always
// wins.
func (s *Store) UpsertEvents(ctx context.Context, events []model.CalendarEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning event upsert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareNamedContext(ctx, `
		INSERT INTO calendar_events (
			user_email, event_id, calendar_id, title, description, location,
			start_time, end_time, all_day, attendees, meeting_link, status, synced_at
		) VALUES (
			:user_email, :event_id, :calendar_id, :title, :description, :location,
			:start_time, :end_time, :all_day, :attendees, :meeting_link, :status, :synced_at
		)
		ON CONFLICT (user_email, event_id) DO UPDATE SET
			calendar_id  = excluded.calendar_id,
			title        = excluded.title,
			description  = excluded.description,
			location     = excluded.location,
			start_time   = excluded.start_time,
			end_time     = excluded.end_time,
			all_day      = excluded.all_day,
			attendees    = excluded.attendees,
			meeting_link = excluded.meeting_link,
			status       = excluded.status,
			synced_at    = excluded.synced_at`)
	if err != nil {
		return fmt.Errorf("preparing event upsert: %w", err)
	}
	defer stmt.Close()

	for i := range events {
		row, err := eventToRow(&events[i])
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, row); err != nil {
			return fmt.Errorf("upserting event %s: %w", events[i].EventID, err)
		}
	}

	return tx.Commit()
}

// EventExists reports whether an event is already cached.
func (s *Store) EventExists(ctx context.Context, userEmail, eventID string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		"SELECT COUNT(1) FROM calendar_events WHERE user_email = ? AND event_id = ?",
		userEmail, eventID)
	if err != nil {
		return false, fmt.Errorf("checking event %s: %w", eventID, err)
	}
	return n > 0, nil
}

// EventsInRange lists cached events overlapping [from, to), cancelled
// events excluded, ordered by start time.
func (s *Store) EventsInRange(ctx context.Context, userEmail string, from, to time.Time) ([]model.CalendarEvent, error) {
	var rows []eventRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM calendar_events
		WHERE user_email = ? AND status != ? AND end_time > ? AND start_time < ?
		ORDER BY start_time`,
		userEmail, model.EventCancelled, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	return eventRowsToModels(rows)
}

// TodayEvents lists the current day's events in local time.
func (s *Store) TodayEvents(ctx context.Context, userEmail string, now time.Time) ([]model.CalendarEvent, error) {
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return s.EventsInRange(ctx, userEmail, start, start.AddDate(0, 0, 1))
}

// SearchEvents matches the query against title, description, and
// location of cached events.
func (s *Store) SearchEvents(ctx context.Context, userEmail, query string, limit int) ([]model.CalendarEvent, error) {
	pattern := likePattern(query)
	var rows []eventRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM calendar_events
		WHERE user_email = ? AND status != ?
		  AND (title LIKE ? ESCAPE '\' OR description LIKE ? ESCAPE '\' OR location LIKE ? ESCAPE '\')
		ORDER BY start_time LIMIT ?`,
		userEmail, model.EventCancelled, pattern, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("searching events: %w", err)
	}
	return eventRowsToModels(rows)
}

// EventCount counts cached non-cancelled events for an account.
func (s *Store) EventCount(ctx context.Context, userEmail string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		"SELECT COUNT(1) FROM calendar_events WHERE user_email = ? AND status != ?",
		userEmail, model.EventCancelled)
	if err != nil {
		return 0, fmt.Errorf("counting events: %w", err)
	}
	return n, nil
}

// DeleteEventsByUser drops every cached event for an account and
// returns the number removed.
func (s *Store) DeleteEventsByUser(ctx context.Context, userEmail string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM calendar_events WHERE user_email = ?", userEmail)
	if err != nil {
		return 0, fmt.Errorf("deleting events for %s: %w", userEmail, err)
	}
	return res.RowsAffected()
}

// DeleteEventsBefore drops events that ended before the cutoff,
// keeping the cache from growing without bound.
func (s *Store) DeleteEventsBefore(ctx context.Context, userEmail string, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM calendar_events WHERE user_email = ? AND end_time < ?",
		userEmail, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("pruning events for %s: %w", userEmail, err)
	}
	return res.RowsAffected()
}

func eventRowsToModels(rows []eventRow) ([]model.CalendarEvent, error) {
	events := make([]model.CalendarEvent, 0, len(rows))
	for i := range rows {
		ev, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		events = append(events, *ev)
	}
	return events, nil
}
