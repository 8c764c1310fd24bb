package gmail

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/api/calendar/v3"

	"github.com/mailbox-cli/mailbox/internal/model"
	"github.com/mailbox-cli/mailbox/internal/provider"
)

// CalendarClient wraps the Google Calendar API for one account.
type CalendarClient struct {
	srv  *calendar.Service
	user string
}

var _ provider.Calendar = (*CalendarClient)(nil)

// NewCalendarClient creates a Calendar adapter.
func NewCalendarClient(srv *calendar.Service, user string) *CalendarClient {
	return &CalendarClient{srv: srv, user: user}
}

// FetchEvents returns events from the primary calendar overlapping
// [from, to), recurrences expanded, ordered by start time.
func (c *CalendarClient) FetchEvents(ctx context.Context, from, to time.Time, max int) ([]model.CalendarEvent, error) {
	if max <= 0 {
		max = 250
	}
	res, err := c.srv.Events.List("primary").
		TimeMin(from.Format(time.RFC3339)).
		TimeMax(to.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		MaxResults(int64(max)).
		Context(ctx).
		Do()
	if err != nil {
		return nil, wrapAPIError("listing events", err)
	}
	return c.convertEvents(res.Items), nil
}

// SearchEvents runs a free-text search over the primary calendar.
func (c *CalendarClient) SearchEvents(ctx context.Context, query string, max int) ([]model.CalendarEvent, error) {
	if max <= 0 {
		max = 250
	}
	res, err := c.srv.Events.List("primary").
		Q(query).
		SingleEvents(true).
		MaxResults(int64(max)).
		Context(ctx).
		Do()
	if err != nil {
		return nil, wrapAPIError("searching events", err)
	}
	return c.convertEvents(res.Items), nil
}

// ListCalendars lists the calendars visible to the account.
func (c *CalendarClient) ListCalendars(ctx context.Context) ([]provider.CalendarInfo, error) {
	res, err := c.srv.CalendarList.List().Context(ctx).Do()
	if err != nil {
		return nil, wrapAPIError("listing calendars", err)
	}
	out := make([]provider.CalendarInfo, 0, len(res.Items))
	for _, item := range res.Items {
		out = append(out, provider.CalendarInfo{
			ID:      item.Id,
			Summary: item.Summary,
			Primary: item.Primary,
		})
	}
	return out, nil
}

func (c *CalendarClient) convertEvents(items []*calendar.Event) []model.CalendarEvent {
	events := make([]model.CalendarEvent, 0, len(items))
	for _, item := range items {
		ev, err := convertEvent(item, c.user)
		if err != nil {
			// Skip events with unparseable times rather than failing
			// the whole sync.
			continue
		}
		events = append(events, *ev)
	}
	return events
}

func convertEvent(item *calendar.Event, user string) (*model.CalendarEvent, error) {
	start, allDay, err := parseEventTime(item.Start)
	if err != nil {
		return nil, fmt.Errorf("event %s start: %w", item.Id, err)
	}
	end, _, err := parseEventTime(item.End)
	if err != nil {
		return nil, fmt.Errorf("event %s end: %w", item.Id, err)
	}

	ev := &model.CalendarEvent{
		UserEmail:   user,
		EventID:     item.Id,
		CalendarID:  "primary",
		Title:       item.Summary,
		Description: item.Description,
		Location:    item.Location,
		Start:       start,
		End:         end,
		AllDay:      allDay,
		MeetingLink: meetingLink(item),
		Status:      item.Status,
	}
	for _, a := range item.Attendees {
		if a.Email != "" {
			ev.Attendees = append(ev.Attendees, a.Email)
		}
	}
	return ev, nil
}

// parseEventTime handles both timed events (DateTime) and all-day
// events (Date).
func parseEventTime(t *calendar.EventDateTime) (time.Time, bool, error) {
	if t == nil {
		return time.Time{}, false, fmt.Errorf("missing time")
	}
	if t.DateTime != "" {
		parsed, err := time.Parse(time.RFC3339, t.DateTime)
		return parsed, false, err
	}
	parsed, err := time.Parse("2006-01-02", t.Date)
	return parsed, true, err
}

// meetingLink extracts a video-call URL, preferring the conference
// data entry points over the legacy hangoutLink field.
func meetingLink(item *calendar.Event) string {
	if item.ConferenceData != nil {
		for _, ep := range item.ConferenceData.EntryPoints {
			if ep.EntryPointType == "video" && ep.Uri != "" {
				return ep.Uri
			}
		}
	}
	return item.HangoutLink
}
