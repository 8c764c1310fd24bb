// Package sync pulls provider state into the local store. Syncs are
// idempotent: every run upserts by stable provider IDs, so a crashed
// or repeated sync converges to the same cache.
package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/atomic"

	"github.com/mailbox-cli/mailbox/internal/config"
	"github.com/mailbox-cli/mailbox/internal/log"
	"github.com/mailbox-cli/mailbox/internal/model"
	"github.com/mailbox-cli/mailbox/internal/store"
)

// ErrInProgress is returned when a sync is requested while another one
// is still running.
var ErrInProgress = errors.New("sync already in progress")

// EmailSource fetches messages from the live provider without touching
// the cache; the sync layer owns the cache writes so it can compute
// deltas first.
type EmailSource interface {
	FetchMessages(ctx context.Context, folder model.Folder, limit int, headersOnly, cache bool) ([]model.Email, error)
}

// CalendarSource fetches events from the live provider.
type CalendarSource interface {
	Available() bool
	FetchEvents(ctx context.Context, daysAhead, max int, cache bool) ([]model.CalendarEvent, error)
}

// Result describes one sync run.
type Result struct {
	Kind         string // "email" or "calendar"
	Success      bool
	TotalFetched int
	New          int
	Updated      int
	Errors       []string
	SyncTime     time.Time
	Duration     time.Duration
}

// Status is a snapshot of the cache for display.
type Status struct {
	EmailCount       int
	UnreadCount      int
	EventCount       int
	LastEmailSync    time.Time
	LastCalendarSync time.Time
	EmailStale       bool
	CalendarStale    bool
}

// Manager coordinates email and calendar syncs for the active account.
// At most one sync runs at a time.
type Manager struct {
	cfg    *config.Config
	store  *store.Store
	emails EmailSource
	cal    CalendarSource

	// user resolves the active account at call time; the account can
	// change between syncs without rebuilding the manager.
	user func() string

	inProgress atomic.Bool
}

// NewManager wires a sync manager over the store and live sources.
func NewManager(cfg *config.Config, st *store.Store, emails EmailSource, cal CalendarSource, user func() string) *Manager {
	return &Manager{cfg: cfg, store: st, emails: emails, cal: cal, user: user}
}

func (m *Manager) begin() error {
	if !m.inProgress.CompareAndSwap(false, true) {
		return ErrInProgress
	}
	return nil
}

func (m *Manager) end() {
	m.inProgress.Store(false)
}

// InProgress reports whether a sync is currently running.
func (m *Manager) InProgress() bool {
	return m.inProgress.Load()
}

// SyncEmails refreshes every folder, headers only. Bodies are filled
// in lazily when a message is opened.
func (m *Manager) SyncEmails(ctx context.Context) (*Result, error) {
	if err := m.begin(); err != nil {
		return nil, err
	}
	defer m.end()
	return m.syncEmails(ctx, true), nil
}

// SyncCalendar refreshes upcoming events and prunes old ones.
func (m *Manager) SyncCalendar(ctx context.Context) (*Result, error) {
	if err := m.begin(); err != nil {
		return nil, err
	}
	defer m.end()
	return m.syncCalendar(ctx), nil
}

// SyncAll runs an email sync followed by a calendar sync.
func (m *Manager) SyncAll(ctx context.Context) (*Result, *Result, error) {
	if err := m.begin(); err != nil {
		return nil, nil, err
	}
	defer m.end()
	return m.syncEmails(ctx, true), m.syncCalendar(ctx), nil
}

// InitialSync populates a fresh cache: inbox with full bodies, the
// remaining folders headers-only, plus the calendar.
func (m *Manager) InitialSync(ctx context.Context) (*Result, *Result, error) {
	if err := m.begin(); err != nil {
		return nil, nil, err
	}
	defer m.end()
	return m.syncEmails(ctx, false), m.syncCalendar(ctx), nil
}

// SyncIfNeeded syncs whatever has gone stale per the configured max
// ages. Both results are nil when everything is fresh.
func (m *Manager) SyncIfNeeded(ctx context.Context) (*Result, *Result, error) {
	emailStale, calStale, err := m.stale(ctx)
	if err != nil {
		return nil, nil, err
	}
	if !emailStale && !calStale {
		return nil, nil, nil
	}
	if err := m.begin(); err != nil {
		return nil, nil, err
	}
	defer m.end()

	var emailRes, calRes *Result
	if emailStale {
		emailRes = m.syncEmails(ctx, true)
	}
	if calStale {
		calRes = m.syncCalendar(ctx)
	}
	return emailRes, calRes, nil
}

// NeedsSync reports whether either cache is older than its configured
// max age.
func (m *Manager) NeedsSync(ctx context.Context) (bool, error) {
	emailStale, calStale, err := m.stale(ctx)
	return emailStale || calStale, err
}

// stale keys freshness to recorded sync completions, not to cached
// rows, so a successful run that fetched nothing still resets the
// clock.
func (m *Manager) stale(ctx context.Context) (emailStale, calStale bool, err error) {
	user := m.user()
	now := time.Now()

	lastEmail, err := m.store.LastSyncCompleted(ctx, user, store.SyncKindEmail)
	if err != nil {
		return false, false, err
	}
	emailStale = now.Sub(lastEmail) > time.Duration(m.cfg.Sync.EmailMaxAgeMinutes)*time.Minute

	if m.cal.Available() {
		lastCal, err := m.store.LastSyncCompleted(ctx, user, store.SyncKindCalendar)
		if err != nil {
			return false, false, err
		}
		calStale = now.Sub(lastCal) > time.Duration(m.cfg.Sync.CalendarMaxAgeMinutes)*time.Minute
	}
	return emailStale, calStale, nil
}

// syncEmails walks every folder; a failing folder is recorded and the
// rest still sync. With headersOnly false the inbox is fetched with
// full bodies, which only the initial sync wants.
func (m *Manager) syncEmails(ctx context.Context, headersOnly bool) *Result {
	start := time.Now()
	res := &Result{Kind: "email", SyncTime: start}

	for _, folder := range model.Folders {
		fetchHeaders := headersOnly || folder != model.FolderInbox
		if err := m.syncFolder(ctx, folder, fetchHeaders, res); err != nil {
			log.Printf("sync %s failed: %v", folder, err)
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", folder, err))
		}
	}

	res.Success = len(res.Errors) == 0
	if res.Success {
		if err := m.store.RecordSyncCompleted(ctx, m.user(), store.SyncKindEmail, time.Now()); err != nil {
			log.Printf("recording email sync: %v", err)
		}
	}
	res.Duration = time.Since(start)
	return res
}

func (m *Manager) syncFolder(ctx context.Context, folder model.Folder, headersOnly bool, res *Result) error {
	emails, err := m.emails.FetchMessages(ctx, folder, m.cfg.Sync.EmailLimit, headersOnly, false)
	if err != nil {
		return err
	}
	res.TotalFetched += len(emails)
	if len(emails) == 0 {
		return nil
	}

	user := m.user()
	now := time.Now()
	for i := range emails {
		emails[i].UserEmail = user
		emails[i].SyncedAt = now
		if emails[i].Folder == "" {
			emails[i].Folder = folder
		}
		exists, err := m.store.EmailExists(ctx, user, emails[i].MessageID)
		if err != nil {
			return err
		}
		if exists {
			res.Updated++
		} else {
			res.New++
		}
	}
	return m.store.UpsertEmails(ctx, emails)
}

func (m *Manager) syncCalendar(ctx context.Context) *Result {
	start := time.Now()
	res := &Result{Kind: "calendar", SyncTime: start}

	if !m.cal.Available() {
		res.Success = true
		return res
	}

	events, err := m.cal.FetchEvents(ctx, m.cfg.Sync.CalendarDaysAhead, 0, false)
	if err != nil {
		log.Printf("calendar sync failed: %v", err)
		res.Errors = append(res.Errors, err.Error())
		res.Duration = time.Since(start)
		return res
	}
	res.TotalFetched = len(events)

	user := m.user()
	now := time.Now()
	for i := range events {
		events[i].UserEmail = user
		events[i].SyncedAt = now
		exists, err := m.store.EventExists(ctx, user, events[i].EventID)
		if err != nil {
			res.Errors = append(res.Errors, err.Error())
			res.Duration = time.Since(start)
			return res
		}
		if exists {
			res.Updated++
		} else {
			res.New++
		}
	}
	if len(events) > 0 {
		if err := m.store.UpsertEvents(ctx, events); err != nil {
			res.Errors = append(res.Errors, err.Error())
			res.Duration = time.Since(start)
			return res
		}
	}

	if err := m.cleanupEvents(ctx); err != nil {
		log.Printf("event cleanup failed: %v", err)
	}

	if err := m.store.RecordSyncCompleted(ctx, user, store.SyncKindCalendar, time.Now()); err != nil {
		log.Printf("recording calendar sync: %v", err)
	}

	res.Success = true
	res.Duration = time.Since(start)
	return res
}

// cleanupEvents prunes events that ended before the retention window.
func (m *Manager) cleanupEvents(ctx context.Context) error {
	cutoff := time.Now().AddDate(0, 0, -m.cfg.Sync.EventRetentionDays)
	n, err := m.store.DeleteEventsBefore(ctx, m.user(), cutoff)
	if err != nil {
		return err
	}
	if n > 0 {
		log.Printf("pruned %d events older than %s", n, cutoff.Format("2006-01-02"))
	}
	return nil
}

// CurrentStatus summarizes cache freshness for the status command.
func (m *Manager) CurrentStatus(ctx context.Context) (*Status, error) {
	user := m.user()
	st := &Status{}
	var err error

	if st.EmailCount, err = m.store.EmailCount(ctx, user, model.FolderAll); err != nil {
		return nil, err
	}
	if st.UnreadCount, err = m.store.UnreadCount(ctx, user, model.FolderInbox); err != nil {
		return nil, err
	}
	if st.EventCount, err = m.store.EventCount(ctx, user); err != nil {
		return nil, err
	}
	if st.LastEmailSync, err = m.store.LastSyncCompleted(ctx, user, store.SyncKindEmail); err != nil {
		return nil, err
	}
	if st.LastCalendarSync, err = m.store.LastSyncCompleted(ctx, user, store.SyncKindCalendar); err != nil {
		return nil, err
	}
	st.EmailStale, st.CalendarStale, err = m.stale(ctx)
	if err != nil {
		return nil, err
	}
	return st, nil
}

// ClearLocalData deletes every cached message and event for the given
// account. Credentials are untouched.
func (m *Manager) ClearLocalData(ctx context.Context, user string) (emails, events int64, err error) {
	if user == "" {
		user = m.user()
	}
	if emails, err = m.store.DeleteEmailsByUser(ctx, user); err != nil {
		return 0, 0, err
	}
	if events, err = m.store.DeleteEventsByUser(ctx, user); err != nil {
		return emails, 0, err
	}
	return emails, events, nil
}
