package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mailbox-cli/mailbox/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})
	return s
}

func testEmail(user, messageID string, opts ...func(*model.Email)) model.Email {
	e := model.Email{
		UserEmail:   user,
		MessageID:   messageID,
		ThreadID:    "thread-" + messageID,
		FromAddress: "sender@example.com",
		FromName:    "Sender",
		To:          []string{user},
		Subject:     "subject " + messageID,
		Date:        time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC),
		Labels:      []string{"INBOX"},
		Folder:      model.FolderInbox,
		SyncedAt:    time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC),
	}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

func TestCredentialUpsertPreservesIdentity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	expiry := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	cred := &model.Credential{
		UserEmail:      "alice@example.com",
		AuthType:       model.AuthOAuth,
		EncryptedToken: "blob-1",
		AccessToken:    "access-1",
		TokenExpiry:    &expiry,
	}
	if err := s.UpsertCredential(ctx, cred); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	first, err := s.CredentialByEmail(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	// Second login for the same address must update in place.
	cred.EncryptedToken = "blob-2"
	cred.AccessToken = "access-2"
	if err := s.UpsertCredential(ctx, cred); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	second, err := s.CredentialByEmail(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("row identity changed on upsert: id %d -> %d", first.ID, second.ID)
	}
	if second.EncryptedToken != "blob-2" || second.AccessToken != "access-2" {
		t.Errorf("token material not refreshed: %+v", second)
	}
	if second.AuthType != model.AuthOAuth {
		t.Errorf("auth type = %q, want oauth", second.AuthType)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("created_at changed on upsert: %v -> %v", first.CreatedAt, second.CreatedAt)
	}

	n := 0
	creds, err := s.ListCredentials(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range creds {
		if c.UserEmail == "alice@example.com" {
			n++
		}
	}
	if n != 1 {
		t.Errorf("got %d rows for one address, want 1", n)
	}
}

func TestCredentialUpsertKeepsAuthType(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertCredential(ctx, &model.Credential{
		UserEmail:      "bob@example.com",
		AuthType:       model.AuthAppPassword,
		EncryptedToken: "pw-blob",
	}); err != nil {
		t.Fatal(err)
	}

	// A conflicting upsert with a different method must not silently
	// flip the stored type.
	if err := s.UpsertCredential(ctx, &model.Credential{
		UserEmail:      "bob@example.com",
		AuthType:       model.AuthZoho,
		EncryptedToken: "other-blob",
	}); err != nil {
		t.Fatal(err)
	}

	cred, err := s.CredentialByEmail(ctx, "bob@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if cred.AuthType != model.AuthAppPassword {
		t.Errorf("auth type = %q, want app_password preserved", cred.AuthType)
	}
	if cred.EncryptedToken != "other-blob" {
		t.Errorf("token = %q, want refreshed", cred.EncryptedToken)
	}
}

func TestUpdateTokens(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertCredential(ctx, &model.Credential{
		UserEmail:      "alice@example.com",
		AuthType:       model.AuthOAuth,
		EncryptedToken: "old",
	}); err != nil {
		t.Fatal(err)
	}

	expiry := time.Date(2026, 9, 15, 8, 0, 0, 0, time.UTC)
	if err := s.UpdateTokens(ctx, "alice@example.com", "new-blob", "new-access", &expiry); err != nil {
		t.Fatalf("UpdateTokens: %v", err)
	}
	cred, err := s.CredentialByEmail(ctx, "alice@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if cred.EncryptedToken != "new-blob" || cred.AccessToken != "new-access" {
		t.Errorf("tokens not updated: %+v", cred)
	}
	if cred.TokenExpiry == nil || !cred.TokenExpiry.Equal(expiry) {
		t.Errorf("token expiry = %v, want %v", cred.TokenExpiry, expiry)
	}

	if err := s.UpdateTokens(ctx, "nobody@example.com", "x", "y", nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateTokens for missing row: got %v, want ErrNotFound", err)
	}
}

func TestMostRecentCredential(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.MostRecentCredential(ctx); !errors.Is(err, ErrNotFound) {
		t.Errorf("empty table: got %v, want ErrNotFound", err)
	}

	for _, email := range []string{"first@example.com", "second@example.com"} {
		if err := s.UpsertCredential(ctx, &model.Credential{
			UserEmail:      email,
			AuthType:       model.AuthZoho,
			EncryptedToken: "blob",
		}); err != nil {
			t.Fatal(err)
		}
		// CURRENT_TIMESTAMP has one-second resolution.
		time.Sleep(1100 * time.Millisecond)
	}

	// Touching the older account makes it the most recent again.
	if err := s.UpsertCredential(ctx, &model.Credential{
		UserEmail:      "first@example.com",
		AuthType:       model.AuthZoho,
		EncryptedToken: "blob-2",
	}); err != nil {
		t.Fatal(err)
	}

	cred, err := s.MostRecentCredential(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if cred.UserEmail != "first@example.com" {
		t.Errorf("most recent = %q, want first@example.com", cred.UserEmail)
	}
}

func TestDeleteCredential(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertCredential(ctx, &model.Credential{
		UserEmail:      "alice@example.com",
		AuthType:       model.AuthOAuth,
		EncryptedToken: "blob",
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteCredential(ctx, "alice@example.com"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CredentialByEmail(ctx, "alice@example.com"); !errors.Is(err, ErrNotFound) {
		t.Errorf("after delete: got %v, want ErrNotFound", err)
	}
	// Idempotent.
	if err := s.DeleteCredential(ctx, "alice@example.com"); err != nil {
		t.Errorf("second delete: %v", err)
	}
}

func TestUpsertEmailsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	batch := []model.Email{
		testEmail("alice@example.com", "m1"),
		testEmail("alice@example.com", "m2"),
	}
	if err := s.UpsertEmails(ctx, batch); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if err := s.UpsertEmails(ctx, batch); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	n, err := s.EmailCount(ctx, "alice@example.com", model.FolderInbox)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("email count = %d after replayed sync, want 2", n)
	}
}

func TestUpsertEmailsDoesNotClobberBody(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	full := testEmail("alice@example.com", "m1", func(e *model.Email) {
		e.BodyText = "the full body"
		e.BodyHTML = "<p>the full body</p>"
	})
	if err := s.SaveEmail(ctx, &full); err != nil {
		t.Fatalf("SaveEmail: %v", err)
	}

	// A later headers-only sync sees the same message with no body
	// and a changed read state.
	stub := testEmail("alice@example.com", "m1", func(e *model.Email) {
		e.Read = true
		e.Labels = []string{"INBOX", "IMPORTANT"}
	})
	if err := s.UpsertEmails(ctx, []model.Email{stub}); err != nil {
		t.Fatalf("UpsertEmails: %v", err)
	}

	got, err := s.EmailByMessageID(ctx, "alice@example.com", "m1")
	if err != nil {
		t.Fatal(err)
	}
	if got.BodyText != "the full body" {
		t.Errorf("body clobbered by metadata sync: %q", got.BodyText)
	}
	if !got.Read {
		t.Error("read flag not refreshed by sync")
	}
	if len(got.Labels) != 2 {
		t.Errorf("labels not refreshed: %v", got.Labels)
	}
}

func TestSaveEmailReplacesBody(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	stub := testEmail("alice@example.com", "m1")
	if err := s.UpsertEmails(ctx, []model.Email{stub}); err != nil {
		t.Fatal(err)
	}
	got, err := s.EmailByMessageID(ctx, "alice@example.com", "m1")
	if err != nil {
		t.Fatal(err)
	}
	if got.HasBody() {
		t.Fatalf("stub unexpectedly has a body: %+v", got)
	}

	full := testEmail("alice@example.com", "m1", func(e *model.Email) {
		e.BodyText = "fetched on demand"
		e.HasAttachments = true
		e.Attachments = []model.Attachment{{Filename: "a.pdf", MimeType: "application/pdf", Size: 123}}
	})
	if err := s.SaveEmail(ctx, &full); err != nil {
		t.Fatal(err)
	}

	got, err = s.EmailByMessageID(ctx, "alice@example.com", "m1")
	if err != nil {
		t.Fatal(err)
	}
	if got.BodyText != "fetched on demand" {
		t.Errorf("body = %q", got.BodyText)
	}
	if !got.HasAttachments || len(got.Attachments) != 1 || got.Attachments[0].Filename != "a.pdf" {
		t.Errorf("attachments not saved: %+v", got.Attachments)
	}
}

func TestEmailsByFolderAndUnread(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	emails := []model.Email{
		testEmail("alice@example.com", "m1", func(e *model.Email) {
			e.Date = time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
		}),
		testEmail("alice@example.com", "m2", func(e *model.Email) {
			e.Date = time.Date(2026, 8, 21, 10, 0, 0, 0, time.UTC)
			e.Read = true
		}),
		testEmail("alice@example.com", "m3", func(e *model.Email) {
			e.Folder = model.FolderSent
		}),
		testEmail("bob@example.com", "m1"),
	}
	if err := s.UpsertEmails(ctx, emails); err != nil {
		t.Fatal(err)
	}

	inbox, err := s.EmailsByFolder(ctx, "alice@example.com", model.FolderInbox, 10, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(inbox) != 2 {
		t.Fatalf("inbox len = %d, want 2", len(inbox))
	}
	if inbox[0].MessageID != "m2" {
		t.Errorf("newest first: got %q", inbox[0].MessageID)
	}

	unread, err := s.EmailsByFolder(ctx, "alice@example.com", model.FolderInbox, 10, 0, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(unread) != 1 || unread[0].MessageID != "m1" {
		t.Errorf("unread = %+v, want just m1", unread)
	}

	count, err := s.UnreadCount(ctx, "alice@example.com", model.FolderAll)
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("unread count = %d, want 2 (m1 + sent m3)", count)
	}
}

func TestSearchEmails(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	emails := []model.Email{
		testEmail("alice@example.com", "m1", func(e *model.Email) {
			e.Subject = "Quarterly planning"
		}),
		testEmail("alice@example.com", "m2", func(e *model.Email) {
			e.FromAddress = "planning@example.com"
		}),
		testEmail("alice@example.com", "m3", func(e *model.Email) {
			e.Subject = "Lunch"
		}),
	}
	for i := range emails {
		if err := s.SaveEmail(ctx, &emails[i]); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.SearchEmails(ctx, "alice@example.com", "planning", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("search hits = %d, want 2", len(got))
	}
}

func TestSearchEmailsLiteralWildcards(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	emails := []model.Email{
		testEmail("alice@example.com", "m1", func(e *model.Email) {
			e.Subject = "100% done"
		}),
		testEmail("alice@example.com", "m2", func(e *model.Email) {
			e.Subject = "100x done"
		}),
		testEmail("alice@example.com", "m3", func(e *model.Email) {
			e.Subject = "report_final"
		}),
		testEmail("alice@example.com", "m4", func(e *model.Email) {
			e.Subject = "reports final"
		}),
	}
	for i := range emails {
		if err := s.SaveEmail(ctx, &emails[i]); err != nil {
			t.Fatal(err)
		}
	}

	// % and _ in the query match literally, not as LIKE wildcards.
	got, err := s.SearchEmails(ctx, "alice@example.com", "100%", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].MessageID != "m1" {
		t.Errorf("%% search hits = %+v, want only m1", got)
	}

	got, err = s.SearchEmails(ctx, "alice@example.com", "report_", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].MessageID != "m3" {
		t.Errorf("_ search hits = %+v, want only m3", got)
	}
}

func TestSetEmailRead(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := testEmail("alice@example.com", "m1")
	if err := s.SaveEmail(ctx, &e); err != nil {
		t.Fatal(err)
	}
	if err := s.SetEmailRead(ctx, "alice@example.com", "m1", true); err != nil {
		t.Fatal(err)
	}
	got, err := s.EmailByMessageID(ctx, "alice@example.com", "m1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Read {
		t.Error("read flag not set")
	}
}

func TestDeleteEmailsByUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertEmails(ctx, []model.Email{
		testEmail("alice@example.com", "m1"),
		testEmail("alice@example.com", "m2"),
		testEmail("bob@example.com", "m1"),
	}); err != nil {
		t.Fatal(err)
	}

	n, err := s.DeleteEmailsByUser(ctx, "alice@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("deleted %d rows, want 2", n)
	}
	left, err := s.EmailCount(ctx, "bob@example.com", model.FolderAll)
	if err != nil {
		t.Fatal(err)
	}
	if left != 1 {
		t.Errorf("other account lost rows: count = %d", left)
	}
}

func testEvent(user, eventID string, start time.Time, opts ...func(*model.CalendarEvent)) model.CalendarEvent {
	ev := model.CalendarEvent{
		UserEmail: user,
		EventID:   eventID,
		Title:     "event " + eventID,
		Start:     start,
		End:       start.Add(time.Hour),
		Status:    model.EventConfirmed,
		SyncedAt:  time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC),
	}
	for _, opt := range opts {
		opt(&ev)
	}
	return ev
}

func TestUpsertEventsIdempotentAndRefreshing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	start := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)
	ev := testEvent("alice@example.com", "ev1", start)
	if err := s.UpsertEvents(ctx, []model.CalendarEvent{ev}); err != nil {
		t.Fatal(err)
	}

	// Rescheduled upstream.
	ev.Start = start.Add(2 * time.Hour)
	ev.End = ev.Start.Add(time.Hour)
	ev.Title = "moved"
	if err := s.UpsertEvents(ctx, []model.CalendarEvent{ev}); err != nil {
		t.Fatal(err)
	}

	events, err := s.EventsInRange(ctx, "alice@example.com", start.Add(-time.Hour), start.Add(24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("event count = %d, want 1", len(events))
	}
	if events[0].Title != "moved" || !events[0].Start.Equal(ev.Start) {
		t.Errorf("event not refreshed: %+v", events[0])
	}
}

func TestEventsInRangeExcludesCancelled(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	start := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)
	if err := s.UpsertEvents(ctx, []model.CalendarEvent{
		testEvent("alice@example.com", "keep", start),
		testEvent("alice@example.com", "gone", start, func(ev *model.CalendarEvent) {
			ev.Status = model.EventCancelled
		}),
		testEvent("alice@example.com", "later", start.AddDate(0, 1, 0)),
	}); err != nil {
		t.Fatal(err)
	}

	events, err := s.EventsInRange(ctx, "alice@example.com", start.Add(-time.Hour), start.AddDate(0, 0, 7))
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].EventID != "keep" {
		t.Errorf("events = %+v, want just keep", events)
	}
}

func TestSearchEventsLiteralWildcards(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	start := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)
	if err := s.UpsertEvents(ctx, []model.CalendarEvent{
		testEvent("alice@example.com", "ev1", start, func(ev *model.CalendarEvent) {
			ev.Title = "50% review"
		}),
		testEvent("alice@example.com", "ev2", start, func(ev *model.CalendarEvent) {
			ev.Title = "50k review"
		}),
	}); err != nil {
		t.Fatal(err)
	}

	events, err := s.SearchEvents(ctx, "alice@example.com", "50%", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].EventID != "ev1" {
		t.Errorf("events = %+v, want just ev1", events)
	}
}

func TestDeleteEventsBefore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	if err := s.UpsertEvents(ctx, []model.CalendarEvent{
		testEvent("alice@example.com", "old", now.AddDate(0, -6, 0)),
		testEvent("alice@example.com", "recent", now.AddDate(0, 0, -1)),
	}); err != nil {
		t.Fatal(err)
	}

	n, err := s.DeleteEventsBefore(ctx, "alice@example.com", now.AddDate(0, -3, 0))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("pruned %d events, want 1", n)
	}
	count, err := s.EventCount(ctx, "alice@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("remaining events = %d, want 1", count)
	}
}

func TestSyncCompletionTimes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	last, err := s.LastSyncCompleted(ctx, "alice@example.com", SyncKindEmail)
	if err != nil {
		t.Fatal(err)
	}
	if !last.IsZero() {
		t.Errorf("unrecorded last sync = %v, want zero", last)
	}

	first := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	if err := s.RecordSyncCompleted(ctx, "alice@example.com", SyncKindEmail, first); err != nil {
		t.Fatal(err)
	}
	last, err = s.LastSyncCompleted(ctx, "alice@example.com", SyncKindEmail)
	if err != nil {
		t.Fatal(err)
	}
	if !last.Equal(first) {
		t.Errorf("last email sync = %v, want %v", last, first)
	}

	// A later run overwrites the stamp, one row per (user, kind).
	second := first.Add(10 * time.Minute)
	if err := s.RecordSyncCompleted(ctx, "alice@example.com", SyncKindEmail, second); err != nil {
		t.Fatal(err)
	}
	last, err = s.LastSyncCompleted(ctx, "alice@example.com", SyncKindEmail)
	if err != nil {
		t.Fatal(err)
	}
	if !last.Equal(second) {
		t.Errorf("last email sync = %v, want %v", last, second)
	}

	// Kinds and accounts do not bleed into each other.
	last, err = s.LastSyncCompleted(ctx, "alice@example.com", SyncKindCalendar)
	if err != nil {
		t.Fatal(err)
	}
	if !last.IsZero() {
		t.Errorf("calendar sync = %v, want zero", last)
	}
	last, err = s.LastSyncCompleted(ctx, "bob@example.com", SyncKindEmail)
	if err != nil {
		t.Fatal(err)
	}
	if !last.IsZero() {
		t.Errorf("other account sync = %v, want zero", last)
	}
}
