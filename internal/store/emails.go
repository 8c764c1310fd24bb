package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mailbox-cli/mailbox/internal/model"
)

// emailRow is the flat database shape of a model.Email; list-valued
// fields are stored as JSON text.
type emailRow struct {
	ID             int64     `db:"id"`
	UserEmail      string    `db:"user_email"`
	MessageID      string    `db:"message_id"`
	ThreadID       string    `db:"thread_id"`
	FromAddress    string    `db:"from_address"`
	FromName       string    `db:"from_name"`
	ToAddresses    string    `db:"to_addresses"`
	CcAddresses    string    `db:"cc_addresses"`
	Subject        string    `db:"subject"`
	BodyText       string    `db:"body_text"`
	BodyHTML       string    `db:"body_html"`
	DateReceived   time.Time `db:"date_received"`
	IsRead         bool      `db:"is_read"`
	Labels         string    `db:"labels"`
	HasAttachments bool      `db:"has_attachments"`
	Attachments    string    `db:"attachments"`
	Folder         string    `db:"folder"`
	SyncedAt       time.Time `db:"synced_at"`
	CreatedAt      time.Time `db:"created_at"`
}

func emailToRow(e *model.Email) (*emailRow, error) {
	to, err := marshalList(e.To)
	if err != nil {
		return nil, err
	}
	cc, err := marshalList(e.Cc)
	if err != nil {
		return nil, err
	}
	labels, err := marshalList(e.Labels)
	if err != nil {
		return nil, err
	}
	atts, err := json.Marshal(orEmpty(e.Attachments))
	if err != nil {
		return nil, err
	}
	return &emailRow{
		UserEmail:      e.UserEmail,
		MessageID:      e.MessageID,
		ThreadID:       e.ThreadID,
		FromAddress:    e.FromAddress,
		FromName:       e.FromName,
		ToAddresses:    to,
		CcAddresses:    cc,
		Subject:        e.Subject,
		BodyText:       e.BodyText,
		BodyHTML:       e.BodyHTML,
		DateReceived:   e.Date.UTC(),
		IsRead:         e.Read,
		Labels:         labels,
		HasAttachments: e.HasAttachments,
		Attachments:    string(atts),
		Folder:         string(e.Folder),
		SyncedAt:       e.SyncedAt.UTC(),
	}, nil
}

func (r *emailRow) toModel() (*model.Email, error) {
	e := &model.Email{
		ID:             r.ID,
		UserEmail:      r.UserEmail,
		MessageID:      r.MessageID,
		ThreadID:       r.ThreadID,
		FromAddress:    r.FromAddress,
		FromName:       r.FromName,
		Subject:        r.Subject,
		BodyText:       r.BodyText,
		BodyHTML:       r.BodyHTML,
		Date:           r.DateReceived,
		Read:           r.IsRead,
		HasAttachments: r.HasAttachments,
		Folder:         model.Folder(r.Folder),
		SyncedAt:       r.SyncedAt,
		CreatedAt:      r.CreatedAt,
	}
	if err := json.Unmarshal([]byte(r.ToAddresses), &e.To); err != nil {
		return nil, fmt.Errorf("decoding to_addresses for %s: %w", r.MessageID, err)
	}
	if err := json.Unmarshal([]byte(r.CcAddresses), &e.Cc); err != nil {
		return nil, fmt.Errorf("decoding cc_addresses for %s: %w", r.MessageID, err)
	}
	if err := json.Unmarshal([]byte(r.Labels), &e.Labels); err != nil {
		return nil, fmt.Errorf("decoding labels for %s: %w", r.MessageID, err)
	}
	if err := json.Unmarshal([]byte(r.Attachments), &e.Attachments); err != nil {
		return nil, fmt.Errorf("decoding attachments for %s: %w", r.MessageID, err)
	}
	return e, nil
}

func marshalList(v []string) (string, error) {
	if v == nil {
		v = []string{}
	}
	b, err := json.Marshal(v)
	return string(b), err
}

func orEmpty(a []model.Attachment) []model.Attachment {
	if a == nil {
		return []model.Attachment{}
	}
	return a
}

// UpsertEmails bulk-inserts sync results. On conflict only the
// sync-owned columns (thread, read state, labels, folder, synced_at)
// are refreshed; bodies already cached by SaveEmail are never
// clobbered by a later headers-only sync.
func (s *Store) UpsertEmails(ctx context.Context, emails []model.Email) error {
	if len(emails) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning email upsert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareNamedContext(ctx, `
		INSERT INTO emails (
			user_email, message_id, thread_id, from_address, from_name,
			to_addresses, cc_addresses, subject, body_text, body_html,
			date_received, is_read, labels, has_attachments, attachments,
			folder, synced_at
		) VALUES (
			:user_email, :message_id, :thread_id, :from_address, :from_name,
			:to_addresses, :cc_addresses, :subject, :body_text, :body_html,
			:date_received, :is_read, :labels, :has_attachments, :attachments,
			:folder, :synced_at
		)
		ON CONFLICT (user_email, message_id) DO UPDATE SET
			thread_id = excluded.thread_id,
			is_read   = excluded.is_read,
			labels    = excluded.labels,
			folder    = excluded.folder,
			synced_at = excluded.synced_at`)
	if err != nil {
		return fmt.Errorf("preparing email upsert: %w", err)
	}
	defer stmt.Close()

	for i := range emails {
		row, err := emailToRow(&emails[i])
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, row); err != nil {
			return fmt.Errorf("upserting email %s: %w", emails[i].MessageID, err)
		}
	}

	return tx.Commit()
}

// SaveEmail writes a fully fetched message, replacing every mutable
// column including the bodies. Used by the read-through path.
func (s *Store) SaveEmail(ctx context.Context, e *model.Email) error {
	row, err := emailToRow(e)
	if err != nil {
		return err
	}
	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO emails (
			user_email, message_id, thread_id, from_address, from_name,
			to_addresses, cc_addresses, subject, body_text, body_html,
			date_received, is_read, labels, has_attachments, attachments,
			folder, synced_at
		) VALUES (
			:user_email, :message_id, :thread_id, :from_address, :from_name,
			:to_addresses, :cc_addresses, :subject, :body_text, :body_html,
			:date_received, :is_read, :labels, :has_attachments, :attachments,
			:folder, :synced_at
		)
		ON CONFLICT (user_email, message_id) DO UPDATE SET
			thread_id       = excluded.thread_id,
			from_address    = excluded.from_address,
			from_name       = excluded.from_name,
			to_addresses    = excluded.to_addresses,
			cc_addresses    = excluded.cc_addresses,
			subject         = excluded.subject,
			body_text       = excluded.body_text,
			body_html       = excluded.body_html,
			date_received   = excluded.date_received,
			is_read         = excluded.is_read,
			labels          = excluded.labels,
			has_attachments = excluded.has_attachments,
			attachments     = excluded.attachments,
			folder          = excluded.folder,
			synced_at       = excluded.synced_at`, row)
	if err != nil {
		return fmt.Errorf("saving email %s: %w", e.MessageID, err)
	}
	return nil
}

// EmailByMessageID returns one cached message, or ErrNotFound.
func (s *Store) EmailByMessageID(ctx context.Context, userEmail, messageID string) (*model.Email, error) {
	var row emailRow
	err := s.db.GetContext(ctx, &row,
		"SELECT * FROM emails WHERE user_email = ? AND message_id = ?", userEmail, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading email %s: %w", messageID, err)
	}
	return row.toModel()
}

// EmailExists reports whether a message is already cached.
func (s *Store) EmailExists(ctx context.Context, userEmail, messageID string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		"SELECT COUNT(1) FROM emails WHERE user_email = ? AND message_id = ?", userEmail, messageID)
	if err != nil {
		return false, fmt.Errorf("checking email %s: %w", messageID, err)
	}
	return n > 0, nil
}

// EmailsByFolder lists cached messages in a folder, newest first.
// unreadOnly narrows to unread messages.
func (s *Store) EmailsByFolder(ctx context.Context, userEmail string, folder model.Folder, limit, offset int, unreadOnly bool) ([]model.Email, error) {
	q := "SELECT * FROM emails WHERE user_email = ?"
	args := []any{userEmail}
	if folder != model.FolderAll {
		q += " AND folder = ?"
		args = append(args, string(folder))
	}
	if unreadOnly {
		q += " AND is_read = 0"
	}
	q += " ORDER BY date_received DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	return s.selectEmails(ctx, q, args...)
}

// SearchEmails matches the query against subject, sender, and body
// text of the cached messages, newest first.
func (s *Store) SearchEmails(ctx context.Context, userEmail, query string, limit int) ([]model.Email, error) {
	pattern := likePattern(query)
	return s.selectEmails(ctx, `
		SELECT * FROM emails
		WHERE user_email = ?
		  AND (subject LIKE ? ESCAPE '\' OR from_address LIKE ? ESCAPE '\'
		       OR from_name LIKE ? ESCAPE '\' OR body_text LIKE ? ESCAPE '\')
		ORDER BY date_received DESC LIMIT ?`,
		userEmail, pattern, pattern, pattern, pattern, limit)
}

func (s *Store) selectEmails(ctx context.Context, q string, args ...any) ([]model.Email, error) {
	var rows []emailRow
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("querying emails: %w", err)
	}
	emails := make([]model.Email, 0, len(rows))
	for i := range rows {
		e, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		emails = append(emails, *e)
	}
	return emails, nil
}

// SetEmailRead updates the cached read flag for one message.
func (s *Store) SetEmailRead(ctx context.Context, userEmail, messageID string, read bool) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE emails SET is_read = ? WHERE user_email = ? AND message_id = ?",
		read, userEmail, messageID)
	if err != nil {
		return fmt.Errorf("marking email %s read=%t: %w", messageID, read, err)
	}
	return nil
}

// UnreadCount counts unread cached messages in a folder.
func (s *Store) UnreadCount(ctx context.Context, userEmail string, folder model.Folder) (int, error) {
	q := "SELECT COUNT(1) FROM emails WHERE user_email = ? AND is_read = 0"
	args := []any{userEmail}
	if folder != model.FolderAll {
		q += " AND folder = ?"
		args = append(args, string(folder))
	}
	var n int
	if err := s.db.GetContext(ctx, &n, q, args...); err != nil {
		return 0, fmt.Errorf("counting unread: %w", err)
	}
	return n, nil
}

// EmailCount counts cached messages in a folder.
func (s *Store) EmailCount(ctx context.Context, userEmail string, folder model.Folder) (int, error) {
	q := "SELECT COUNT(1) FROM emails WHERE user_email = ?"
	args := []any{userEmail}
	if folder != model.FolderAll {
		q += " AND folder = ?"
		args = append(args, string(folder))
	}
	var n int
	if err := s.db.GetContext(ctx, &n, q, args...); err != nil {
		return 0, fmt.Errorf("counting emails: %w", err)
	}
	return n, nil
}

// DeleteEmailsByUser drops every cached message for an account and
// returns the number removed.
func (s *Store) DeleteEmailsByUser(ctx context.Context, userEmail string) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM emails WHERE user_email = ?", userEmail)
	if err != nil {
		return 0, fmt.Errorf("deleting emails for %s: %w", userEmail, err)
	}
	return res.RowsAffected()
}
