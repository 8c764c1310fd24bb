// Package provider defines the surface the rest of the app uses to
// talk to a mail/calendar backend, plus the error taxonomy that
// drives retries. Concrete adapters live in the subpackages.
package provider

import (
	"context"
	"time"

	"github.com/mailbox-cli/mailbox/internal/model"
)

// Mail is a read/flag view over one account's mailbox.
type Mail interface {
	// FetchMessages returns up to limit messages from a folder, newest
	// first. With headersOnly the bodies are left empty.
	FetchMessages(ctx context.Context, folder model.Folder, limit int, headersOnly bool) ([]model.Email, error)
	// FetchMessage returns one full message by its stable ID.
	FetchMessage(ctx context.Context, messageID string) (*model.Email, error)
	// Search runs a provider-side search.
	Search(ctx context.Context, query string, limit int) ([]model.Email, error)
	// MarkRead and MarkUnread flip the provider-side read flag.
	MarkRead(ctx context.Context, messageID string) error
	MarkUnread(ctx context.Context, messageID string) error
	// Attachment downloads one attachment of a message by position.
	Attachment(ctx context.Context, messageID string, index int) (*Attachment, error)
}

// Attachment is downloaded attachment content.
type Attachment struct {
	Filename string
	MimeType string
	Data     []byte
}

// OutgoingAttachment is content to attach to an outgoing message.
type OutgoingAttachment struct {
	Filename string
	MimeType string
	Data     []byte
}

// Outgoing is a message to send. InReplyTo/References/ThreadID are
// set when replying so providers can maintain threading.
type Outgoing struct {
	From        string
	To          []string
	Cc          []string
	Bcc         []string
	Subject     string
	BodyText    string
	BodyHTML    string
	InReplyTo   string
	References  string
	ThreadID    string
	Attachments []OutgoingAttachment
}

// Recipients returns every envelope recipient.
func (o *Outgoing) Recipients() []string {
	out := make([]string, 0, len(o.To)+len(o.Cc)+len(o.Bcc))
	out = append(out, o.To...)
	out = append(out, o.Cc...)
	out = append(out, o.Bcc...)
	return out
}

// Sender sends outgoing messages.
type Sender interface {
	Send(ctx context.Context, msg Outgoing) error
}

// CalendarInfo describes one calendar the account can read.
type CalendarInfo struct {
	ID      string
	Summary string
	Primary bool
}

// Calendar is a read-only view over an account's calendar.
type Calendar interface {
	// FetchEvents returns non-cancelled events overlapping [from, to).
	FetchEvents(ctx context.Context, from, to time.Time, max int) ([]model.CalendarEvent, error)
	// SearchEvents runs a provider-side free-text search.
	SearchEvents(ctx context.Context, query string, max int) ([]model.CalendarEvent, error)
	// ListCalendars lists the calendars visible to the account.
	ListCalendars(ctx context.Context) ([]CalendarInfo, error)
}
