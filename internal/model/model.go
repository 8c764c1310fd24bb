// Package model defines the shared domain types: accounts, cached
// emails, and cached calendar events.
package model

import (
	"fmt"
	"time"
)

// AuthMethod identifies how an account authenticates with its mail
// provider.
type AuthMethod string

const (
	// AuthNone means no method has been chosen yet.
	AuthNone AuthMethod = ""
	// AuthOAuth is Google OAuth2 (Gmail + Calendar APIs).
	AuthOAuth AuthMethod = "oauth"
	// AuthAppPassword is Gmail over IMAP/SMTP with an app password.
	AuthAppPassword AuthMethod = "app_password"
	// AuthZoho is Zoho Mail over IMAP/SMTP.
	AuthZoho AuthMethod = "zoho"
)

// ParseAuthMethod converts a user-supplied string into an AuthMethod.
func ParseAuthMethod(s string) (AuthMethod, error) {
	switch AuthMethod(s) {
	case AuthOAuth, AuthAppPassword, AuthZoho:
		return AuthMethod(s), nil
	}
	return AuthNone, fmt.Errorf("unknown auth method %q (want oauth, app_password, or zoho)", s)
}

// String implements fmt.Stringer.
func (m AuthMethod) String() string {
	if m == AuthNone {
		return "none"
	}
	return string(m)
}

// Credential is a stored account identity. Secret material lives in
// EncryptedToken and AccessToken, both encrypted at rest; only the
// auth layer ever sees the plaintext.
type Credential struct {
	ID             int64      `db:"id"`
	UserEmail      string     `db:"user_email"`
	AuthType       AuthMethod `db:"auth_type"`
	EncryptedToken string     `db:"encrypted_token"`
	AccessToken    string     `db:"access_token"`
	TokenExpiry    *time.Time `db:"token_expiry"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
}

// TokenExpired reports whether the stored access token has passed its
// expiry. Credentials without an expiry (app passwords) never expire.
func (c *Credential) TokenExpired(now time.Time) bool {
	return c.TokenExpiry != nil && !c.TokenExpiry.After(now)
}

// Folder is a provider-neutral mailbox name. Adapters translate it to
// Gmail label IDs or IMAP folder paths.
type Folder string

const (
	FolderInbox  Folder = "inbox"
	FolderSent   Folder = "sent"
	FolderDrafts Folder = "drafts"
	FolderSpam   Folder = "spam"
	FolderTrash  Folder = "trash"
	FolderAll    Folder = "all"
)

// Folders lists every folder a full sync walks, in display order.
var Folders = []Folder{FolderInbox, FolderSent, FolderDrafts, FolderSpam, FolderTrash}

// ParseFolder validates a user-supplied folder name.
func ParseFolder(s string) (Folder, error) {
	switch Folder(s) {
	case FolderInbox, FolderSent, FolderDrafts, FolderSpam, FolderTrash, FolderAll:
		return Folder(s), nil
	}
	return "", fmt.Errorf("unknown folder %q", s)
}

// Attachment describes an attachment without its content. The content
// is fetched on demand from the provider.
type Attachment struct {
	Filename     string `json:"filename"`
	MimeType     string `json:"mime_type"`
	Size         int64  `json:"size"`
	AttachmentID string `json:"attachment_id,omitempty"`
}

// Email is one cached message. MessageID is the provider's stable
// identifier (Gmail message ID, or RFC 5322 Message-ID over IMAP) and
// is unique per account.
type Email struct {
	ID             int64
	UserEmail      string
	MessageID      string
	ThreadID       string
	FromAddress    string
	FromName       string
	To             []string
	Cc             []string
	Subject        string
	BodyText       string
	BodyHTML       string
	Date           time.Time
	Read           bool
	Labels         []string
	HasAttachments bool
	Attachments    []Attachment
	Folder         Folder
	SyncedAt       time.Time
	CreatedAt      time.Time
}

// HasBody reports whether the message content has been fetched, as
// opposed to a headers-only sync stub.
func (e *Email) HasBody() bool {
	return e.BodyText != "" || e.BodyHTML != ""
}

// From formats the sender for display.
func (e *Email) From() string {
	if e.FromName != "" {
		return fmt.Sprintf("%s <%s>", e.FromName, e.FromAddress)
	}
	return e.FromAddress
}

// Event statuses as reported by the provider.
const (
	EventConfirmed = "confirmed"
	EventTentative = "tentative"
	EventCancelled = "cancelled"
)

// CalendarEvent is one cached calendar entry. EventID is the
// provider's identifier and is unique per account.
type CalendarEvent struct {
	ID          int64
	UserEmail   string
	EventID     string
	CalendarID  string
	Title       string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	AllDay      bool
	Attendees   []string
	MeetingLink string
	Status      string
	SyncedAt    time.Time
}

// Cancelled reports whether the event has been cancelled upstream.
func (ev *CalendarEvent) Cancelled() bool {
	return ev.Status == EventCancelled
}
