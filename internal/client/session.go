package client

import (
	"context"

	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-smtp"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/gmail/v1"

	"github.com/mailbox-cli/mailbox/internal/model"
)

// Session is the slice of the auth manager the clients need: identity,
// method, and the live connections the method supports. Capability
// accessors return (nil, nil) when the method does not support them.
type Session interface {
	ActiveMethod() model.AuthMethod
	CurrentEmail() string
	GmailFolders() bool
	GmailService(ctx context.Context) (*gmail.Service, error)
	CalendarService(ctx context.Context) (*calendar.Service, error)
	IMAPConnection(ctx context.Context) (*imapclient.Client, error)
	SMTPConnection(ctx context.Context) (*smtp.Client, error)
}
