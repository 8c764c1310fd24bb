// Package smtp adapts an authenticated SMTP session to the
// provider.Sender interface. Used by the app-password and Zoho
// methods; OAuth sends through the Gmail API instead.
package smtp

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/emersion/go-smtp"

	"github.com/mailbox-cli/mailbox/internal/provider"
)

// Sender submits messages over one authenticated SMTP connection.
type Sender struct {
	c *smtp.Client
}

var _ provider.Sender = (*Sender)(nil)

// NewSender wraps an authenticated connection dialed by the auth
// layer.
func NewSender(conn *smtp.Client) *Sender {
	return &Sender{c: conn}
}

// Send renders the message and submits it to every envelope
// recipient, including Bcc.
func (s *Sender) Send(ctx context.Context, msg provider.Outgoing) error {
	raw, err := provider.BuildMessage(msg, time.Now())
	if err != nil {
		return err
	}
	rcpts := msg.Recipients()
	if err := s.c.SendMail(msg.From, rcpts, bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("sending to %d recipients: %w", len(rcpts), err)
	}
	return nil
}
