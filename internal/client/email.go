// Package client layers the local cache over the live providers. Reads
// prefer the cache and fall through to the provider; provider calls are
// retried with fresh connections on transient failures.
package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mailbox-cli/mailbox/internal/log"
	"github.com/mailbox-cli/mailbox/internal/model"
	"github.com/mailbox-cli/mailbox/internal/provider"
	gmailprov "github.com/mailbox-cli/mailbox/internal/provider/gmail"
	imapprov "github.com/mailbox-cli/mailbox/internal/provider/imap"
	smtpprov "github.com/mailbox-cli/mailbox/internal/provider/smtp"
	"github.com/mailbox-cli/mailbox/internal/store"
)

// maxAttempts bounds provider retries. Backoff doubles per attempt
// starting at one second.
const maxAttempts = 3

// EmailClient dispatches mail operations to whichever provider the
// active session supports and keeps the cache in step.
type EmailClient struct {
	session Session
	store   *store.Store

	mail   provider.Mail
	sender provider.Sender

	// buildMail and buildSender construct provider adapters for the
	// active session; replaced in tests.
	buildMail   func(ctx context.Context) (provider.Mail, error)
	buildSender func(ctx context.Context) (provider.Sender, error)
}

// NewEmailClient returns a client bound to sess, typically the
// process-wide auth manager.
func NewEmailClient(sess Session, st *store.Store) *EmailClient {
	c := &EmailClient{session: sess, store: st}
	c.buildMail = c.defaultBuildMail
	c.buildSender = c.defaultBuildSender
	return c
}

func (c *EmailClient) defaultBuildMail(ctx context.Context) (provider.Mail, error) {
	switch c.session.ActiveMethod() {
	case model.AuthOAuth:
		svc, err := c.session.GmailService(ctx)
		if err != nil {
			return nil, err
		}
		return gmailprov.NewClient(svc, c.session.CurrentEmail()), nil
	case model.AuthAppPassword, model.AuthZoho:
		conn, err := c.session.IMAPConnection(ctx)
		if err != nil {
			return nil, err
		}
		return imapprov.NewClient(conn, c.session.CurrentEmail(), c.session.GmailFolders()), nil
	}
	return nil, provider.ErrNotAuthenticated
}

func (c *EmailClient) defaultBuildSender(ctx context.Context) (provider.Sender, error) {
	switch c.session.ActiveMethod() {
	case model.AuthOAuth:
		svc, err := c.session.GmailService(ctx)
		if err != nil {
			return nil, err
		}
		return gmailprov.NewClient(svc, c.session.CurrentEmail()), nil
	case model.AuthAppPassword, model.AuthZoho:
		conn, err := c.session.SMTPConnection(ctx)
		if err != nil {
			return nil, err
		}
		return smtpprov.NewSender(conn), nil
	}
	return nil, provider.ErrNotAuthenticated
}

func (c *EmailClient) mailFor(ctx context.Context) (provider.Mail, error) {
	if c.mail != nil {
		return c.mail, nil
	}
	m, err := c.buildMail(ctx)
	if err != nil {
		return nil, err
	}
	c.mail = m
	return m, nil
}

func (c *EmailClient) senderFor(ctx context.Context) (provider.Sender, error) {
	if c.sender != nil {
		return c.sender, nil
	}
	s, err := c.buildSender(ctx)
	if err != nil {
		return nil, err
	}
	c.sender = s
	return s, nil
}

// resetProviders drops the cached adapters so the next operation
// rebuilds them from a fresh connection.
func (c *EmailClient) resetProviders() {
	c.mail = nil
	c.sender = nil
}

// withRetry runs fn against the mail provider, rebuilding the
// connection and backing off between transient failures. Auth and
// credential errors fail immediately.
func (c *EmailClient) withRetry(ctx context.Context, op string, fn func(m provider.Mail) error) error {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		m, err := c.mailFor(ctx)
		if err == nil {
			err = fn(m)
		}
		if err == nil {
			return nil
		}
		if !provider.IsRetryable(err) {
			return err
		}
		lastErr = err
		log.Printf("%s attempt %d/%d failed: %v", op, attempt+1, maxAttempts, err)
		c.resetProviders()
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

// FetchMessages pulls the newest messages in a folder from the
// provider. With cache set, results are upserted into the local store;
// a headers-only fetch never clobbers bodies already cached.
func (c *EmailClient) FetchMessages(ctx context.Context, folder model.Folder, limit int, headersOnly, cache bool) ([]model.Email, error) {
	var emails []model.Email
	err := c.withRetry(ctx, "fetch messages", func(m provider.Mail) error {
		var err error
		emails, err = m.FetchMessages(ctx, folder, limit, headersOnly)
		return err
	})
	if err != nil {
		return nil, err
	}
	if cache && len(emails) > 0 {
		if err := c.cacheEmails(ctx, folder, emails); err != nil {
			return nil, fmt.Errorf("caching fetched messages: %w", err)
		}
	}
	return emails, nil
}

// GetEmail returns a single message with its body, from the cache when
// the body is already present, otherwise from the provider with a
// write-back.
func (c *EmailClient) GetEmail(ctx context.Context, messageID string) (*model.Email, error) {
	cached, err := c.store.EmailByMessageID(ctx, c.session.CurrentEmail(), messageID)
	if err == nil && cached.HasBody() {
		return cached, nil
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	var email *model.Email
	err = c.withRetry(ctx, "fetch message", func(m provider.Mail) error {
		var err error
		email, err = m.FetchMessage(ctx, messageID)
		return err
	})
	if err != nil {
		return nil, err
	}
	email.UserEmail = c.session.CurrentEmail()
	email.SyncedAt = time.Now()
	if err := c.store.SaveEmail(ctx, email); err != nil {
		return nil, fmt.Errorf("caching message %s: %w", messageID, err)
	}
	return email, nil
}

// CachedEmails lists messages from the local store only.
func (c *EmailClient) CachedEmails(ctx context.Context, folder model.Folder, limit, offset int, unreadOnly bool) ([]model.Email, error) {
	return c.store.EmailsByFolder(ctx, c.session.CurrentEmail(), folder, limit, offset, unreadOnly)
}

// Search looks for messages matching query, cache first. A cache miss
// falls through to a live provider search whose hits are cached.
func (c *EmailClient) Search(ctx context.Context, query string, limit int) ([]model.Email, error) {
	hits, err := c.store.SearchEmails(ctx, c.session.CurrentEmail(), query, limit)
	if err != nil {
		return nil, err
	}
	if len(hits) > 0 {
		return hits, nil
	}

	err = c.withRetry(ctx, "search", func(m provider.Mail) error {
		var err error
		hits, err = m.Search(ctx, query, limit)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(hits) > 0 {
		if err := c.cacheEmails(ctx, model.FolderAll, hits); err != nil {
			log.Printf("caching search results: %v", err)
		}
	}
	return hits, nil
}

// MarkRead flips the read flag on the provider and optimistically in
// the cache.
func (c *EmailClient) MarkRead(ctx context.Context, messageID string) error {
	return c.setRead(ctx, messageID, true)
}

// MarkUnread is the inverse of MarkRead.
func (c *EmailClient) MarkUnread(ctx context.Context, messageID string) error {
	return c.setRead(ctx, messageID, false)
}

func (c *EmailClient) setRead(ctx context.Context, messageID string, read bool) error {
	if err := c.store.SetEmailRead(ctx, c.session.CurrentEmail(), messageID, read); err != nil {
		return err
	}
	op := "mark read"
	if !read {
		op = "mark unread"
	}
	return c.withRetry(ctx, op, func(m provider.Mail) error {
		if read {
			return m.MarkRead(ctx, messageID)
		}
		return m.MarkUnread(ctx, messageID)
	})
}

// Attachment downloads one attachment of a message by index.
func (c *EmailClient) Attachment(ctx context.Context, messageID string, index int) (*provider.Attachment, error) {
	var att *provider.Attachment
	err := c.withRetry(ctx, "fetch attachment", func(m provider.Mail) error {
		var err error
		att, err = m.Attachment(ctx, messageID, index)
		return err
	})
	return att, err
}

// withSendRetry is withRetry over the outbound channel: fn runs against
// the sender, transient failures rebuild the connection and back off,
// auth and credential errors fail immediately.
func (c *EmailClient) withSendRetry(ctx context.Context, op string, fn func(s provider.Sender) error) error {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		s, err := c.senderFor(ctx)
		if err == nil {
			err = fn(s)
		}
		if err == nil {
			return nil
		}
		if !provider.IsRetryable(err) {
			return err
		}
		lastErr = err
		log.Printf("%s attempt %d/%d failed: %v", op, attempt+1, maxAttempts, err)
		c.resetProviders()
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

// Send delivers msg through the active session's outbound channel,
// Gmail API for OAuth sessions and SMTP otherwise. Duplicate delivery
// on retry is on the provider to dedupe; both channels treat a failed
// handoff as not sent.
func (c *EmailClient) Send(ctx context.Context, msg provider.Outgoing) error {
	if msg.From == "" {
		msg.From = c.session.CurrentEmail()
	}
	return c.withSendRetry(ctx, "send", func(s provider.Sender) error {
		return s.Send(ctx, msg)
	})
}

// Reply sends a reply to an existing message, threading it with
// In-Reply-To and References and quoting the original body.
func (c *EmailClient) Reply(ctx context.Context, messageID, body string, replyAll bool) error {
	orig, err := c.GetEmail(ctx, messageID)
	if err != nil {
		return fmt.Errorf("loading original message: %w", err)
	}

	msg := provider.Outgoing{
		From:      c.session.CurrentEmail(),
		To:        []string{orig.FromAddress},
		Subject:   replySubject(orig.Subject),
		BodyText:  body + "\n\n" + quoteOriginal(orig),
		InReplyTo:  orig.MessageID,
		References: orig.MessageID,
		ThreadID:   orig.ThreadID,
	}
	if replyAll {
		msg.To = append(msg.To, filterSelf(orig.To, c.session.CurrentEmail())...)
		msg.Cc = filterSelf(orig.Cc, c.session.CurrentEmail())
	}
	return c.Send(ctx, msg)
}

func replySubject(subject string) string {
	if strings.HasPrefix(strings.ToLower(subject), "re:") {
		return subject
	}
	return "Re: " + subject
}

func quoteOriginal(e *model.Email) string {
	var b strings.Builder
	fmt.Fprintf(&b, "On %s, %s wrote:\n", e.Date.Format("Mon, 2 Jan 2006 at 15:04"), e.From())
	for _, line := range strings.Split(strings.TrimRight(e.BodyText, "\n"), "\n") {
		b.WriteString("> ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

func filterSelf(addrs []string, self string) []string {
	var out []string
	for _, a := range addrs {
		if !strings.EqualFold(a, self) {
			out = append(out, a)
		}
	}
	return out
}

// UnreadCount reports cached unread messages in a folder.
func (c *EmailClient) UnreadCount(ctx context.Context, folder model.Folder) (int, error) {
	return c.store.UnreadCount(ctx, c.session.CurrentEmail(), folder)
}

// TotalCount reports cached messages in a folder.
func (c *EmailClient) TotalCount(ctx context.Context, folder model.Folder) (int, error) {
	return c.store.EmailCount(ctx, c.session.CurrentEmail(), folder)
}

func (c *EmailClient) cacheEmails(ctx context.Context, folder model.Folder, emails []model.Email) error {
	now := time.Now()
	user := c.session.CurrentEmail()
	for i := range emails {
		emails[i].UserEmail = user
		emails[i].SyncedAt = now
		if emails[i].Folder == "" {
			emails[i].Folder = folder
		}
	}
	return c.store.UpsertEmails(ctx, emails)
}
