// Package gmail adapts the Gmail and Google Calendar REST APIs to
// the provider interfaces. Used by OAuth sessions only; app-password
// Gmail goes through the imap adapter instead.
package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"

	"github.com/mailbox-cli/mailbox/internal/model"
	"github.com/mailbox-cli/mailbox/internal/provider"
)

// folderLabels maps neutral folder names to Gmail label IDs.
var folderLabels = map[model.Folder]string{
	model.FolderInbox:  "INBOX",
	model.FolderSent:   "SENT",
	model.FolderDrafts: "DRAFT",
	model.FolderSpam:   "SPAM",
	model.FolderTrash:  "TRASH",
}

// Client wraps the Gmail API service for one account.
type Client struct {
	srv  *gmail.Service
	user string
}

var (
	_ provider.Mail   = (*Client)(nil)
	_ provider.Sender = (*Client)(nil)
)

// NewClient creates a Gmail adapter. user is the account address,
// used to stamp converted messages.
func NewClient(srv *gmail.Service, user string) *Client {
	return &Client{srv: srv, user: user}
}

// FetchMessages lists up to limit messages carrying the folder's
// label, newest first (the API's native order).
func (c *Client) FetchMessages(ctx context.Context, folder model.Folder, limit int, headersOnly bool) ([]model.Email, error) {
	req := c.srv.Users.Messages.List("me").MaxResults(int64(limit))
	if folder != model.FolderAll {
		label, ok := folderLabels[folder]
		if !ok {
			return nil, fmt.Errorf("no gmail label for folder %q", folder)
		}
		req = req.LabelIds(label)
	}

	res, err := req.Context(ctx).Do()
	if err != nil {
		return nil, wrapAPIError("listing messages", err)
	}

	format := "full"
	if headersOnly {
		format = "metadata"
	}

	emails := make([]model.Email, 0, len(res.Messages))
	for _, ref := range res.Messages {
		msg, err := c.srv.Users.Messages.Get("me", ref.Id).Format(format).Context(ctx).Do()
		if err != nil {
			return nil, wrapAPIError("fetching message "+ref.Id, err)
		}
		emails = append(emails, *messageToEmail(msg, c.user, folder))
	}
	return emails, nil
}

// FetchMessage returns one full message by Gmail message ID.
func (c *Client) FetchMessage(ctx context.Context, messageID string) (*model.Email, error) {
	msg, err := c.srv.Users.Messages.Get("me", messageID).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, wrapAPIError("fetching message "+messageID, err)
	}
	return messageToEmail(msg, c.user, classifyFolder(msg.LabelIds)), nil
}

// Search runs a Gmail query (full Gmail search syntax).
func (c *Client) Search(ctx context.Context, query string, limit int) ([]model.Email, error) {
	res, err := c.srv.Users.Messages.List("me").Q(query).MaxResults(int64(limit)).Context(ctx).Do()
	if err != nil {
		return nil, wrapAPIError("searching messages", err)
	}
	emails := make([]model.Email, 0, len(res.Messages))
	for _, ref := range res.Messages {
		msg, err := c.srv.Users.Messages.Get("me", ref.Id).Format("metadata").Context(ctx).Do()
		if err != nil {
			return nil, wrapAPIError("fetching message "+ref.Id, err)
		}
		emails = append(emails, *messageToEmail(msg, c.user, classifyFolder(msg.LabelIds)))
	}
	return emails, nil
}

// MarkRead removes the UNREAD label.
func (c *Client) MarkRead(ctx context.Context, messageID string) error {
	_, err := c.srv.Users.Messages.Modify("me", messageID, &gmail.ModifyMessageRequest{
		RemoveLabelIds: []string{"UNREAD"},
	}).Context(ctx).Do()
	return wrapAPIError("marking read", err)
}

// MarkUnread adds the UNREAD label.
func (c *Client) MarkUnread(ctx context.Context, messageID string) error {
	_, err := c.srv.Users.Messages.Modify("me", messageID, &gmail.ModifyMessageRequest{
		AddLabelIds: []string{"UNREAD"},
	}).Context(ctx).Do()
	return wrapAPIError("marking unread", err)
}

// Attachment downloads a message's attachment by position.
func (c *Client) Attachment(ctx context.Context, messageID string, index int) (*provider.Attachment, error) {
	msg, err := c.srv.Users.Messages.Get("me", messageID).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, wrapAPIError("fetching message "+messageID, err)
	}
	email := messageToEmail(msg, c.user, model.FolderAll)
	if index < 0 || index >= len(email.Attachments) {
		return nil, fmt.Errorf("message %s has no attachment %d", messageID, index)
	}
	meta := email.Attachments[index]

	att, err := c.srv.Users.Messages.Attachments.Get("me", messageID, meta.AttachmentID).Context(ctx).Do()
	if err != nil {
		return nil, wrapAPIError("downloading attachment", err)
	}
	data, err := decodeBase64URL(att.Data)
	if err != nil {
		return nil, fmt.Errorf("decoding attachment data: %w", err)
	}
	return &provider.Attachment{
		Filename: meta.Filename,
		MimeType: meta.MimeType,
		Data:     data,
	}, nil
}

// Send submits an RFC 5322 message through the Gmail API, preserving
// the thread for replies.
func (c *Client) Send(ctx context.Context, msg provider.Outgoing) error {
	raw, err := provider.BuildMessage(msg, now())
	if err != nil {
		return err
	}
	gm := &gmail.Message{
		Raw: base64.URLEncoding.EncodeToString(raw),
	}
	if msg.ThreadID != "" {
		gm.ThreadId = msg.ThreadID
	}
	if _, err := c.srv.Users.Messages.Send("me", gm).Context(ctx).Do(); err != nil {
		return wrapAPIError("sending message", err)
	}
	return nil
}

// Profile returns the account's address as Gmail reports it.
func (c *Client) Profile(ctx context.Context) (string, error) {
	p, err := c.srv.Users.GetProfile("me").Context(ctx).Do()
	if err != nil {
		return "", wrapAPIError("fetching profile", err)
	}
	return p.EmailAddress, nil
}

// wrapAPIError converts Gmail API authorization failures into
// AuthError so the retry layer stops instead of hammering the API.
func wrapAPIError(op string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *googleapi.Error
	if ok := asGoogleAPIError(err, &apiErr); ok {
		if apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden {
			return &provider.AuthError{
				Method:  model.AuthOAuth,
				Message: fmt.Sprintf("%s: %s", op, apiErr.Message),
			}
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
