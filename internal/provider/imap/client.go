// Package imap adapts a live IMAP session to the provider.Mail
// interface. Connections are dialed and authenticated by the auth
// layer; this package only issues commands on them.
package imap

import (
	"context"
	"fmt"
	"strings"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/mailbox-cli/mailbox/internal/model"
	"github.com/mailbox-cli/mailbox/internal/provider"
)

// Client implements provider.Mail over one authenticated IMAP
// connection.
type Client struct {
	c    *imapclient.Client
	user string
	// gmail selects Gmail's [Gmail]/ folder namespace instead of the
	// standard Sent/Drafts layout.
	gmail bool
}

var _ provider.Mail = (*Client)(nil)

// NewClient wraps an authenticated connection. gmailFolders selects
// the Gmail IMAP namespace.
func NewClient(conn *imapclient.Client, user string, gmailFolders bool) *Client {
	return &Client{c: conn, user: user, gmail: gmailFolders}
}

func (c *Client) selectFolder(folder model.Folder) (*imap.SelectData, error) {
	name, err := c.folderName(folder)
	if err != nil {
		return nil, err
	}
	data, err := c.c.Select(name, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("selecting %s: %w", name, err)
	}
	return data, nil
}

// FetchMessages returns the newest limit messages in a folder,
// newest first.
func (c *Client) FetchMessages(ctx context.Context, folder model.Folder, limit int, headersOnly bool) ([]model.Email, error) {
	data, err := c.selectFolder(folder)
	if err != nil {
		return nil, err
	}
	if data.NumMessages == 0 {
		return nil, nil
	}

	lo := uint32(1)
	if limit > 0 && data.NumMessages > uint32(limit) {
		lo = data.NumMessages - uint32(limit) + 1
	}
	var seqSet imap.SeqSet
	seqSet.AddRange(lo, data.NumMessages)

	var bodySection *imap.FetchItemBodySection
	fetchOpts := &imap.FetchOptions{
		Envelope: true,
		Flags:    true,
		UID:      true,
	}
	if !headersOnly {
		bodySection = &imap.FetchItemBodySection{Peek: true}
		fetchOpts.BodySection = []*imap.FetchItemBodySection{bodySection}
	}

	fetchCmd := c.c.Fetch(seqSet, fetchOpts)
	defer fetchCmd.Close()

	var emails []model.Email
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}
		buf, err := msg.Collect()
		if err != nil {
			continue
		}
		emails = append(emails, *c.bufferToEmail(buf, folder, bodySection))
	}
	if err := fetchCmd.Close(); err != nil {
		return emails, fmt.Errorf("fetching messages: %w", err)
	}

	// Sequence numbers ascend oldest-first; callers expect newest
	// first.
	for i, j := 0, len(emails)-1; i < j; i, j = i+1, j-1 {
		emails[i], emails[j] = emails[j], emails[i]
	}
	return emails, nil
}

// FetchMessage finds one message by its Message-ID header, checking
// the inbox first and then the remaining folders.
func (c *Client) FetchMessage(ctx context.Context, messageID string) (*model.Email, error) {
	for _, folder := range searchOrder {
		uid, ok, err := c.findUID(folder, messageID)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		return c.fetchByUID(folder, uid)
	}
	return nil, fmt.Errorf("message %s not found on server", messageID)
}

var searchOrder = []model.Folder{
	model.FolderInbox, model.FolderSent, model.FolderDrafts,
	model.FolderSpam, model.FolderTrash,
}

// findUID searches a folder for a Message-ID header. HEADER search is
// a substring match, so the bare ID matches the bracketed header.
func (c *Client) findUID(folder model.Folder, messageID string) (imap.UID, bool, error) {
	if _, err := c.selectFolder(folder); err != nil {
		return 0, false, err
	}
	criteria := &imap.SearchCriteria{
		Header: []imap.SearchCriteriaHeaderField{
			{Key: "Message-Id", Value: trimMsgID(messageID)},
		},
	}
	searchData, err := c.c.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return 0, false, fmt.Errorf("searching for %s: %w", messageID, err)
	}
	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return 0, false, nil
	}
	return uids[len(uids)-1], true, nil
}

func (c *Client) fetchByUID(folder model.Folder, uid imap.UID) (*model.Email, error) {
	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchOpts := &imap.FetchOptions{
		Envelope:    true,
		Flags:       true,
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}

	fetchCmd := c.c.Fetch(imap.UIDSetNum(uid), fetchOpts)
	defer fetchCmd.Close()

	msg := fetchCmd.Next()
	if msg == nil {
		return nil, fmt.Errorf("message UID %d not found", uid)
	}
	buf, err := msg.Collect()
	if err != nil {
		return nil, fmt.Errorf("collecting message: %w", err)
	}
	email := c.bufferToEmail(buf, folder, bodySection)
	if err := fetchCmd.Close(); err != nil {
		return email, fmt.Errorf("closing fetch: %w", err)
	}
	return email, nil
}

// Search runs a server-side TEXT search over the inbox.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]model.Email, error) {
	if _, err := c.selectFolder(model.FolderInbox); err != nil {
		return nil, err
	}
	criteria := &imap.SearchCriteria{
		Text: []string{query},
	}
	searchData, err := c.c.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching messages: %w", err)
	}
	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}
	if limit > 0 && len(uids) > limit {
		uids = uids[len(uids)-limit:]
	}

	fetchOpts := &imap.FetchOptions{
		Envelope: true,
		Flags:    true,
		UID:      true,
	}
	fetchCmd := c.c.Fetch(imap.UIDSetNum(uids...), fetchOpts)
	defer fetchCmd.Close()

	var emails []model.Email
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}
		buf, err := msg.Collect()
		if err != nil {
			continue
		}
		emails = append(emails, *c.bufferToEmail(buf, model.FolderInbox, nil))
	}
	if err := fetchCmd.Close(); err != nil {
		return emails, fmt.Errorf("fetching search results: %w", err)
	}
	return emails, nil
}

// MarkRead sets the \Seen flag on a message.
func (c *Client) MarkRead(ctx context.Context, messageID string) error {
	return c.storeSeen(messageID, true)
}

// MarkUnread clears the \Seen flag on a message.
func (c *Client) MarkUnread(ctx context.Context, messageID string) error {
	return c.storeSeen(messageID, false)
}

func (c *Client) storeSeen(messageID string, seen bool) error {
	for _, folder := range searchOrder {
		uid, ok, err := c.findUID(folder, messageID)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		op := imap.StoreFlagsAdd
		if !seen {
			op = imap.StoreFlagsDel
		}
		storeCmd := c.c.Store(imap.UIDSetNum(uid), &imap.StoreFlags{
			Op:     op,
			Silent: true,
			Flags:  []imap.Flag{imap.FlagSeen},
		}, nil)
		if err := storeCmd.Close(); err != nil {
			return fmt.Errorf("storing flags on %s: %w", messageID, err)
		}
		return nil
	}
	return fmt.Errorf("message %s not found on server", messageID)
}

// Attachment downloads a message's attachment by position.
func (c *Client) Attachment(ctx context.Context, messageID string, index int) (*provider.Attachment, error) {
	email, raw, err := c.fetchRaw(messageID)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(email.Attachments) {
		return nil, fmt.Errorf("message %s has no attachment %d", messageID, index)
	}
	_, _, atts := parseBody(raw)
	if index >= len(atts) {
		return nil, fmt.Errorf("message %s has no attachment %d", messageID, index)
	}
	return &provider.Attachment{
		Filename: atts[index].Filename,
		MimeType: atts[index].MimeType,
		Data:     atts[index].Data,
	}, nil
}

func (c *Client) fetchRaw(messageID string) (*model.Email, []byte, error) {
	for _, folder := range searchOrder {
		uid, ok, err := c.findUID(folder, messageID)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			continue
		}

		bodySection := &imap.FetchItemBodySection{Peek: true}
		fetchOpts := &imap.FetchOptions{
			Envelope:    true,
			UID:         true,
			BodySection: []*imap.FetchItemBodySection{bodySection},
		}
		fetchCmd := c.c.Fetch(imap.UIDSetNum(uid), fetchOpts)
		msg := fetchCmd.Next()
		if msg == nil {
			fetchCmd.Close()
			return nil, nil, fmt.Errorf("message UID %d not found", uid)
		}
		buf, err := msg.Collect()
		fetchCmd.Close()
		if err != nil {
			return nil, nil, fmt.Errorf("collecting message: %w", err)
		}
		raw := buf.FindBodySection(bodySection)
		return c.bufferToEmail(buf, folder, bodySection), raw, nil
	}
	return nil, nil, fmt.Errorf("message %s not found on server", messageID)
}

// bufferToEmail converts a fetched message into the cached shape.
func (c *Client) bufferToEmail(buf *imapclient.FetchMessageBuffer, folder model.Folder, bodySection *imap.FetchItemBodySection) *model.Email {
	email := &model.Email{
		UserEmail: c.user,
		Folder:    folder,
		Labels:    []string{},
	}

	if buf.Envelope != nil {
		email.MessageID = trimMsgID(buf.Envelope.MessageID)
		email.Subject = buf.Envelope.Subject
		email.Date = buf.Envelope.Date
		if len(buf.Envelope.From) > 0 {
			from := buf.Envelope.From[0]
			email.FromName = from.Name
			email.FromAddress = from.Addr()
		}
		if len(buf.Envelope.InReplyTo) > 0 {
			email.ThreadID = trimMsgID(buf.Envelope.InReplyTo[0])
		}
		for _, to := range buf.Envelope.To {
			email.To = append(email.To, to.Addr())
		}
		for _, cc := range buf.Envelope.Cc {
			email.Cc = append(email.Cc, cc.Addr())
		}
	}

	for _, flag := range buf.Flags {
		email.Labels = append(email.Labels, string(flag))
		if flag == imap.FlagSeen {
			email.Read = true
		}
	}

	if bodySection != nil {
		if raw := buf.FindBodySection(bodySection); raw != nil {
			text, html, atts := parseBody(raw)
			email.BodyText = text
			email.BodyHTML = html
			for _, a := range atts {
				email.Attachments = append(email.Attachments, model.Attachment{
					Filename: a.Filename,
					MimeType: a.MimeType,
					Size:     int64(len(a.Data)),
				})
			}
			email.HasAttachments = len(email.Attachments) > 0
		}
	}

	return email
}

// trimMsgID strips the angle brackets servers include in envelope
// message IDs so IDs are stable across providers.
func trimMsgID(id string) string {
	return strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(id), "<"), ">")
}
