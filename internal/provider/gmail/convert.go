package gmail

import (
	"encoding/base64"
	"errors"
	"slices"
	"strings"
	"time"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"

	"github.com/mailbox-cli/mailbox/internal/model"
)

func now() time.Time { return time.Now() }

func asGoogleAPIError(err error, target **googleapi.Error) bool {
	return errors.As(err, target)
}

// messageToEmail converts a Gmail API message into the cached shape.
// folder may be FolderAll to classify from the label IDs instead.
func messageToEmail(msg *gmail.Message, user string, folder model.Folder) *model.Email {
	if folder == model.FolderAll {
		folder = classifyFolder(msg.LabelIds)
	}
	email := &model.Email{
		UserEmail: user,
		MessageID: msg.Id,
		ThreadID:  msg.ThreadId,
		Date:      time.UnixMilli(msg.InternalDate),
		Read:      !slices.Contains(msg.LabelIds, "UNREAD"),
		Labels:    msg.LabelIds,
		Folder:    folder,
	}
	if email.Labels == nil {
		email.Labels = []string{}
	}

	if msg.Payload != nil {
		for _, header := range msg.Payload.Headers {
			switch header.Name {
			case "From":
				email.FromName, email.FromAddress = splitAddress(header.Value)
			case "To":
				email.To = splitAddressList(header.Value)
			case "Cc":
				email.Cc = splitAddressList(header.Value)
			case "Subject":
				email.Subject = header.Value
			}
		}

		email.BodyText, email.BodyHTML, email.Attachments = extractBodyAndAttachments(msg.Payload)
		email.HasAttachments = hasAttachments(msg.Payload)
	}

	return email
}

// classifyFolder picks the folder a message belongs to from its
// Gmail labels. Trash and spam win over everything; a sent message
// that is also in the inbox counts as inbox.
func classifyFolder(labels []string) model.Folder {
	switch {
	case slices.Contains(labels, "TRASH"):
		return model.FolderTrash
	case slices.Contains(labels, "SPAM"):
		return model.FolderSpam
	case slices.Contains(labels, "DRAFT"):
		return model.FolderDrafts
	case slices.Contains(labels, "INBOX"):
		return model.FolderInbox
	case slices.Contains(labels, "SENT"):
		return model.FolderSent
	}
	return model.FolderAll
}

// hasAttachments checks if a message payload has attachments.
func hasAttachments(payload *gmail.MessagePart) bool {
	if payload.Filename != "" && payload.Body != nil && payload.Body.AttachmentId != "" {
		return true
	}
	return slices.ContainsFunc(payload.Parts, hasAttachments)
}

// extractBodyAndAttachments walks the MIME parts and extracts body
// content and attachment metadata.
func extractBodyAndAttachments(
	payload *gmail.MessagePart,
) (text string, html string, attachments []model.Attachment) {
	// If this part has a filename, it's an attachment.
	if payload.Filename != "" && payload.Body != nil {
		if payload.Body.AttachmentId != "" {
			attachments = append(attachments, model.Attachment{
				Filename:     payload.Filename,
				MimeType:     payload.MimeType,
				Size:         payload.Body.Size,
				AttachmentID: payload.Body.AttachmentId,
			})
		}
		return
	}

	// If this part has body data, extract it.
	if payload.Body != nil && payload.Body.Data != "" {
		decoded, err := decodeBase64URL(payload.Body.Data)
		if err == nil {
			switch payload.MimeType {
			case "text/plain":
				text = string(decoded)
			case "text/html":
				html = string(decoded)
			}
		}
	}

	// Recursively process parts.
	for _, part := range payload.Parts {
		partText, partHTML, partAttachments := extractBodyAndAttachments(part)
		if partText != "" && text == "" {
			text = partText
		}
		if partHTML != "" && html == "" {
			html = partHTML
		}
		attachments = append(attachments, partAttachments...)
	}

	return
}

// decodeBase64URL accepts both padded and unpadded base64url, which
// the API mixes freely.
func decodeBase64URL(data string) ([]byte, error) {
	if decoded, err := base64.RawURLEncoding.DecodeString(data); err == nil {
		return decoded, nil
	}
	return base64.URLEncoding.DecodeString(data)
}

// splitAddress splits a "Name <addr>" header value. Falls back to
// the raw value when it does not parse.
func splitAddress(raw string) (name, address string) {
	raw = strings.TrimSpace(raw)
	open := strings.LastIndex(raw, "<")
	if open < 0 || !strings.HasSuffix(raw, ">") {
		return "", raw
	}
	name = strings.Trim(strings.TrimSpace(raw[:open]), `"`)
	address = raw[open+1 : len(raw)-1]
	return name, address
}

func splitAddressList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
