package imap

import (
	"bytes"
	"io"
	"strings"

	"github.com/emersion/go-message/mail"
)

type attachmentPart struct {
	Filename string
	MimeType string
	Data     []byte
}

// parseBody parses a raw RFC 5322 message with go-message and
// extracts the text/plain body, text/html body, and attachments.
func parseBody(raw []byte) (textBody, htmlBody string, attachments []attachmentPart) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		// If parsing fails, treat the whole thing as plain text.
		return string(raw), "", nil
	}
	defer mr.Close()

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := h.ContentType()
			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}
			switch {
			case strings.HasPrefix(contentType, "text/plain"):
				textBody = string(body)
			case strings.HasPrefix(contentType, "text/html"):
				htmlBody = string(body)
			}

		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			contentType, _, _ := h.ContentType()
			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}
			attachments = append(attachments, attachmentPart{
				Filename: filename,
				MimeType: contentType,
				Data:     body,
			})
		}
	}

	return textBody, htmlBody, attachments
}
