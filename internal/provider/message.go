package provider

import (
	"bytes"
	"fmt"
	"io"
	netmail "net/mail"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
)

// BuildMessage renders an Outgoing into RFC 5322 wire format. Both
// the Gmail API sender and the SMTP sender submit the same bytes.
func BuildMessage(msg Outgoing, now time.Time) ([]byte, error) {
	if msg.From == "" {
		return nil, fmt.Errorf("message has no sender")
	}
	if len(msg.To) == 0 {
		return nil, fmt.Errorf("message has no recipients")
	}

	var h mail.Header
	h.SetDate(now)

	from, err := parseAddresses([]string{msg.From})
	if err != nil {
		return nil, fmt.Errorf("invalid From: %w", err)
	}
	h.SetAddressList("From", from)

	to, err := parseAddresses(msg.To)
	if err != nil {
		return nil, fmt.Errorf("invalid To: %w", err)
	}
	h.SetAddressList("To", to)

	if len(msg.Cc) > 0 {
		cc, err := parseAddresses(msg.Cc)
		if err != nil {
			return nil, fmt.Errorf("invalid Cc: %w", err)
		}
		h.SetAddressList("Cc", cc)
	}
	// Bcc recipients go on the envelope only, never in the headers.

	h.SetSubject(msg.Subject)
	if msg.InReplyTo != "" {
		h.SetMsgIDList("In-Reply-To", []string{trimMsgID(msg.InReplyTo)})
	}
	if msg.References != "" {
		var refs []string
		for _, ref := range strings.Fields(msg.References) {
			refs = append(refs, trimMsgID(ref))
		}
		h.SetMsgIDList("References", refs)
	}

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("creating message writer: %w", err)
	}

	tw, err := mw.CreateInline()
	if err != nil {
		return nil, fmt.Errorf("creating inline part: %w", err)
	}
	if err := writeInlinePart(tw, "text/plain", msg.BodyText); err != nil {
		return nil, err
	}
	if msg.BodyHTML != "" {
		if err := writeInlinePart(tw, "text/html", msg.BodyHTML); err != nil {
			return nil, err
		}
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("closing inline part: %w", err)
	}

	for _, att := range msg.Attachments {
		var ah mail.AttachmentHeader
		ah.SetFilename(att.Filename)
		mimeType := att.MimeType
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		ah.SetContentType(mimeType, nil)
		w, err := mw.CreateAttachment(ah)
		if err != nil {
			return nil, fmt.Errorf("creating attachment %s: %w", att.Filename, err)
		}
		if _, err := w.Write(att.Data); err != nil {
			return nil, fmt.Errorf("writing attachment %s: %w", att.Filename, err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("closing attachment %s: %w", att.Filename, err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("closing message: %w", err)
	}
	return buf.Bytes(), nil
}

func writeInlinePart(tw *mail.InlineWriter, mimeType, body string) error {
	var th mail.InlineHeader
	th.SetContentType(mimeType, map[string]string{"charset": "utf-8"})
	w, err := tw.CreatePart(th)
	if err != nil {
		return fmt.Errorf("creating %s part: %w", mimeType, err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		return fmt.Errorf("writing %s part: %w", mimeType, err)
	}
	return w.Close()
}

func parseAddresses(raw []string) ([]*mail.Address, error) {
	out := make([]*mail.Address, 0, len(raw))
	for _, r := range raw {
		addr, err := netmail.ParseAddress(r)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", r, err)
		}
		out = append(out, &mail.Address{Name: addr.Name, Address: addr.Address})
	}
	return out, nil
}

// trimMsgID strips the angle brackets IMAP envelopes carry;
// SetMsgIDList adds its own.
func trimMsgID(id string) string {
	return strings.TrimSuffix(strings.TrimPrefix(id, "<"), ">")
}

// ValidateAddresses rejects obviously malformed recipient lists
// before anything is sent.
func ValidateAddresses(raw []string) error {
	if len(raw) == 0 {
		return fmt.Errorf("no recipients")
	}
	_, err := parseAddresses(raw)
	return err
}
