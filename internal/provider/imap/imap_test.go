package imap

import (
	"strings"
	"testing"
	"time"

	"github.com/mailbox-cli/mailbox/internal/model"
	"github.com/mailbox-cli/mailbox/internal/provider"
)

func TestFolderNames(t *testing.T) {
	gmailClient := &Client{gmail: true}
	standardClient := &Client{}

	cases := []struct {
		folder   model.Folder
		gmail    string
		standard string
	}{
		{model.FolderInbox, "INBOX", "INBOX"},
		{model.FolderSent, "[Gmail]/Sent Mail", "Sent"},
		{model.FolderDrafts, "[Gmail]/Drafts", "Drafts"},
		{model.FolderSpam, "[Gmail]/Spam", "Spam"},
		{model.FolderTrash, "[Gmail]/Trash", "Trash"},
		{model.FolderAll, "[Gmail]/All Mail", "INBOX"},
	}
	for _, tc := range cases {
		got, err := gmailClient.folderName(tc.folder)
		if err != nil || got != tc.gmail {
			t.Errorf("gmail folderName(%q) = %q, %v; want %q", tc.folder, got, err, tc.gmail)
		}
		got, err = standardClient.folderName(tc.folder)
		if err != nil || got != tc.standard {
			t.Errorf("standard folderName(%q) = %q, %v; want %q", tc.folder, got, err, tc.standard)
		}
	}

	if _, err := gmailClient.folderName(model.Folder("bogus")); err == nil {
		t.Error("unknown folder accepted")
	}
}

func TestTrimMsgID(t *testing.T) {
	cases := map[string]string{
		"<abc@mail.example.com>": "abc@mail.example.com",
		"abc@mail.example.com":   "abc@mail.example.com",
		" <abc@x> ":              "abc@x",
		"":                       "",
	}
	for in, want := range cases {
		if got := trimMsgID(in); got != want {
			t.Errorf("trimMsgID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseBodyMultipart(t *testing.T) {
	// Round-trip through the shared builder so the fixture stays valid
	// MIME.
	raw, err := provider.BuildMessage(provider.Outgoing{
		From:     "alice@example.com",
		To:       []string{"bob@example.com"},
		Subject:  "fixture",
		BodyText: "the plain part",
		BodyHTML: "<p>the html part</p>",
		Attachments: []provider.OutgoingAttachment{
			{Filename: "notes.txt", MimeType: "text/plain", Data: []byte("attached content")},
		},
	}, time.Now())
	if err != nil {
		t.Fatalf("building fixture: %v", err)
	}

	text, html, atts := parseBody(raw)
	if !strings.Contains(text, "the plain part") {
		t.Errorf("text = %q", text)
	}
	if !strings.Contains(html, "the html part") {
		t.Errorf("html = %q", html)
	}
	if len(atts) != 1 {
		t.Fatalf("attachments = %d, want 1", len(atts))
	}
	if atts[0].Filename != "notes.txt" || string(atts[0].Data) != "attached content" {
		t.Errorf("attachment = %+v", atts[0])
	}
}

func TestParseBodyFallsBackToPlainText(t *testing.T) {
	text, html, atts := parseBody([]byte("not a mime message at all"))
	if text != "not a mime message at all" || html != "" || atts != nil {
		t.Errorf("fallback parse = %q / %q / %v", text, html, atts)
	}
}
