package imap

import (
	"fmt"

	"github.com/mailbox-cli/mailbox/internal/model"
)

// gmailFolderNames maps neutral folders to Gmail's IMAP namespace.
var gmailFolderNames = map[model.Folder]string{
	model.FolderInbox:  "INBOX",
	model.FolderSent:   "[Gmail]/Sent Mail",
	model.FolderDrafts: "[Gmail]/Drafts",
	model.FolderSpam:   "[Gmail]/Spam",
	model.FolderTrash:  "[Gmail]/Trash",
	model.FolderAll:    "[Gmail]/All Mail",
}

// standardFolderNames is the conventional layout used by Zoho and
// most other IMAP servers.
var standardFolderNames = map[model.Folder]string{
	model.FolderInbox:  "INBOX",
	model.FolderSent:   "Sent",
	model.FolderDrafts: "Drafts",
	model.FolderSpam:   "Spam",
	model.FolderTrash:  "Trash",
	model.FolderAll:    "INBOX",
}

func (c *Client) folderName(folder model.Folder) (string, error) {
	names := standardFolderNames
	if c.gmail {
		names = gmailFolderNames
	}
	name, ok := names[folder]
	if !ok {
		return "", fmt.Errorf("no IMAP folder for %q", folder)
	}
	return name, nil
}
