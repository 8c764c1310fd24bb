package store

type migration struct {
	version int
	sql     string
}

// migrations are applied in order; never edit an entry once released,
// append a new one instead.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE credentials (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	user_email      TEXT NOT NULL UNIQUE,
	auth_type       TEXT NOT NULL CHECK (auth_type IN ('oauth', 'app_password', 'zoho')),
	encrypted_token TEXT NOT NULL,
	access_token    TEXT NOT NULL DEFAULT '',
	token_expiry    DATETIME,
	created_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE emails (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	user_email      TEXT NOT NULL,
	message_id      TEXT NOT NULL,
	thread_id       TEXT NOT NULL DEFAULT '',
	from_address    TEXT NOT NULL DEFAULT '',
	from_name       TEXT NOT NULL DEFAULT '',
	to_addresses    TEXT NOT NULL DEFAULT '[]',
	cc_addresses    TEXT NOT NULL DEFAULT '[]',
	subject         TEXT NOT NULL DEFAULT '',
	body_text       TEXT NOT NULL DEFAULT '',
	body_html       TEXT NOT NULL DEFAULT '',
	date_received   DATETIME,
	is_read         INTEGER NOT NULL DEFAULT 0,
	labels          TEXT NOT NULL DEFAULT '[]',
	has_attachments INTEGER NOT NULL DEFAULT 0,
	attachments     TEXT NOT NULL DEFAULT '[]',
	folder          TEXT NOT NULL DEFAULT 'inbox',
	synced_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	created_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (user_email, message_id)
);

CREATE INDEX idx_emails_user_folder ON emails (user_email, folder, date_received DESC);
CREATE INDEX idx_emails_user_read ON emails (user_email, is_read);
CREATE INDEX idx_emails_thread ON emails (user_email, thread_id);
`,
	},
	{
		version: 3,
		sql: `
CREATE TABLE calendar_events (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	user_email   TEXT NOT NULL,
	event_id     TEXT NOT NULL,
	calendar_id  TEXT NOT NULL DEFAULT 'primary',
	title        TEXT NOT NULL DEFAULT '',
	description  TEXT NOT NULL DEFAULT '',
	location     TEXT NOT NULL DEFAULT '',
	start_time   DATETIME NOT NULL,
	end_time     DATETIME NOT NULL,
	all_day      INTEGER NOT NULL DEFAULT 0,
	attendees    TEXT NOT NULL DEFAULT '[]',
	meeting_link TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT 'confirmed',
	synced_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (user_email, event_id)
);

CREATE INDEX idx_events_user_start ON calendar_events (user_email, start_time);
`,
	},
	{
		version: 4,
		sql: `
CREATE TABLE sync_state (
	user_email TEXT NOT NULL,
	kind       TEXT NOT NULL CHECK (kind IN ('email', 'calendar')),
	last_sync  DATETIME NOT NULL,
	UNIQUE (user_email, kind)
);
`,
	},
}
