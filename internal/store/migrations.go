package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS mailbox_accounts (
	id                   INTEGER PRIMARY KEY AUTOINCREMENT,
	name                 TEXT NOT NULL UNIQUE,
	host                 TEXT NOT NULL,
	port                 INTEGER NOT NULL DEFAULT 993,
	encryption           TEXT NOT NULL DEFAULT 'ssl' CHECK(encryption IN ('ssl', 'tls', 'none')),
	validate_cert        INTEGER NOT NULL DEFAULT 1 CHECK(validate_cert IN (0, 1)),
	username             TEXT NOT NULL,
	password             TEXT NOT NULL DEFAULT '',
	folder               TEXT NOT NULL DEFAULT 'INBOX',
	is_active            INTEGER NOT NULL DEFAULT 1 CHECK(is_active IN (0, 1)),
	delete_after_archive INTEGER NOT NULL DEFAULT 0 CHECK(delete_after_archive IN (0, 1)),
	sync_interval        TEXT NOT NULL DEFAULT 'hourly',
	last_sync_at         DATETIME,
	last_fetch_at        DATETIME,
	total_emails         INTEGER NOT NULL DEFAULT 0,
	total_size_bytes     INTEGER NOT NULL DEFAULT 0,
	created_at           DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at           DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS emails (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	message_id         TEXT NOT NULL UNIQUE,
	in_reply_to        TEXT,
	refs               TEXT,
	from_address       TEXT NOT NULL DEFAULT '',
	from_name          TEXT,
	to_addresses       TEXT,
	cc_addresses       TEXT,
	bcc_addresses      TEXT,
	subject            TEXT NOT NULL DEFAULT '',
	body_text          TEXT,
	body_html          TEXT,
	headers            TEXT NOT NULL DEFAULT '[]',
	received_at        DATETIME NOT NULL,
	archived_at        DATETIME,
	size_bytes         INTEGER NOT NULL,
	hash               TEXT NOT NULL,
	is_compressed      INTEGER NOT NULL DEFAULT 0 CHECK(is_compressed IN (0, 1)),
	raw_email          BLOB NOT NULL,
	has_attachments    INTEGER NOT NULL DEFAULT 0 CHECK(has_attachments IN (0, 1)),
	role               TEXT CHECK(role IS NULL OR role IN ('sender', 'recipient')),
	mailbox_account_id INTEGER REFERENCES mailbox_accounts(id) ON DELETE SET NULL,
	created_at         DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_emails_hash_role ON emails(hash, COALESCE(role, ''));
CREATE INDEX IF NOT EXISTS idx_emails_received_at ON emails(received_at, id);
CREATE INDEX IF NOT EXISTS idx_emails_from_address ON emails(from_address, received_at);
CREATE INDEX IF NOT EXISTS idx_emails_account ON emails(mailbox_account_id);

-- Archived content never changes; only the mailbox association may be set.
CREATE TRIGGER IF NOT EXISTS emails_immutable
BEFORE UPDATE OF message_id, from_address, subject, body_text, body_html, headers,
	received_at, size_bytes, hash, is_compressed, raw_email, role ON emails
BEGIN
	SELECT RAISE(ABORT, 'archived emails are immutable');
END;

CREATE TABLE IF NOT EXISTS attachments (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	email_id        INTEGER NOT NULL REFERENCES emails(id) ON DELETE CASCADE,
	filename        TEXT NOT NULL,
	mime_type       TEXT NOT NULL,
	size_bytes      INTEGER NOT NULL,
	hash            TEXT NOT NULL,
	is_compressed   INTEGER NOT NULL DEFAULT 0 CHECK(is_compressed IN (0, 1)),
	reference_count INTEGER NOT NULL DEFAULT 1 CHECK(reference_count >= 0),
	storage_path    TEXT NOT NULL,
	storage_disk    TEXT NOT NULL DEFAULT 'local',
	content_id      TEXT,
	is_inline       INTEGER NOT NULL DEFAULT 0 CHECK(is_inline IN (0, 1)),
	extracted_text  TEXT,
	created_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_attachments_hash ON attachments(hash, id);
CREATE INDEX IF NOT EXISTS idx_attachments_email ON attachments(email_id, filename);

CREATE TABLE IF NOT EXISTS audit_logs (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	auditable_type TEXT NOT NULL CHECK(auditable_type IN ('email', 'attachment', 'mailbox_account')),
	auditable_id   INTEGER NOT NULL,
	user_id        INTEGER,
	action         TEXT NOT NULL,
	description    TEXT NOT NULL DEFAULT '',
	ip_address     TEXT NOT NULL DEFAULT '',
	user_agent     TEXT NOT NULL DEFAULT '',
	metadata       TEXT,
	created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_audit_logs_subject ON audit_logs(auditable_type, auditable_id);

CREATE TRIGGER IF NOT EXISTS audit_logs_no_update
BEFORE UPDATE ON audit_logs
BEGIN
	SELECT RAISE(ABORT, 'audit log is append-only');
END;

CREATE TRIGGER IF NOT EXISTS audit_logs_no_delete
BEFORE DELETE ON audit_logs
BEGIN
	SELECT RAISE(ABORT, 'audit log is append-only');
END;

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
