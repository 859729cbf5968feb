// Package sqlite persists A2A authorizations and conversations, reputation
// records and the verification log in a single SQLite database.
package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// timeLayout is fixed width so stored UTC timestamps compare as strings.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store manages the SQLite connection and schema.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path. It enables WAL mode and
// serializes writers through a single connection.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("schema migration failed: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS a2a_authorizations (
		id TEXT PRIMARY KEY,
		requester_credential_id TEXT NOT NULL,
		grantor_credential_id TEXT NOT NULL,
		requested_permissions TEXT NOT NULL,
		scope TEXT NOT NULL DEFAULT '',
		constraints TEXT,
		valid_from TEXT NOT NULL,
		valid_until TEXT NOT NULL,
		status TEXT NOT NULL,
		requester_signature TEXT NOT NULL,
		grantor_signature TEXT NOT NULL DEFAULT '',
		response_message TEXT NOT NULL DEFAULT '',
		revoke_reason TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		responded_at TEXT,
		revoked_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_a2a_pair ON a2a_authorizations(requester_credential_id, grantor_credential_id, status);
	CREATE INDEX IF NOT EXISTS idx_a2a_pending ON a2a_authorizations(status, valid_until);

	CREATE TABLE IF NOT EXISTS a2a_conversations (
		id TEXT PRIMARY KEY,
		initiator_credential_id TEXT NOT NULL,
		recipient_credential_id TEXT NOT NULL,
		subject TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		encrypted INTEGER NOT NULL DEFAULT 0,
		message_count INTEGER NOT NULL DEFAULT 0,
		last_message_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_a2a_conversations_initiator ON a2a_conversations(initiator_credential_id, status);
	CREATE INDEX IF NOT EXISTS idx_a2a_conversations_recipient ON a2a_conversations(recipient_credential_id, status);

	CREATE TABLE IF NOT EXISTS a2a_messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL REFERENCES a2a_conversations(id),
		seq INTEGER NOT NULL,
		sender_credential_id TEXT NOT NULL,
		message_type TEXT NOT NULL,
		content TEXT NOT NULL,
		signature TEXT NOT NULL,
		signature_timestamp INTEGER NOT NULL,
		nonce TEXT NOT NULL,
		reply_to_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		UNIQUE (conversation_id, seq),
		UNIQUE (conversation_id, nonce)
	);

	CREATE TABLE IF NOT EXISTS reputation_records (
		credential_id TEXT PRIMARY KEY,
		issuer_id TEXT NOT NULL,
		trust_score REAL NOT NULL,
		updated_at TEXT NOT NULL,
		record TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_reputation_issuer ON reputation_records(issuer_id);

	CREATE TABLE IF NOT EXISTS verification_logs (
		id TEXT PRIMARY KEY,
		credential_id TEXT NOT NULL DEFAULT '',
		valid INTEGER NOT NULL,
		code TEXT NOT NULL DEFAULT '',
		action TEXT NOT NULL DEFAULT '',
		granted INTEGER,
		duration_ms REAL NOT NULL,
		ts TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_verification_logs_credential ON verification_logs(credential_id, ts);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
