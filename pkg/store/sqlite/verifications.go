package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/agentid-dev/agentid-core/pkg/credential"
)

// RecordVerification implements credential.VerificationLog.
func (s *Store) RecordVerification(ctx context.Context, e credential.LogEntry) error {
	var granted sql.NullBool
	if e.Granted != nil {
		granted = sql.NullBool{Bool: *e.Granted, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO verification_logs (id, credential_id, valid, code, action, granted, duration_ms, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.CredentialID, e.Valid, e.Code, e.Action, granted, e.DurationMs, formatTime(e.Timestamp))
	if err != nil {
		return fmt.Errorf("failed to record verification: %w", err)
	}
	return nil
}

// Verifications returns the newest log entries for a credential. An empty
// credentialID lists all entries.
func (s *Store) Verifications(ctx context.Context, credentialID string, limit int) ([]credential.LogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, credential_id, valid, code, action, granted, duration_ms, ts FROM verification_logs`
	args := []any{}
	if credentialID != "" {
		query += ` WHERE credential_id = ?`
		args = append(args, credentialID)
	}
	query += ` ORDER BY ts DESC, id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query verifications: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []credential.LogEntry
	for rows.Next() {
		var (
			e       credential.LogEntry
			granted sql.NullBool
			ts      string
		)
		if err := rows.Scan(&e.ID, &e.CredentialID, &e.Valid, &e.Code, &e.Action, &granted, &e.DurationMs, &ts); err != nil {
			return nil, err
		}
		if granted.Valid {
			g := granted.Bool
			e.Granted = &g
		}
		if e.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
