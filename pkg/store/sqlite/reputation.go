package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/agentid-dev/agentid-core/pkg/reputation"
)

// Reputation returns the reputation.Store view of s.
func (s *Store) Reputation() reputation.Store {
	return &reputationStore{db: s.db}
}

type reputationStore struct {
	db *sql.DB
}

func (r *reputationStore) Get(ctx context.Context, credentialID string) (*reputation.Record, error) {
	var data string
	err := r.db.QueryRowContext(ctx, `SELECT record FROM reputation_records WHERE credential_id = ?`, credentialID).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, reputation.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get reputation: %w", err)
	}
	var rec reputation.Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("failed to decode reputation: %w", err)
	}
	return &rec, nil
}

func (r *reputationStore) Save(ctx context.Context, rec *reputation.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode reputation: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO reputation_records (credential_id, issuer_id, trust_score, updated_at, record)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(credential_id) DO UPDATE SET
			issuer_id = excluded.issuer_id,
			trust_score = excluded.trust_score,
			updated_at = excluded.updated_at,
			record = excluded.record
	`, rec.CredentialID, rec.IssuerID, rec.TrustScore, formatTime(rec.UpdatedAt), string(data))
	if err != nil {
		return fmt.Errorf("failed to save reputation: %w", err)
	}
	return nil
}

func (r *reputationStore) ListByIssuer(ctx context.Context, issuerID string) ([]*reputation.Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT record FROM reputation_records WHERE issuer_id = ? ORDER BY credential_id
	`, issuerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list reputation: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*reputation.Record
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var rec reputation.Record
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, fmt.Errorf("failed to decode reputation: %w", err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}
