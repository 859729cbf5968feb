package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/agentid-dev/agentid-core/pkg/a2a"
)

// A2A returns the a2a.Store view of s.
func (s *Store) A2A() a2a.Store {
	return &authorizationStore{db: s.db}
}

type authorizationStore struct {
	db *sql.DB
}

const authorizationColumns = `id, requester_credential_id, grantor_credential_id, requested_permissions,
	scope, constraints, valid_from, valid_until, status, requester_signature, grantor_signature,
	response_message, revoke_reason, created_at, responded_at, revoked_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAuthorization(row rowScanner) (*a2a.Authorization, error) {
	var (
		a                                      a2a.Authorization
		perms                                  string
		constraints                            sql.NullString
		validFrom, validUntil, createdAt, stat string
		respondedAt, revokedAt                 sql.NullString
	)
	err := row.Scan(&a.ID, &a.RequesterCredentialID, &a.GrantorCredentialID, &perms,
		&a.Scope, &constraints, &validFrom, &validUntil, &stat, &a.RequesterSignature, &a.GrantorSignature,
		&a.ResponseMessage, &a.RevokeReason, &createdAt, &respondedAt, &revokedAt)
	if err != nil {
		return nil, err
	}
	a.Status = a2a.Status(stat)
	a.RequestedPermissions = []byte(perms)
	if constraints.Valid {
		a.Constraints = []byte(constraints.String)
	}
	if a.ValidFrom, err = parseTime(validFrom); err != nil {
		return nil, err
	}
	if a.ValidUntil, err = parseTime(validUntil); err != nil {
		return nil, err
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if a.RespondedAt, err = parseTimePtr(respondedAt); err != nil {
		return nil, err
	}
	if a.RevokedAt, err = parseTimePtr(revokedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *authorizationStore) Insert(ctx context.Context, a *a2a.Authorization) error {
	var constraints sql.NullString
	if len(a.Constraints) > 0 {
		constraints = sql.NullString{String: string(a.Constraints), Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO a2a_authorizations (`+authorizationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.RequesterCredentialID, a.GrantorCredentialID, string(a.RequestedPermissions),
		a.Scope, constraints, formatTime(a.ValidFrom), formatTime(a.ValidUntil), string(a.Status),
		a.RequesterSignature, a.GrantorSignature, a.ResponseMessage, a.RevokeReason,
		formatTime(a.CreatedAt), formatTimePtr(a.RespondedAt), formatTimePtr(a.RevokedAt))
	if err != nil {
		return fmt.Errorf("failed to insert authorization: %w", err)
	}
	return nil
}

func (r *authorizationStore) Get(ctx context.Context, id string) (*a2a.Authorization, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+authorizationColumns+` FROM a2a_authorizations WHERE id = ?`, id)
	a, err := scanAuthorization(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, a2a.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get authorization: %w", err)
	}
	return a, nil
}

func (r *authorizationStore) List(ctx context.Context, f a2a.ListFilter) ([]*a2a.Authorization, error) {
	var (
		where []string
		args  []any
	)
	if f.CredentialID != "" {
		switch f.Role {
		case a2a.RoleRequester:
			where = append(where, "requester_credential_id = ?")
			args = append(args, f.CredentialID)
		case a2a.RoleGrantor:
			where = append(where, "grantor_credential_id = ?")
			args = append(args, f.CredentialID)
		default:
			where = append(where, "(requester_credential_id = ? OR grantor_credential_id = ?)")
			args = append(args, f.CredentialID, f.CredentialID)
		}
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	query := `SELECT ` + authorizationColumns + ` FROM a2a_authorizations`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id ASC"
	query, args = pageClause(query, args, f.Limit, f.Offset)
	return r.query(ctx, query, args...)
}

func (r *authorizationStore) Transition(ctx context.Context, id string, from, to a2a.Status, p a2a.Patch) (*a2a.Authorization, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE a2a_authorizations SET
			status = ?,
			grantor_signature = CASE WHEN ? = '' THEN grantor_signature ELSE ? END,
			response_message = CASE WHEN ? = '' THEN response_message ELSE ? END,
			revoke_reason = CASE WHEN ? = '' THEN revoke_reason ELSE ? END,
			responded_at = COALESCE(?, responded_at),
			revoked_at = COALESCE(?, revoked_at)
		WHERE id = ? AND status = ?
	`, string(to),
		p.GrantorSignature, p.GrantorSignature,
		p.ResponseMessage, p.ResponseMessage,
		p.RevokeReason, p.RevokeReason,
		formatTimePtr(p.RespondedAt), formatTimePtr(p.RevokedAt),
		id, string(from))
	if err != nil {
		return nil, fmt.Errorf("failed to transition authorization: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return nil, err
		}
		return nil, a2a.ErrStatusConflict
	}
	return r.Get(ctx, id)
}

// ExpirePending claims overdue rows in one statement, so concurrent sweeps
// never report the same id.
func (r *authorizationStore) ExpirePending(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		UPDATE a2a_authorizations SET status = ?
		WHERE status = ? AND valid_until <= ?
		RETURNING id
	`, string(a2a.StatusExpired), string(a2a.StatusPending), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("failed to expire authorizations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *authorizationStore) FindActive(ctx context.Context, requesterID, grantorID string, now time.Time) ([]*a2a.Authorization, error) {
	return r.query(ctx, `
		SELECT `+authorizationColumns+` FROM a2a_authorizations
		WHERE requester_credential_id = ? AND grantor_credential_id = ? AND status = ? AND valid_until > ?
		ORDER BY created_at ASC
	`, requesterID, grantorID, string(a2a.StatusApproved), formatTime(now))
}

func (r *authorizationStore) query(ctx context.Context, query string, args ...any) ([]*a2a.Authorization, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query authorizations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*a2a.Authorization
	for rows.Next() {
		a, err := scanAuthorization(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan authorization: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
