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

// Conversations returns the a2a.ConversationStore view of s.
func (s *Store) Conversations() a2a.ConversationStore {
	return &conversationStore{db: s.db}
}

type conversationStore struct {
	db *sql.DB
}

const conversationColumns = `id, initiator_credential_id, recipient_credential_id, subject, status,
	encrypted, message_count, last_message_at, created_at, updated_at`

const messageColumns = `id, conversation_id, seq, sender_credential_id, message_type, content,
	signature, signature_timestamp, nonce, reply_to_id, created_at`

func scanConversation(row rowScanner) (*a2a.Conversation, error) {
	var (
		c                    a2a.Conversation
		stat                 string
		createdAt, updatedAt string
		lastMessageAt        sql.NullString
	)
	err := row.Scan(&c.ID, &c.InitiatorCredentialID, &c.RecipientCredentialID, &c.Subject, &stat,
		&c.Encrypted, &c.MessageCount, &lastMessageAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	c.Status = a2a.ConversationStatus(stat)
	if c.LastMessageAt, err = parseTimePtr(lastMessageAt); err != nil {
		return nil, err
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func scanMessage(row rowScanner) (*a2a.Message, error) {
	var (
		m                a2a.Message
		typ, content, at string
	)
	err := row.Scan(&m.ID, &m.ConversationID, &m.Seq, &m.SenderCredentialID, &typ, &content,
		&m.Signature, &m.SignatureTimestamp, &m.Nonce, &m.ReplyToID, &at)
	if err != nil {
		return nil, err
	}
	m.MessageType = a2a.MessageType(typ)
	m.Content = []byte(content)
	if m.CreatedAt, err = parseTime(at); err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *conversationStore) InsertConversation(ctx context.Context, c *a2a.Conversation) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO a2a_conversations (`+conversationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.InitiatorCredentialID, c.RecipientCredentialID, c.Subject, string(c.Status),
		c.Encrypted, c.MessageCount, formatTimePtr(c.LastMessageAt),
		formatTime(c.CreatedAt), formatTime(c.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert conversation: %w", err)
	}
	return nil
}

func (r *conversationStore) GetConversation(ctx context.Context, id string) (*a2a.Conversation, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM a2a_conversations WHERE id = ?`, id)
	c, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, a2a.ErrConversationNotFound
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return c, nil
}

func (r *conversationStore) ListConversations(ctx context.Context, f a2a.ConversationFilter) ([]*a2a.Conversation, int, error) {
	var (
		where []string
		args  []any
	)
	if f.CredentialID != "" {
		where = append(where, "(initiator_credential_id = ? OR recipient_credential_id = ?)")
		args = append(args, f.CredentialID, f.CredentialID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM a2a_conversations`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count conversations: %w", err)
	}

	query := `SELECT ` + conversationColumns + ` FROM a2a_conversations` + clause +
		` ORDER BY updated_at DESC, id ASC`
	query, args = pageClause(query, args, f.Limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*a2a.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan conversation: %w", err)
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

func (r *conversationStore) SetConversationStatus(ctx context.Context, id string, from, to a2a.ConversationStatus, at time.Time) (*a2a.Conversation, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE a2a_conversations SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(to), formatTime(at), id, string(from))
	if err != nil {
		return nil, fmt.Errorf("failed to update conversation: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		if _, err := r.GetConversation(ctx, id); err != nil {
			return nil, err
		}
		return nil, a2a.ErrStatusConflict
	}
	return r.GetConversation(ctx, id)
}

// AppendMessage checks the conversation and nonce and writes the message in
// one transaction. The store holds a single connection, so appends to the
// same conversation are serialized and seq stays dense.
func (r *conversationStore) AppendMessage(ctx context.Context, m *a2a.Message) (*a2a.Message, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		stat  string
		count int
	)
	err = tx.QueryRowContext(ctx, `SELECT status, message_count FROM a2a_conversations WHERE id = ?`, m.ConversationID).
		Scan(&stat, &count)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, a2a.ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	if a2a.ConversationStatus(stat) != a2a.ConversationActive {
		return nil, a2a.ErrConversationInactive
	}

	var used int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM a2a_messages WHERE conversation_id = ? AND nonce = ?`,
		m.ConversationID, m.Nonce).Scan(&used)
	if err != nil {
		return nil, fmt.Errorf("failed to check nonce: %w", err)
	}
	if used > 0 {
		return nil, a2a.ErrDuplicateNonce
	}

	stored := m.Clone()
	stored.Seq = count + 1
	_, err = tx.ExecContext(ctx, `
		INSERT INTO a2a_messages (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, stored.ID, stored.ConversationID, stored.Seq, stored.SenderCredentialID, string(stored.MessageType),
		string(stored.Content), stored.Signature, stored.SignatureTimestamp, stored.Nonce, stored.ReplyToID,
		formatTime(stored.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}
	at := formatTime(stored.CreatedAt)
	_, err = tx.ExecContext(ctx, `
		UPDATE a2a_conversations SET message_count = ?, last_message_at = ?, updated_at = ?
		WHERE id = ?
	`, stored.Seq, at, at, stored.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to update conversation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit message: %w", err)
	}
	return stored, nil
}

func (r *conversationStore) GetMessage(ctx context.Context, id string) (*a2a.Message, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM a2a_messages WHERE id = ?`, id)
	m, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, a2a.ErrMessageNotFound
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return m, nil
}

func (r *conversationStore) ListMessages(ctx context.Context, conversationID string, f a2a.MessageFilter) ([]*a2a.Message, error) {
	after := 0
	if f.After != "" {
		ref, err := r.GetMessage(ctx, f.After)
		if err != nil {
			return nil, err
		}
		if ref.ConversationID != conversationID {
			return nil, a2a.ErrMessageNotFound
		}
		after = ref.Seq
	}

	query, args := pageClause(`SELECT `+messageColumns+` FROM a2a_messages
		WHERE conversation_id = ? AND seq > ?
		ORDER BY seq ASC`, []any{conversationID, after}, f.Limit, f.Offset)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*a2a.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// pageClause appends LIMIT and OFFSET. SQLite needs a LIMIT before OFFSET,
// so -1 stands in for no limit.
func pageClause(query string, args []any, limit, offset int) (string, []any) {
	switch {
	case limit > 0:
		query += " LIMIT ?"
		args = append(args, limit)
	case offset > 0:
		query += " LIMIT -1"
	}
	if offset > 0 {
		query += " OFFSET ?"
		args = append(args, offset)
	}
	return query, args
}
