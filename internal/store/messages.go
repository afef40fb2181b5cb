// ABOUTME: Append-only message persistence
// ABOUTME: Messages list in insertion order when created_at values collide

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ListMessagesByConversation returns the messages of a conversation oldest
// first. rowid breaks ties between messages written in the same millisecond.
func (s *SQLiteStore) ListMessagesByConversation(ctx context.Context, conversationID string) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, model, tokens_used, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, rowid ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var msg Message
		var role string
		var model sql.NullString
		var tokens sql.NullInt64
		var createdAt string

		if err := rows.Scan(
			&msg.ID,
			&msg.ConversationID,
			&role,
			&msg.Content,
			&model,
			&tokens,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}

		msg.Role = Role(role)
		msg.Model = stringPtr(model)
		msg.TokensUsed = intPtr(tokens)
		if msg.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}
	return messages, nil
}

// InsertMessage appends a message. Content is stored trimmed and must not be
// blank. The conversation is not looked up first; a dangling id fails on the
// foreign key.
func (s *SQLiteStore) InsertMessage(ctx context.Context, in MessageInput) (*Message, error) {
	if in.ConversationID == "" {
		return nil, ErrEmptyID
	}
	if !in.Role.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, in.Role)
	}
	content, err := ValidateMessageContent(in.Content)
	if err != nil {
		return nil, err
	}

	msg := &Message{
		ID:             uuid.New().String(),
		ConversationID: in.ConversationID,
		Role:           in.Role,
		Content:        content,
		TokensUsed:     in.TokensUsed,
	}
	if model := strings.TrimSpace(in.Model); model != "" {
		msg.Model = &model
	}

	now := s.now()
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var tokens any
		if in.TokensUsed != nil {
			tokens = *in.TokensUsed
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO messages (id, conversation_id, role, content, model, tokens_used, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, msg.ID, msg.ConversationID, string(msg.Role), msg.Content, nullString(strings.TrimSpace(in.Model)), tokens, formatTime(now))
		if err != nil {
			return fmt.Errorf("inserting message: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Round-trip through the stored precision so callers see what List returns
	msg.CreatedAt, _ = parseTime(formatTime(now))
	s.logger.Debug("inserted message", "id", msg.ID, "conversation_id", msg.ConversationID, "role", msg.Role)
	return msg, nil
}
