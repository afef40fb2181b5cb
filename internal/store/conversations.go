// ABOUTME: Conversation persistence: create, pin, reorder pinned, move between spaces
// ABOUTME: Pinned conversations in each space always hold pinned_order values 1..k

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const conversationColumns = `id, title, model, provider_id, pinned, space_id, pinned_order, created_at, updated_at`

// ListConversations returns every conversation, most recently updated first.
// Callers filter by space.
func (s *SQLiteStore) ListConversations(ctx context.Context) ([]*Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		ORDER BY updated_at DESC, created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversation rows: %w", err)
	}
	return convs, nil
}

// GetConversation retrieves a conversation by ID.
// Returns ErrConversationNotFound if the conversation doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	return getConversation(ctx, s.db, id)
}

// CreateConversation creates an unpinned conversation. An empty SpaceID
// resolves to the default space.
func (s *SQLiteStore) CreateConversation(ctx context.Context, in ConversationInput) (*Conversation, error) {
	spaceID := strings.TrimSpace(in.SpaceID)
	if spaceID == "" {
		spaceID = DefaultSpaceID
	}

	id := uuid.New().String()
	var conv *Conversation
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		ok, err := spaceExists(ctx, tx, spaceID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrSpaceNotFound
		}

		now := s.timestamp()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO conversations (id, title, model, provider_id, pinned, space_id, pinned_order, created_at, updated_at)
			VALUES (?, ?, ?, ?, 0, ?, NULL, ?, ?)
		`, id, nullString(strings.TrimSpace(in.Title)), DefaultModel, DefaultProviderID, spaceID, now, now); err != nil {
			return fmt.Errorf("inserting conversation: %w", err)
		}

		conv, err = getConversation(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("created conversation", "id", id, "space_id", spaceID)
	return conv, nil
}

// PinConversation pins or unpins a conversation. Pinning appends to the end of
// the space's pinned list; unpinning closes the gap it leaves. Requesting the
// current state returns the row unchanged.
func (s *SQLiteStore) PinConversation(ctx context.Context, id string, pinned bool) (*Conversation, error) {
	if id == "" {
		return nil, ErrEmptyID
	}

	var conv *Conversation
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := getConversation(ctx, tx, id)
		if err != nil {
			return err
		}
		if current.Pinned == pinned {
			conv = current
			return nil
		}

		if pinned {
			err = pinAtEnd(ctx, tx, id, current.SpaceID)
		} else {
			err = unpinAndCompact(ctx, tx, id, current.SpaceID)
		}
		if err != nil {
			return err
		}

		conv, err = getConversation(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("set conversation pin", "id", id, "pinned", pinned, "pinned_order", conv.PinnedOrder)
	return conv, nil
}

// ReorderPinnedConversations assigns pinned_order = index+1 in the given order.
// orderedIDs must be exactly the set of pinned conversations in the space.
func (s *SQLiteStore) ReorderPinnedConversations(ctx context.Context, spaceID string, orderedIDs []string) error {
	if spaceID == "" {
		return ErrEmptyID
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		ok, err := spaceExists(ctx, tx, spaceID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrSpaceNotFound
		}

		current, err := queryIDs(ctx, tx,
			`SELECT id FROM conversations WHERE space_id = ? AND pinned = 1`, spaceID)
		if err != nil {
			return fmt.Errorf("querying pinned conversations: %w", err)
		}
		if err := ValidateIDSet(current, orderedIDs); err != nil {
			return err
		}

		for i, id := range orderedIDs {
			if _, err := tx.ExecContext(ctx,
				`UPDATE conversations SET pinned_order = ? WHERE id = ?`, i+1, id,
			); err != nil {
				return fmt.Errorf("updating pinned order for conversation %s: %w", id, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug("reordered pinned conversations", "space_id", spaceID, "count", len(orderedIDs))
	return nil
}

// MoveConversationToSpace reassigns a conversation to another space. A pinned
// conversation stays pinned: it leaves a compacted list behind and joins the
// end of the target space's pinned list.
func (s *SQLiteStore) MoveConversationToSpace(ctx context.Context, id, spaceID string) (*Conversation, error) {
	if id == "" || spaceID == "" {
		return nil, ErrEmptyID
	}

	var conv *Conversation
	moved := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := getConversation(ctx, tx, id)
		if err != nil {
			return err
		}
		if current.SpaceID == spaceID {
			conv = current
			return nil
		}

		ok, err := spaceExists(ctx, tx, spaceID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrSpaceNotFound
		}

		if current.Pinned {
			if err := unpinAndCompact(ctx, tx, id, current.SpaceID); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE conversations SET space_id = ? WHERE id = ?`, spaceID, id,
		); err != nil {
			return fmt.Errorf("moving conversation: %w", err)
		}
		if current.Pinned {
			if err := pinAtEnd(ctx, tx, id, spaceID); err != nil {
				return err
			}
		}

		moved = true
		conv, err = getConversation(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	if moved {
		s.logger.Debug("moved conversation", "id", id, "space_id", spaceID, "pinned", conv.Pinned)
	}
	return conv, nil
}

// TouchConversation bumps updated_at. A non-empty model also overwrites the
// conversation's model and re-stamps the provider id.
func (s *SQLiteStore) TouchConversation(ctx context.Context, id, model string) error {
	if id == "" {
		return ErrEmptyID
	}
	model = strings.TrimSpace(model)

	return s.withTx(ctx, func(tx *sql.Tx) error {
		var (
			result sql.Result
			err    error
		)
		if model != "" {
			result, err = tx.ExecContext(ctx, `
				UPDATE conversations SET updated_at = ?, model = ?, provider_id = ? WHERE id = ?
			`, s.timestamp(), model, DefaultProviderID, id)
		} else {
			result, err = tx.ExecContext(ctx,
				`UPDATE conversations SET updated_at = ? WHERE id = ?`, s.timestamp(), id)
		}
		if err != nil {
			return fmt.Errorf("touching conversation: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("getting rows affected: %w", err)
		}
		if n == 0 {
			return ErrConversationNotFound
		}
		return nil
	})
}

// pinAtEnd pins id with pinned_order = max+1 among the pinned rows of spaceID.
func pinAtEnd(ctx context.Context, tx *sql.Tx, id, spaceID string) error {
	var next int
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(COALESCE(pinned_order, 0)), 0) + 1
		FROM conversations
		WHERE space_id = ? AND pinned = 1 AND id != ?
	`, spaceID, id).Scan(&next); err != nil {
		return fmt.Errorf("computing pinned order: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET pinned = 1, pinned_order = ? WHERE id = ?`, next, id,
	); err != nil {
		return fmt.Errorf("pinning conversation: %w", err)
	}
	return nil
}

// unpinAndCompact clears the pin on id and renumbers the remaining pinned rows
// of spaceID to 1..k without changing their relative order.
func unpinAndCompact(ctx context.Context, tx *sql.Tx, id, spaceID string) error {
	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET pinned = 0, pinned_order = NULL WHERE id = ?`, id,
	); err != nil {
		return fmt.Errorf("unpinning conversation: %w", err)
	}

	remaining, err := queryIDs(ctx, tx, `
		SELECT id FROM conversations
		WHERE space_id = ? AND pinned = 1
		ORDER BY pinned_order IS NULL, pinned_order ASC, updated_at DESC, created_at DESC, id ASC
	`, spaceID)
	if err != nil {
		return fmt.Errorf("querying pinned conversations: %w", err)
	}

	for i, rid := range remaining {
		if _, err := tx.ExecContext(ctx,
			`UPDATE conversations SET pinned_order = ? WHERE id = ?`, i+1, rid,
		); err != nil {
			return fmt.Errorf("compacting pinned order for conversation %s: %w", rid, err)
		}
	}
	return nil
}

func getConversation(ctx context.Context, q queryer, id string) (*Conversation, error) {
	row := q.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	conv, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, ErrConversationNotFound
	}
	return conv, err
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var conv Conversation
	var title sql.NullString
	var pinned int
	var pinnedOrder sql.NullInt64
	var createdAt, updatedAt string

	if err := row.Scan(
		&conv.ID,
		&title,
		&conv.Model,
		&conv.ProviderID,
		&pinned,
		&conv.SpaceID,
		&pinnedOrder,
		&createdAt,
		&updatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scanning conversation: %w", err)
	}

	conv.Title = stringPtr(title)
	conv.Pinned = pinned == 1
	conv.PinnedOrder = intPtr(pinnedOrder)

	var err error
	if conv.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if conv.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &conv, nil
}
