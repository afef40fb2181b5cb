// ABOUTME: Space persistence: create, update, reorder and list
// ABOUTME: Keeps sort_order a dense 0..N-1 permutation across all spaces

package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

const spaceColumns = `id, name, color, icon, sort_order, is_default, created_at, updated_at`

// ListSpaces returns all spaces ordered by sort order, oldest first on ties.
func (s *SQLiteStore) ListSpaces(ctx context.Context) ([]*Space, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+spaceColumns+`
		FROM spaces
		ORDER BY sort_order ASC, created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying spaces: %w", err)
	}
	defer rows.Close()

	var spaces []*Space
	for rows.Next() {
		space, err := scanSpace(rows)
		if err != nil {
			return nil, err
		}
		spaces = append(spaces, space)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating space rows: %w", err)
	}
	return spaces, nil
}

// GetSpace retrieves a space by ID.
// Returns ErrSpaceNotFound if the space doesn't exist.
func (s *SQLiteStore) GetSpace(ctx context.Context, id string) (*Space, error) {
	return getSpace(ctx, s.db, id)
}

// CreateSpace appends a new non-default space at the end of the sort order.
func (s *SQLiteStore) CreateSpace(ctx context.Context, in SpaceInput) (*Space, error) {
	name, err := ValidateSpaceName(in.Name)
	if err != nil {
		return nil, err
	}
	color, err := validateAttribute("color", in.Color)
	if err != nil {
		return nil, err
	}
	icon, err := validateAttribute("icon", in.Icon)
	if err != nil {
		return nil, err
	}

	id := uuid.New().String()
	var space *Space
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var next int
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(sort_order), -1) + 1 FROM spaces`,
		).Scan(&next); err != nil {
			return fmt.Errorf("computing sort order: %w", err)
		}

		now := s.timestamp()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO spaces (id, name, color, icon, sort_order, is_default, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, 0, ?, ?)
		`, id, name, color, icon, next, now, now); err != nil {
			return fmt.Errorf("inserting space: %w", err)
		}

		space, err = getSpace(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("created space", "id", id, "sort_order", space.SortOrder)
	return space, nil
}

// UpdateSpace applies a partial update to a space.
// Returns ErrNoUpdateFields when upd is empty and ErrSpaceNotFound when the
// space doesn't exist.
func (s *SQLiteStore) UpdateSpace(ctx context.Context, id string, upd SpaceUpdate) (*Space, error) {
	if id == "" {
		return nil, ErrEmptyID
	}
	if upd.Empty() {
		return nil, ErrNoUpdateFields
	}

	sets := []string{}
	args := []any{}
	if upd.Name != nil {
		name, err := ValidateSpaceName(*upd.Name)
		if err != nil {
			return nil, err
		}
		sets = append(sets, "name = ?")
		args = append(args, name)
	}
	for _, f := range []struct {
		column string
		value  *sql.NullString
	}{
		{"color", upd.Color},
		{"icon", upd.Icon},
	} {
		if f.value == nil {
			continue
		}
		if !f.value.Valid {
			sets = append(sets, f.column+" = NULL")
			continue
		}
		v, err := validateAttribute(f.column, &f.value.String)
		if err != nil {
			return nil, err
		}
		sets = append(sets, f.column+" = ?")
		args = append(args, *v)
	}

	var space *Space
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		query := "UPDATE spaces SET "
		for _, set := range sets {
			query += set + ", "
		}
		query += "updated_at = ? WHERE id = ?"

		result, err := tx.ExecContext(ctx, query, append(args, s.timestamp(), id)...)
		if err != nil {
			return fmt.Errorf("updating space: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("getting rows affected: %w", err)
		}
		if n == 0 {
			return ErrSpaceNotFound
		}

		space, err = getSpace(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("updated space", "id", id)
	return space, nil
}

// ReorderSpaces assigns sort_order = index for each id. orderedIDs must be
// exactly a permutation of the existing space ids.
func (s *SQLiteStore) ReorderSpaces(ctx context.Context, orderedIDs []string) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := queryIDs(ctx, tx, `SELECT id FROM spaces`)
		if err != nil {
			return fmt.Errorf("querying space ids: %w", err)
		}
		if err := ValidateIDSet(current, orderedIDs); err != nil {
			return err
		}

		now := s.timestamp()
		for i, id := range orderedIDs {
			if _, err := tx.ExecContext(ctx,
				`UPDATE spaces SET sort_order = ?, updated_at = ? WHERE id = ?`,
				i, now, id,
			); err != nil {
				return fmt.Errorf("updating sort order for space %s: %w", id, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug("reordered spaces", "count", len(orderedIDs))
	return nil
}

func getSpace(ctx context.Context, q queryer, id string) (*Space, error) {
	row := q.QueryRowContext(ctx, `SELECT `+spaceColumns+` FROM spaces WHERE id = ?`, id)
	space, err := scanSpace(row)
	if err == sql.ErrNoRows {
		return nil, ErrSpaceNotFound
	}
	return space, err
}

// spaceExists reports whether a space with the given id exists
func spaceExists(ctx context.Context, q queryer, id string) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM spaces WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking space: %w", err)
	}
	return true, nil
}

func scanSpace(row rowScanner) (*Space, error) {
	var space Space
	var color, icon sql.NullString
	var isDefault int
	var createdAt, updatedAt string

	if err := row.Scan(
		&space.ID,
		&space.Name,
		&color,
		&icon,
		&space.SortOrder,
		&isDefault,
		&createdAt,
		&updatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scanning space: %w", err)
	}

	space.Color = stringPtr(color)
	space.Icon = stringPtr(icon)
	space.IsDefault = isDefault == 1

	var err error
	if space.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if space.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &space, nil
}

// queryIDs runs a single-column query and collects the ids
func queryIDs(ctx context.Context, q queryer, query string, args ...any) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

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
