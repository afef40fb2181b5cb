// ABOUTME: Key/value application settings and sealed provider credentials
// ABOUTME: Credentials are stored opaque; sealing happens in the vault package

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// GetSetting returns the stored value for key.
// Returns ErrSettingNotFound if the key has never been set.
func (s *SQLiteStore) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrSettingNotFound
	}
	if err != nil {
		return "", fmt.Errorf("querying setting: %w", err)
	}
	return value, nil
}

// SetSetting upserts a setting.
func (s *SQLiteStore) SetSetting(ctx context.Context, key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrEmptyID
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
		`, key, value, s.timestamp())
		if err != nil {
			return fmt.Errorf("upserting setting: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug("set setting", "key", key)
	return nil
}

// GetProviderCredential returns the sealed credential blob for a provider.
// Returns ErrCredentialNotFound when the provider has no stored credential.
func (s *SQLiteStore) GetProviderCredential(ctx context.Context, providerID string) ([]byte, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT credentials_encrypted FROM providers WHERE id = ? AND is_active = 1`, providerID,
	).Scan(&blob)
	if err == sql.ErrNoRows || (err == nil && len(blob) == 0) {
		return nil, ErrCredentialNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying provider credential: %w", err)
	}
	return blob, nil
}

// SetProviderCredential stores a sealed credential blob, registering the
// provider row on first use.
func (s *SQLiteStore) SetProviderCredential(ctx context.Context, providerID, name string, sealed []byte) error {
	if providerID == "" {
		return ErrEmptyID
	}
	if name == "" {
		name = providerID
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := s.timestamp()
		_, err := tx.ExecContext(ctx, `
			INSERT INTO providers (id, name, auth_tier, credentials_encrypted, is_active, created_at, updated_at)
			VALUES (?, ?, 'api_key', ?, 1, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				credentials_encrypted = excluded.credentials_encrypted,
				is_active = 1,
				updated_at = excluded.updated_at
		`, providerID, name, sealed, now, now)
		if err != nil {
			return fmt.Errorf("upserting provider credential: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("stored provider credential", "provider_id", providerID)
	return nil
}
