// ABOUTME: Provider API key vault sealing credentials with XChaCha20-Poly1305
// ABOUTME: The sealed blob lives in the store; the 32-byte key lives in a 0600 key file

package vault

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/2389/entropy-chat/internal/store"
)

var (
	// ErrEmptyKey is returned when SetAPIKey is given a blank key
	ErrEmptyKey = errors.New("api key cannot be empty")
	// ErrCorrupt is returned when stored credential data cannot be decoded
	ErrCorrupt = errors.New("stored credential is corrupt")
)

// CredentialStore persists sealed credential blobs.
// *store.SQLiteStore satisfies it.
type CredentialStore interface {
	GetProviderCredential(ctx context.Context, providerID string) ([]byte, error)
	SetProviderCredential(ctx context.Context, providerID, name string, sealed []byte) error
}

// credential is the plaintext shape sealed into the store
type credential struct {
	APIKey string `json:"apiKey"`
}

// Vault stores and retrieves the API key of a single provider
type Vault struct {
	store        CredentialStore
	aead         cipher.AEAD
	providerID   string
	providerName string
	logger       *slog.Logger
}

// Config configures a Vault
type Config struct {
	// KeyFile is where the master key is read from, created on first use
	KeyFile string
	// ProviderID selects the providers row holding the credential
	ProviderID string
	// ProviderName labels the providers row when it is first created
	ProviderName string
}

// New opens the vault, creating the key file if it doesn't exist.
func New(cfg Config, credStore CredentialStore, logger *slog.Logger) (*Vault, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ProviderID == "" {
		cfg.ProviderID = store.DefaultProviderID
	}
	if cfg.ProviderName == "" {
		cfg.ProviderName = "OpenAI"
	}

	key, err := LoadOrCreateKey(cfg.KeyFile)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	return &Vault{
		store:        credStore,
		aead:         aead,
		providerID:   cfg.ProviderID,
		providerName: cfg.ProviderName,
		logger:       logger.With("component", "vault"),
	}, nil
}

// LoadOrCreateKey reads a hex-encoded 32-byte key from path, generating and
// writing a new one with 0600 permissions when the file doesn't exist.
func LoadOrCreateKey(path string) ([]byte, error) {
	if path == "" {
		return nil, errors.New("vault key file path is required")
	}

	data, err := os.ReadFile(path)
	if err == nil {
		key, err := hex.DecodeString(strings.TrimSpace(string(data)))
		if err != nil || len(key) != chacha20poly1305.KeySize {
			return nil, fmt.Errorf("invalid vault key file %s", path)
		}
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading vault key file: %w", err)
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating vault key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating vault key directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(key)+"\n"), 0600); err != nil {
		return nil, fmt.Errorf("writing vault key file: %w", err)
	}
	return key, nil
}

// SetAPIKey seals and stores the provider API key, replacing any previous one.
func (v *Vault) SetAPIKey(ctx context.Context, apiKey string) error {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return ErrEmptyKey
	}

	plaintext, err := json.Marshal(credential{APIKey: apiKey})
	if err != nil {
		return fmt.Errorf("encoding credential: %w", err)
	}
	sealed, err := v.seal(plaintext)
	if err != nil {
		return err
	}
	if err := v.store.SetProviderCredential(ctx, v.providerID, v.providerName, sealed); err != nil {
		return fmt.Errorf("storing credential: %w", err)
	}

	v.logger.Info("api key updated", "provider_id", v.providerID)
	return nil
}

// HasKey reports whether a usable API key is configured. Corrupt data counts
// as not configured.
func (v *Vault) HasKey(ctx context.Context) bool {
	key, err := v.APIKey(ctx)
	if err != nil {
		v.logger.Warn("stored credential unreadable", "provider_id", v.providerID, "error", err)
		return false
	}
	return key != ""
}

// APIKey returns the stored API key, or "" when none is configured.
// It fails only when the stored data cannot be decoded.
func (v *Vault) APIKey(ctx context.Context) (string, error) {
	sealed, err := v.store.GetProviderCredential(ctx, v.providerID)
	if errors.Is(err, store.ErrCredentialNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("loading credential: %w", err)
	}

	plaintext, err := v.open(sealed)
	if err != nil {
		return "", err
	}
	var cred credential
	if err := json.Unmarshal(plaintext, &cred); err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return cred.APIKey, nil
}

// seal returns nonce || ciphertext
func (v *Vault) seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, v.aead.NonceSize(), v.aead.NonceSize()+len(plaintext)+v.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return v.aead.Seal(nonce, nonce, plaintext, []byte(v.providerID)), nil
}

func (v *Vault) open(sealed []byte) ([]byte, error) {
	if len(sealed) < v.aead.NonceSize()+v.aead.Overhead() {
		return nil, fmt.Errorf("%w: too short", ErrCorrupt)
	}
	nonce, ciphertext := sealed[:v.aead.NonceSize()], sealed[v.aead.NonceSize():]
	plaintext, err := v.aead.Open(nil, nonce, ciphertext, []byte(v.providerID))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return plaintext, nil
}
