// ABOUTME: Store interface and data types for entropy-chat persistence
// ABOUTME: Defines Space, Conversation, Message structs and the classified store errors

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrValidation is the parent of every input validation failure.
// Validation errors are returned before any write happens.
var ErrValidation = errors.New("invalid input")

// Not-found errors, classified by entity
var (
	ErrSpaceNotFound        = fmt.Errorf("space %w", ErrNotFound)
	ErrConversationNotFound = fmt.Errorf("conversation %w", ErrNotFound)
	ErrSettingNotFound      = fmt.Errorf("setting %w", ErrNotFound)
	ErrCredentialNotFound   = fmt.Errorf("credential %w", ErrNotFound)
)

// Validation errors. Each wraps ErrValidation so callers can match either the
// specific class or the whole family.
var (
	ErrEmptyID        = fmt.Errorf("%w: id is required", ErrValidation)
	ErrEmptyName      = fmt.Errorf("%w: name cannot be empty", ErrValidation)
	ErrNameTooLong    = fmt.Errorf("%w: name is too long", ErrValidation)
	ErrEmptyAttribute = fmt.Errorf("%w: attribute cannot be empty", ErrValidation)
	ErrNoUpdateFields = fmt.Errorf("%w: no fields to update", ErrValidation)
	ErrCountMismatch  = fmt.Errorf("%w: id count mismatch", ErrValidation)
	ErrUnknownID      = fmt.Errorf("%w: unknown id", ErrValidation)
	ErrDuplicateID    = fmt.Errorf("%w: duplicate id", ErrValidation)
	ErrEmptyContent   = fmt.Errorf("%w: message content cannot be empty", ErrValidation)
	ErrInvalidRole    = fmt.Errorf("%w: invalid message role", ErrValidation)
)

// Space name bounds, counted in runes after trimming
const (
	SpaceNameMinLength = 1
	SpaceNameMaxLength = 64
)

// Fixed identifiers seeded by the schema migrations
const (
	DefaultSpaceID    = "space_general"
	DefaultSpaceName  = "General"
	DefaultProviderID = "openai"
	DefaultModel      = "gpt-4o-mini"
)

// Role is the author of a message
type Role string

// Message roles
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Space is a named partition of conversations
type Space struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Color     *string   `json:"color"`
	Icon      *string   `json:"icon"`
	SortOrder int       `json:"sortOrder"`
	IsDefault bool      `json:"isDefault"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SpaceInput holds the fields for CreateSpace. Nil Color/Icon means unset.
type SpaceInput struct {
	Name  string
	Color *string
	Icon  *string
}

// SpaceUpdate is a partial update. A nil field is left untouched; a non-nil
// NullString with Valid=false clears the column.
type SpaceUpdate struct {
	Name  *string
	Color *sql.NullString
	Icon  *sql.NullString
}

// Empty reports whether the update carries no fields
func (u SpaceUpdate) Empty() bool {
	return u.Name == nil && u.Color == nil && u.Icon == nil
}

// Conversation is a chat thread that belongs to exactly one space
type Conversation struct {
	ID          string    `json:"id"`
	Title       *string   `json:"title"`
	Model       string    `json:"model"`
	ProviderID  string    `json:"providerId"`
	Pinned      bool      `json:"pinned"`
	SpaceID     string    `json:"spaceId"`
	PinnedOrder *int      `json:"pinnedOrder"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// ConversationInput holds the fields for CreateConversation.
// An empty SpaceID resolves to the default space.
type ConversationInput struct {
	Title   string
	SpaceID string
}

// Message is one turn in a conversation
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	Model          *string   `json:"model"`
	TokensUsed     *int      `json:"tokensUsed"`
	CreatedAt      time.Time `json:"createdAt"`
}

// MessageInput holds the fields for InsertMessage
type MessageInput struct {
	ConversationID string
	Role           Role
	Content        string
	Model          string
	TokensUsed     *int
}

// Store defines the workspace persistence operations
type Store interface {
	// Spaces
	ListSpaces(ctx context.Context) ([]*Space, error)
	GetSpace(ctx context.Context, id string) (*Space, error)
	CreateSpace(ctx context.Context, in SpaceInput) (*Space, error)
	UpdateSpace(ctx context.Context, id string, upd SpaceUpdate) (*Space, error)
	ReorderSpaces(ctx context.Context, orderedIDs []string) error

	// Conversations
	ListConversations(ctx context.Context) ([]*Conversation, error)
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	CreateConversation(ctx context.Context, in ConversationInput) (*Conversation, error)
	PinConversation(ctx context.Context, id string, pinned bool) (*Conversation, error)
	ReorderPinnedConversations(ctx context.Context, spaceID string, orderedIDs []string) error
	MoveConversationToSpace(ctx context.Context, id, spaceID string) (*Conversation, error)
	TouchConversation(ctx context.Context, id, model string) error

	// Messages
	ListMessagesByConversation(ctx context.Context, conversationID string) ([]*Message, error)
	InsertMessage(ctx context.Context, in MessageInput) (*Message, error)

	// Settings and credentials
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
	GetProviderCredential(ctx context.Context, providerID string) ([]byte, error)
	SetProviderCredential(ctx context.Context, providerID, name string, sealed []byte) error

	// Close releases any resources held by the store
	Close() error
}
