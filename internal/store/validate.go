// ABOUTME: Guard functions run at every store entry point before touching storage
// ABOUTME: Each returns nil when the input is acceptable or a classified ErrValidation

package store

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// ValidateSpaceName trims name and checks it against the length bounds.
// It returns the normalized name.
func ValidateSpaceName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	n := utf8.RuneCountInString(trimmed)
	if n < SpaceNameMinLength {
		return "", ErrEmptyName
	}
	if n > SpaceNameMaxLength {
		return "", fmt.Errorf("%w: %d > %d characters", ErrNameTooLong, n, SpaceNameMaxLength)
	}
	return trimmed, nil
}

// ValidateMessageContent trims content and rejects blank messages.
func ValidateMessageContent(content string) (string, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", ErrEmptyContent
	}
	return trimmed, nil
}

// validateAttribute normalizes an optional color/icon value.
// Nil passes through; a present value must not be blank.
func validateAttribute(field string, v *string) (*string, error) {
	if v == nil {
		return nil, nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: %s", ErrEmptyAttribute, field)
	}
	return &trimmed, nil
}

// ValidateIDSet checks that ordered is exactly a permutation of current.
// Count mismatch is reported first, then duplicates, then unknown ids.
func ValidateIDSet(current, ordered []string) error {
	if len(ordered) != len(current) {
		return fmt.Errorf("%w: expected %d, got %d", ErrCountMismatch, len(current), len(ordered))
	}

	known := make(map[string]struct{}, len(current))
	for _, id := range current {
		known[id] = struct{}{}
	}

	seen := make(map[string]struct{}, len(ordered))
	for _, id := range ordered {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateID, id)
		}
		seen[id] = struct{}{}
	}
	for _, id := range ordered {
		if _, ok := known[id]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownID, id)
		}
	}
	return nil
}
