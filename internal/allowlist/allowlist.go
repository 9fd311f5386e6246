// Package allowlist persists the role ids allowed to run recovery commands.
package allowlist

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Backend names a storage implementation.
type Backend string

const (
	// BackendFile stores the list in a JSON or YAML file.
	BackendFile Backend = "file"
	// BackendPebble stores the list in a pebble key-value directory.
	BackendPebble Backend = "pebble"
)

// ErrInvalidRoleID indicates an empty or malformed role id.
var ErrInvalidRoleID = errors.New("allowlist: invalid role id")

// Store reads and edits one allow-list.
type Store interface {
	// AllowedRoleIDs returns the allowed role ids.
	AllowedRoleIDs(ctx context.Context) ([]string, error)
	// Add allows roleID. It reports false when the role was already allowed.
	Add(ctx context.Context, roleID string) (bool, error)
	// Remove revokes roleID. It reports false when the role was not allowed.
	Remove(ctx context.Context, roleID string) (bool, error)
	// Close releases backend resources.
	Close() error
}

// Config selects and locates a backend.
type Config struct {
	Backend   Backend
	FilePath  string
	PebbleDir string
}

// Open opens the backend selected by cfg.
func Open(cfg Config) (Store, error) {
	switch cfg.Backend {
	case BackendFile, "":
		store, err := NewFileStore(cfg.FilePath)
		if err != nil {
			return nil, fmt.Errorf("open file allow-list: %w", err)
		}
		return store, nil
	case BackendPebble:
		store, err := OpenPebbleStore(cfg.PebbleDir)
		if err != nil {
			return nil, fmt.Errorf("open pebble allow-list: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("open allow-list: unsupported backend %q", cfg.Backend)
	}
}

// NormalizeRoleID trims roleID and rejects values that cannot be a role id.
func NormalizeRoleID(roleID string) (string, error) {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidRoleID)
	}
	if strings.ContainsAny(roleID, " \t\r\n:") {
		return "", fmt.Errorf("%w: %q", ErrInvalidRoleID, roleID)
	}

	return roleID, nil
}
