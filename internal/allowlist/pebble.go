package allowlist

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cockroachdb/pebble"
)

var roleKeyPrefix = []byte("role:")

// PebbleStore keeps one key per allowed role in a pebble database.
type PebbleStore struct {
	db *pebble.DB
}

// OpenPebbleStore opens or creates the database in dir.
func OpenPebbleStore(dir string) (*PebbleStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("open pebble store: empty directory")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("open pebble store: create %s: %w", dir, err)
	}
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble store %s: %w", dir, err)
	}

	return &PebbleStore{db: db}, nil
}

// AllowedRoleIDs lists the stored roles in key order.
func (s *PebbleStore) AllowedRoleIDs(_ context.Context) ([]string, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: roleKeyPrefix,
		UpperBound: prefixUpperBound(roleKeyPrefix),
	})
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}

	roles := []string{}
	for iter.First(); iter.Valid(); iter.Next() {
		key := iter.Key()
		if !bytes.HasPrefix(key, roleKeyPrefix) {
			break
		}
		roles = append(roles, string(key[len(roleKeyPrefix):]))
	}
	if err := errors.Join(iter.Error(), iter.Close()); err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}

	return roles, nil
}

// Add stores roleID with the time it was allowed.
func (s *PebbleStore) Add(_ context.Context, roleID string) (bool, error) {
	roleID, err := NormalizeRoleID(roleID)
	if err != nil {
		return false, err
	}

	exists, err := s.has(roleID)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	value := []byte(time.Now().UTC().Format(time.RFC3339))
	if err := s.db.Set(roleKey(roleID), value, pebble.Sync); err != nil {
		return false, fmt.Errorf("add role %s: %w", roleID, err)
	}

	return true, nil
}

// Remove deletes roleID.
func (s *PebbleStore) Remove(_ context.Context, roleID string) (bool, error) {
	roleID, err := NormalizeRoleID(roleID)
	if err != nil {
		return false, err
	}

	exists, err := s.has(roleID)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, nil
	}
	if err := s.db.Delete(roleKey(roleID), pebble.Sync); err != nil {
		return false, fmt.Errorf("remove role %s: %w", roleID, err)
	}

	return true, nil
}

// Close closes the database.
func (s *PebbleStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}

	return s.db.Close()
}

func (s *PebbleStore) has(roleID string) (bool, error) {
	_, closer, err := s.db.Get(roleKey(roleID))
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get role %s: %w", roleID, err)
	}
	if err := closer.Close(); err != nil {
		return false, fmt.Errorf("release role %s: %w", roleID, err)
	}

	return true, nil
}

func roleKey(roleID string) []byte {
	return append(bytes.Clone(roleKeyPrefix), roleID...)
}

// prefixUpperBound returns the smallest key greater than every key with prefix.
func prefixUpperBound(prefix []byte) []byte {
	upper := bytes.Clone(prefix)
	for idx := len(upper) - 1; idx >= 0; idx-- {
		upper[idx]++
		if upper[idx] != 0 {
			return upper[:idx+1]
		}
	}

	return nil
}
