package allowlist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

type fileFormat int

const (
	formatJSON fileFormat = iota
	formatYAML
)

// FileStore keeps the allow-list as a flat list in a JSON or YAML file.
// The file is read on every call so external edits apply immediately; a
// missing file is an empty list.
type FileStore struct {
	path   string
	format fileFormat

	mu sync.Mutex
}

// NewFileStore creates a file store. The format follows the file extension:
// .yaml and .yml select YAML, anything else JSON.
func NewFileStore(path string) (*FileStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("new file store: empty path")
	}

	format := formatJSON
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = formatYAML
	}

	return &FileStore{path: path, format: format}, nil
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

// AllowedRoleIDs reads the file.
func (s *FileStore) AllowedRoleIDs(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.read()
}

// Add appends roleID to the file when absent.
func (s *FileStore) Add(_ context.Context, roleID string) (bool, error) {
	roleID, err := NormalizeRoleID(roleID)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	roles, err := s.read()
	if err != nil {
		return false, err
	}
	if slices.Contains(roles, roleID) {
		return false, nil
	}
	if err := s.write(append(roles, roleID)); err != nil {
		return false, err
	}

	return true, nil
}

// Remove deletes roleID from the file when present.
func (s *FileStore) Remove(_ context.Context, roleID string) (bool, error) {
	roleID, err := NormalizeRoleID(roleID)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	roles, err := s.read()
	if err != nil {
		return false, err
	}
	index := slices.Index(roles, roleID)
	if index < 0 {
		return false, nil
	}
	if err := s.write(slices.Delete(roles, index, index+1)); err != nil {
		return false, err
	}

	return true, nil
}

// Close is a no-op.
func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) read() ([]string, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read allow-list %s: %w", s.path, err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return []string{}, nil
	}

	var roles []string
	switch s.format {
	case formatYAML:
		roles, err = decodeYAML(raw)
	default:
		roles, err = decodeJSON(raw)
	}
	if err != nil {
		return nil, fmt.Errorf("decode allow-list %s: %w", s.path, err)
	}

	return roles, nil
}

func (s *FileStore) write(roles []string) error {
	var (
		raw []byte
		err error
	)
	switch s.format {
	case formatYAML:
		raw, err = encodeYAML(roles)
	default:
		raw, err = encodeJSON(roles)
	}
	if err != nil {
		return fmt.Errorf("encode allow-list: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create allow-list dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create allow-list temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write allow-list temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close allow-list temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace allow-list %s: %w", s.path, err)
	}

	return nil
}

// decodeJSON accepts a list of numbers or strings. Numbers are kept verbatim
// so 64-bit snowflakes survive.
func decodeJSON(raw []byte) ([]string, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()

	var values []any
	if err := decoder.Decode(&values); err != nil {
		return nil, err
	}

	roles := make([]string, 0, len(values))
	for idx, value := range values {
		switch typed := value.(type) {
		case json.Number:
			roles = append(roles, typed.String())
		case string:
			roles = append(roles, typed)
		default:
			return nil, fmt.Errorf("entry %d: unsupported type %T", idx, value)
		}
	}

	return roles, nil
}

func encodeJSON(roles []string) ([]byte, error) {
	values := make([]any, 0, len(roles))
	for _, role := range roles {
		if isNumeric(role) {
			values = append(values, json.Number(role))
			continue
		}
		values = append(values, role)
	}

	raw, err := json.MarshalIndent(values, "", "    ")
	if err != nil {
		return nil, err
	}

	return append(raw, '\n'), nil
}

func decodeYAML(raw []byte) ([]string, error) {
	var document yaml.Node
	if err := yaml.Unmarshal(raw, &document); err != nil {
		return nil, err
	}
	if document.Kind != yaml.DocumentNode || len(document.Content) == 0 {
		return []string{}, nil
	}

	sequence := document.Content[0]
	if sequence.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("line %d: expected a list", sequence.Line)
	}

	roles := make([]string, 0, len(sequence.Content))
	for _, item := range sequence.Content {
		if item.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("line %d: expected a scalar role id", item.Line)
		}
		roles = append(roles, item.Value)
	}

	return roles, nil
}

func encodeYAML(roles []string) ([]byte, error) {
	sequence := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	for _, role := range roles {
		tag := "!!str"
		if isNumeric(role) {
			tag = "!!int"
		}
		sequence.Content = append(sequence.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: role})
	}

	return yaml.Marshal(sequence)
}

func isNumeric(value string) bool {
	_, err := strconv.ParseInt(value, 10, 64)
	return err == nil
}
