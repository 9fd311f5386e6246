package allowlist

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

func openTestStores(t *testing.T) map[string]Store {
	t.Helper()

	dir := t.TempDir()
	stores := make(map[string]Store)
	for name, cfg := range map[string]Config{
		"json":   {Backend: BackendFile, FilePath: filepath.Join(dir, "data", "whitelist.json")},
		"yaml":   {Backend: BackendFile, FilePath: filepath.Join(dir, "data", "whitelist.yaml")},
		"pebble": {Backend: BackendPebble, PebbleDir: filepath.Join(dir, "pebble")},
	} {
		store, err := Open(cfg)
		if err != nil {
			t.Fatalf("open %s store failed: %v", name, err)
		}
		t.Cleanup(func() {
			if err := store.Close(); err != nil {
				t.Errorf("close %s store failed: %v", name, err)
			}
		})
		stores[name] = store
	}

	return stores
}

func TestStoreAddRemove(t *testing.T) {
	ctx := context.Background()

	for name, store := range openTestStores(t) {
		name, store := name, store
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			roles, err := store.AllowedRoleIDs(ctx)
			if err != nil {
				t.Fatalf("initial list failed: %v", err)
			}
			if len(roles) != 0 {
				t.Fatalf("initial roles = %v, want empty", roles)
			}

			for _, step := range []struct {
				add  bool
				role string
				want bool
			}{
				{add: true, role: "1216444463262470399", want: true},
				{add: true, role: "20", want: true},
				{add: true, role: " 20 ", want: false},
				{add: false, role: "30", want: false},
				{add: false, role: "20", want: true},
			} {
				var changed bool
				if step.add {
					changed, err = store.Add(ctx, step.role)
				} else {
					changed, err = store.Remove(ctx, step.role)
				}
				if err != nil {
					t.Fatalf("step %+v failed: %v", step, err)
				}
				if changed != step.want {
					t.Fatalf("step %+v changed = %v, want %v", step, changed, step.want)
				}
			}

			roles, err = store.AllowedRoleIDs(ctx)
			if err != nil {
				t.Fatalf("final list failed: %v", err)
			}
			if !slices.Equal(roles, []string{"1216444463262470399"}) {
				t.Fatalf("final roles = %v, want [1216444463262470399]", roles)
			}

			if _, err := store.Add(ctx, "  "); !errors.Is(err, ErrInvalidRoleID) {
				t.Fatalf("empty role error = %v, want ErrInvalidRoleID", err)
			}
		})
	}
}

func TestFileStoreReadsExistingFiles(t *testing.T) {
	tests := []struct {
		name      string
		file      string
		content   string
		want      []string
		wantError bool
	}{
		{
			name:    "json snowflakes keep precision",
			file:    "whitelist.json",
			content: "[1216444463262470324, 987654321098765432]",
			want:    []string{"1216444463262470324", "987654321098765432"},
		},
		{
			name:    "json strings",
			file:    "whitelist.json",
			content: `["creator", "42"]`,
			want:    []string{"creator", "42"},
		},
		{
			name:    "blank file",
			file:    "whitelist.json",
			content: "\n",
			want:    []string{},
		},
		{
			name:      "broken json",
			file:      "whitelist.json",
			content:   "[1, ",
			wantError: true,
		},
		{
			name:    "yaml list",
			file:    "whitelist.yml",
			content: "- 1216444463262470324\n- admin\n",
			want:    []string{"1216444463262470324", "admin"},
		},
		{
			name:      "yaml mapping rejected",
			file:      "whitelist.yaml",
			content:   "roles: [1]\n",
			wantError: true,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			path := filepath.Join(t.TempDir(), testCase.file)
			if err := os.WriteFile(path, []byte(testCase.content), 0o600); err != nil {
				t.Fatalf("write fixture failed: %v", err)
			}
			store, err := NewFileStore(path)
			if err != nil {
				t.Fatalf("new file store failed: %v", err)
			}

			roles, err := store.AllowedRoleIDs(context.Background())
			if testCase.wantError {
				if err == nil {
					t.Fatalf("expected error, got roles %v", roles)
				}
				return
			}
			if err != nil {
				t.Fatalf("list failed: %v", err)
			}
			if !slices.Equal(roles, testCase.want) {
				t.Fatalf("roles = %v, want %v", roles, testCase.want)
			}
		})
	}
}

func TestFileStoreWritesNumbers(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "whitelist.json")
	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("new file store failed: %v", err)
	}
	if _, err := store.Add(context.Background(), "1216444463262470324"); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file failed: %v", err)
	}
	if !strings.Contains(string(raw), "    1216444463262470324") {
		t.Fatalf("file content = %q, want an unquoted indented number", raw)
	}
}

func TestFileStoreRefusesToOverwriteBrokenFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "whitelist.json")
	if err := os.WriteFile(path, []byte("{broken"), 0o600); err != nil {
		t.Fatalf("write fixture failed: %v", err)
	}
	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("new file store failed: %v", err)
	}

	if _, err := store.Add(context.Background(), "1"); err == nil {
		t.Fatal("expected add to fail on unreadable file")
	}
	raw, _ := os.ReadFile(path)
	if string(raw) != "{broken" {
		t.Fatalf("file was rewritten: %q", raw)
	}
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	t.Parallel()

	if _, err := Open(Config{Backend: "redis"}); err == nil {
		t.Fatal("expected unsupported backend error")
	}
}

func TestPrefixUpperBound(t *testing.T) {
	t.Parallel()

	if got := string(prefixUpperBound([]byte("role:"))); got != "role;" {
		t.Fatalf("upper bound = %q, want role;", got)
	}
}
