// Package blob implements the per-table binary attachment store: put, get,
// delete, list, backed by the local filesystem with atomic tmp-then-rename
// writes. Not event-driven; actions invoke it directly when attaching
// binaries to a row. Grounded on the teacher's pkg/storage/store.go
// abstraction, narrowed to a named-blob namespace instead of a generic kv
// store.
package blob

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/epicenterlabs/epicenter/pkg/epierr"
)

// Store is a per-table blob namespace rooted at
// `<root>/<workspace-id>/blobs/<table-name>/`.
type Store struct {
	dir string
}

// Open returns the blob namespace for one table, creating its directory on
// demand.
func Open(root, workspaceID, table string) (*Store, error) {
	dir := filepath.Join(root, workspaceID, "blobs", table)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, epierr.Wrap(epierr.CodeInternal, "create blob directory", err, map[string]any{"dir": dir})
	}
	return &Store{dir: dir}, nil
}

// Put writes name's content atomically. Names are not interpreted by the
// store; a name collision replaces the prior content.
func (s *Store) Put(name string, content []byte) error {
	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return epierr.Wrap(epierr.CodeInternal, "write blob", err, map[string]any{"name": name})
	}
	if err := os.Rename(tmp, path); err != nil {
		return epierr.Wrap(epierr.CodeInternal, "rename blob into place", err, map[string]any{"name": name})
	}
	return nil
}

// Get reads name's content, returning (nil, false) if it does not exist.
func (s *Store) Get(name string) ([]byte, bool, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, epierr.Wrap(epierr.CodeInternal, "read blob", err, map[string]any{"name": name})
	}
	return data, true, nil
}

// Delete removes name. Deleting a name that does not exist is a no-op.
func (s *Store) Delete(name string) error {
	err := os.Remove(filepath.Join(s.dir, name))
	if err != nil && !os.IsNotExist(err) {
		return epierr.Wrap(epierr.CodeInternal, "delete blob", err, map[string]any{"name": name})
	}
	return nil
}

// List returns every blob name currently stored, sorted for deterministic
// output.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, epierr.Wrap(epierr.CodeInternal, "list blobs", err, nil)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) == ".tmp" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}
