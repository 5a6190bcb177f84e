package jaccount

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// CredStore persists the authenticated session's cookies as a flat JSON
// object of cookie name to value. Saves are atomic from the reader's
// perspective: the file either reflects the complete new set or the old one.
type CredStore struct {
	path string
}

func NewCredStore(path string) *CredStore {
	return &CredStore{path: path}
}

// Path returns the location of the persisted credential record.
func (s *CredStore) Path() string {
	return s.path
}

// Load reads the persisted cookie set. A missing file is not an error; it
// yields a nil map.
func (s *CredStore) Load() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read credential file: %w", err)
	}

	var cookies map[string]string
	if err := json.Unmarshal(data, &cookies); err != nil {
		return nil, fmt.Errorf("parse credential file %s: %w", s.path, err)
	}
	return cookies, nil
}

// Save writes the full cookie set, replacing any previous record. The write
// goes through a temp file and rename so a concurrent reader never observes a
// partial record.
func (s *CredStore) Save(cookies map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create credential dir: %w", err)
	}

	data, err := json.Marshal(cookies)
	if err != nil {
		return fmt.Errorf("encode cookies: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".cookies-*")
	if err != nil {
		return fmt.Errorf("create temp credential file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp credential file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp credential file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace credential file: %w", err)
	}
	return nil
}

// Delete removes the persisted record. Deleting an absent record succeeds.
func (s *CredStore) Delete() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete credential file: %w", err)
	}
	return nil
}
