// Package filestore is the YAML-file backend for configuration data.
package filestore

import (
	"errors"
	"fmt"
	"os"

	"github.com/andrej220/gsh/pkg/config/configstore"
	"gopkg.in/yaml.v3"
)

var _ configstore.ConfigStore = (*FileStore)(nil)

// ErrEmptyConfig marks a config file that exists but has no content.
// Layered loaders skip such files the same way they skip missing ones.
var ErrEmptyConfig = errors.New("config file is empty")

type FileStore struct {
	Path string
}

func New(path string) *FileStore {
	return &FileStore{Path: path}
}

// Load parses the YAML file into out. Unmarshalling overlays only the keys
// present in the file, so out may arrive pre-populated with defaults.
func (f *FileStore) Load(out any) error {
	if out == nil {
		return fmt.Errorf("Load: output parameter must not be nil")
	}

	bytes, err := os.ReadFile(f.Path)
	if err != nil {
		return fmt.Errorf("Load: failed to read file %s: %w", f.Path, err)
	}

	if len(bytes) == 0 {
		return fmt.Errorf("Load: %s: %w", f.Path, ErrEmptyConfig)
	}

	if err := yaml.Unmarshal(bytes, out); err != nil {
		return fmt.Errorf("Load: failed to parse YAML in %s: %w", f.Path, err)
	}

	return nil
}

// Save marshals in and replaces the file atomically via a temp file and
// rename, so readers never observe a half-written config.
func (f *FileStore) Save(in any) error {
	if in == nil {
		return fmt.Errorf("Save: input parameter must not be nil")
	}

	bytes, err := yaml.Marshal(in)
	if err != nil {
		return fmt.Errorf("Save: failed to marshal YAML: %w", err)
	}

	tmpPath := f.Path + ".tmp"
	err = os.WriteFile(tmpPath, bytes, 0600)
	if err != nil {
		return fmt.Errorf("Save: failed to write temp file %s: %w", tmpPath, err)
	}

	err = os.Rename(tmpPath, f.Path)
	if err != nil {
		return fmt.Errorf("Save: failed to replace %s with %s: %w", f.Path, tmpPath, err)
	}

	return nil
}
