// Package catalog presents the unified model list merged from the config,
// the on-disk registry file, and filesystem discovery, and routes model
// deletion with a storage-root containment check.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// RegistryFileName is the registry file kept under the storage directory.
const RegistryFileName = "models.json"

// ModelEntry is one registry row. Rows are never mutated in place; an upsert
// is a delete followed by an append.
type ModelEntry struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	RepoID   string `json:"repo_id,omitempty"`
	Filename string `json:"filename,omitempty"`
	Source   string `json:"source,omitempty"`
}

type registryFile struct {
	Models []ModelEntry `json:"models"`
}

// LoadRegistry reads the registry at path. A missing or unparseable file
// yields an empty registry.
func LoadRegistry(path string) []ModelEntry {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var file registryFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil
	}
	return file.Models
}

// SaveRegistry writes the registry wholesale as pretty JSON.
func SaveRegistry(path string, entries []ModelEntry) error {
	if entries == nil {
		entries = []ModelEntry{}
	}
	data, err := json.MarshalIndent(registryFile{Models: entries}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create registry dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// FindModelFile resolves a model name to a GGUF path. Resolution order: a
// literal .gguf path, the model's directory under storageDir (preferring the
// first shard, else the lexicographically first file), then a flat
// <name>.gguf.
func FindModelFile(storageDir, name string) (string, error) {
	if filepath.Ext(name) == ".gguf" {
		if _, err := os.Stat(name); err == nil {
			return name, nil
		}
	}

	candidateDir := filepath.Join(storageDir, name)
	if info, err := os.Stat(candidateDir); err == nil && info.IsDir() {
		entries, err := os.ReadDir(candidateDir)
		if err != nil {
			return "", fmt.Errorf("read model dir: %w", err)
		}
		var ggufs []string
		for _, entry := range entries {
			if !entry.IsDir() && filepath.Ext(entry.Name()) == ".gguf" {
				ggufs = append(ggufs, entry.Name())
			}
		}
		// os.ReadDir returns entries sorted by name.
		for _, file := range ggufs {
			if containsShardMarker(file) {
				return filepath.Join(candidateDir, file), nil
			}
		}
		if len(ggufs) > 0 {
			return filepath.Join(candidateDir, ggufs[0]), nil
		}
	}

	flat := filepath.Join(storageDir, name+".gguf")
	if _, err := os.Stat(flat); err == nil {
		return flat, nil
	}

	return "", fmt.Errorf("%w: no GGUF found for model %q", ErrNotFound, name)
}

func containsShardMarker(name string) bool {
	return strings.Contains(name, "-00001-of-")
}

// ErrNotFound is returned when no catalog source knows the model.
var ErrNotFound = errors.New("model not found")

// ErrConfigModel is returned when deletion targets a config-declared model.
var ErrConfigModel = errors.New("model is defined in the server config; remove it there")
