package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/inaim-finailabz/aurora/internal/config"
	"github.com/inaim-finailabz/aurora/internal/logbus"
)

// Model is one merged catalog entry as returned by listings.
type Model struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Source string `json:"source"`
}

// ListCounts breaks a listing down by source, for log lines.
type ListCounts struct {
	Config     int
	Registry   int
	Discovered int
}

// Manager merges the three model sources and owns registry-file rewrites.
type Manager struct {
	cfg *config.Store
	bus *logbus.Bus

	// mu serializes read-modify-write cycles on the registry and
	// custom-models files.
	mu sync.Mutex
}

// NewManager returns a catalog over the given config store.
func NewManager(cfg *config.Store, bus *logbus.Bus) *Manager {
	return &Manager{cfg: cfg, bus: bus}
}

func (m *Manager) registryPath() string {
	return filepath.Join(m.cfg.StorageDir(), RegistryFileName)
}

// Registry returns the current registry rows.
func (m *Manager) Registry() []ModelEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return LoadRegistry(m.registryPath())
}

// Upsert replaces any registry row with the same name and appends the entry.
func (m *Manager) Upsert(entry ModelEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	path := m.registryPath()
	entries := LoadRegistry(path)
	kept := entries[:0]
	for _, e := range entries {
		if e.Name != entry.Name {
			kept = append(kept, e)
		}
	}
	kept = append(kept, entry)
	return SaveRegistry(path, kept)
}

// List returns the merged catalog. First occurrence of a name wins: config
// models, then registry rows, then models discovered under the storage
// directory.
func (m *Manager) List() ([]Model, ListCounts) {
	cfg := m.cfg.Snapshot()

	var models []Model
	var counts ListCounts
	seen := make(map[string]bool)

	configNames := make([]string, 0, len(cfg.Models))
	for name := range cfg.Models {
		configNames = append(configNames, name)
	}
	sort.Strings(configNames)
	for _, name := range configNames {
		models = append(models, Model{Name: name, Path: cfg.Models[name], Source: "config"})
		counts.Config++
		seen[name] = true
	}

	for _, entry := range m.Registry() {
		if seen[entry.Name] {
			continue
		}
		source := entry.Source
		if source == "" {
			source = "registry"
		}
		models = append(models, Model{Name: entry.Name, Path: entry.Path, Source: source})
		counts.Registry++
		seen[entry.Name] = true
	}

	for _, discovered := range discoverModels(cfg.StorageDir) {
		if seen[discovered.Name] {
			continue
		}
		models = append(models, discovered)
		counts.Discovered++
		seen[discovered.Name] = true
	}

	return models, counts
}

// discoverModels finds .gguf payloads directly under storageDir (name =
// file stem) or one level deep (name = directory, first .gguf wins).
// Discovery is never persisted.
func discoverModels(storageDir string) []Model {
	entries, err := os.ReadDir(storageDir)
	if err != nil {
		return nil
	}

	var models []Model
	for _, entry := range entries {
		path := filepath.Join(storageDir, entry.Name())
		if entry.IsDir() {
			subentries, err := os.ReadDir(path)
			if err != nil {
				continue
			}
			for _, sub := range subentries {
				if sub.IsDir() || filepath.Ext(sub.Name()) != ".gguf" {
					continue
				}
				models = append(models, Model{
					Name:   entry.Name(),
					Path:   filepath.Join(path, sub.Name()),
					Source: "discovered",
				})
				break
			}
		} else if filepath.Ext(entry.Name()) == ".gguf" {
			models = append(models, Model{
				Name:   strings.TrimSuffix(entry.Name(), ".gguf"),
				Path:   path,
				Source: "discovered",
			})
		}
	}
	return models
}

// Delete removes a non-config model. Config-declared names are refused with
// ErrConfigModel. A registered path is only removed when it canonicalizes to
// within the storage root; a row whose path escapes is left untouched and
// the fallback candidates are consulted instead.
func (m *Manager) Delete(name string) error {
	cfg := m.cfg.Snapshot()
	if _, declared := cfg.Models[name]; declared {
		return ErrConfigModel
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	storageRoot := canonicalize(cfg.StorageDir)
	path := m.registryPath()
	entries := LoadRegistry(path)

	for _, entry := range entries {
		if entry.Name != name {
			continue
		}
		resolved := canonicalize(entry.Path)
		if !isUnder(resolved, storageRoot) {
			m.bus.Errorf("Refusing to delete path outside storage_dir: %s", entry.Path)
			break
		}
		if err := os.RemoveAll(resolved); err != nil {
			return fmt.Errorf("remove model payload: %w", err)
		}
		kept := entries[:0]
		for _, e := range entries {
			if e.Name != name {
				kept = append(kept, e)
			}
		}
		if err := SaveRegistry(path, kept); err != nil {
			return fmt.Errorf("update registry: %w", err)
		}
		return nil
	}

	// Candidates resolve against the same canonical root the containment
	// check used, so a symlinked storage dir behaves uniformly.
	candidateDir := filepath.Join(storageRoot, name)
	if info, err := os.Stat(candidateDir); err == nil && info.IsDir() {
		if err := os.RemoveAll(candidateDir); err != nil {
			return fmt.Errorf("remove model dir: %w", err)
		}
		return nil
	}

	if dirEntries, err := os.ReadDir(storageRoot); err == nil {
		for _, entry := range dirEntries {
			if entry.IsDir() || filepath.Ext(entry.Name()) != ".gguf" {
				continue
			}
			stem := strings.TrimSuffix(entry.Name(), ".gguf")
			if strings.EqualFold(stem, name) {
				if err := os.Remove(filepath.Join(storageRoot, entry.Name())); err != nil {
					return fmt.Errorf("remove model file: %w", err)
				}
				return nil
			}
		}
	}

	return ErrNotFound
}

// canonicalize resolves symlinks where possible, falling back to a cleaned
// absolute path for targets that do not exist.
func canonicalize(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	if abs, err := filepath.Abs(path); err == nil {
		return filepath.Clean(abs)
	}
	return filepath.Clean(path)
}

func isUnder(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
