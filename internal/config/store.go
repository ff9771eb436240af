package config

import "sync"

// Store guards the live configuration behind a readers-writer lock and
// persists every mutation. Writers hold the lock only while copying; the
// disk write happens outside it.
type Store struct {
	mu   sync.RWMutex
	path string
	cfg  AppConfig
}

// NewStore wraps an already-loaded configuration.
func NewStore(path string, cfg AppConfig) *Store {
	return &Store{path: path, cfg: cfg}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Snapshot returns a copy of the current configuration. The Models map is
// cloned so callers cannot mutate shared state.
func (s *Store) Snapshot() AppConfig {
	s.mu.RLock()
	cfg := s.cfg
	s.mu.RUnlock()
	if cfg.Models != nil {
		models := make(map[string]string, len(cfg.Models))
		for k, v := range cfg.Models {
			models[k] = v
		}
		cfg.Models = models
	}
	return cfg
}

// StorageDir returns the current storage directory.
func (s *Store) StorageDir() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.StorageDir
}

// DefaultModel returns the configured default model name.
func (s *Store) DefaultModel() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.DefaultModel
}

// Update applies mutate to a copy of the configuration under the write lock,
// swaps it in, then persists the result.
func (s *Store) Update(mutate func(*AppConfig)) error {
	s.mu.Lock()
	cfg := s.cfg
	if s.cfg.Models != nil {
		cfg.Models = make(map[string]string, len(s.cfg.Models))
		for k, v := range s.cfg.Models {
			cfg.Models[k] = v
		}
	}
	mutate(&cfg)
	s.cfg = cfg
	s.mu.Unlock()

	return Save(s.path, cfg)
}
