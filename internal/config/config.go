// Package config owns the durable server configuration: loading from disk in
// either YAML or JSON, resolving a writable storage directory, and persisting
// changes atomically.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"
)

// DefaultPort is the server's default listen port.
const DefaultPort = 11435

// AppConfig is the full persisted configuration.
type AppConfig struct {
	Host         string            `json:"host" mapstructure:"host"`
	Port         int               `json:"port" mapstructure:"port"`
	StorageDir   string            `json:"storage_dir" mapstructure:"storage_dir"`
	DefaultModel string            `json:"default_model,omitempty" mapstructure:"default_model"`
	Models       map[string]string `json:"models,omitempty" mapstructure:"models"`
}

// Default returns the built-in configuration. StorageDir is left for
// ResolveStorageDir to fill in.
func Default() AppConfig {
	return AppConfig{
		Host: "127.0.0.1",
		Port: DefaultPort,
	}
}

// DefaultPath returns <user-config>/aurora/config.json.
func DefaultPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve user config dir: %w", err)
	}
	return filepath.Join(base, "aurora", "config.json"), nil
}

// UserDataDir returns the platform data directory for aurora state such as
// the session database and the fallback model storage.
func UserDataDir() (string, error) {
	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "Library", "Application Support", "aurora"), nil
	case "windows":
		if dir := os.Getenv("APPDATA"); dir != "" {
			return filepath.Join(dir, "aurora"), nil
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "AppData", "Roaming", "aurora"), nil
	default:
		if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
			return filepath.Join(dir, "aurora"), nil
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, ".local", "share", "aurora"), nil
	}
}

// Load reads the configuration at path. The file may be JSON or YAML; the
// format is recognized by whichever parse succeeds. Any failure, including a
// missing file, falls back to defaults. Environment variables prefixed with
// AURORA_ override individual fields whether or not the file mentions them.
func Load(path string) AppConfig {
	cfg := Default()

	parsed := false
	for _, format := range []string{"json", "yaml"} {
		v := viper.New()
		v.SetConfigFile(path)
		v.SetConfigType(format)
		bindEnv(v)
		if err := v.ReadInConfig(); err != nil {
			continue
		}
		candidate := Default()
		if err := v.Unmarshal(&candidate); err != nil {
			continue
		}
		cfg = candidate
		parsed = true
		break
	}
	if !parsed {
		// No readable file, but the env overrides still apply.
		v := viper.New()
		bindEnv(v)
		candidate := Default()
		if err := v.Unmarshal(&candidate); err == nil {
			cfg = candidate
		}
	}

	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	return cfg
}

// bindEnv registers the AURORA_ variables for each known key. Explicit binds
// are required: AutomaticEnv only surfaces keys Unmarshal already knows from
// the file, which silently drops overrides for absent keys.
func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix("AURORA")
	for _, key := range []string{"host", "port", "storage_dir", "default_model"} {
		_ = v.BindEnv(key)
	}
}

// Save writes cfg as pretty JSON via a temp file and rename so readers never
// observe a partial file.
func Save(path string, cfg AppConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
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

// ResolveStorageDir canonicalizes candidate to an absolute, writable
// directory. If the candidate (or any writable ancestor the probe walk
// reaches) cannot hold a probe file, storage falls back to
// <user-data>/aurora/models.
func ResolveStorageDir(candidate string) string {
	if candidate != "" {
		if abs, err := filepath.Abs(candidate); err == nil {
			candidate = abs
		}
		if isWritableDir(candidate) {
			return candidate
		}
		// The directory itself may simply not exist yet under a writable
		// parent.
		for dir := filepath.Dir(candidate); ; dir = filepath.Dir(dir) {
			if isWritableDir(dir) {
				if err := os.MkdirAll(candidate, 0o755); err == nil && isWritableDir(candidate) {
					return candidate
				}
				break
			}
			if dir == filepath.Dir(dir) {
				break
			}
		}
	}

	data, err := UserDataDir()
	if err != nil {
		// Last resort keeps the server bootable.
		return filepath.Join(os.TempDir(), "aurora", "models")
	}
	return filepath.Join(data, "models")
}

func isWritableDir(dir string) bool {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return false
	}
	probe, err := os.CreateTemp(dir, ".aurora-probe-*")
	if err != nil {
		return false
	}
	name := probe.Name()
	_ = probe.Close()
	_ = os.Remove(name)
	return true
}
