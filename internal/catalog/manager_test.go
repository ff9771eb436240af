package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/inaim-finailabz/aurora/internal/config"
	"github.com/inaim-finailabz/aurora/internal/logbus"
)

func newTestManager(t *testing.T, cfg config.AppConfig) *Manager {
	t.Helper()
	if cfg.StorageDir == "" {
		cfg.StorageDir = t.TempDir()
	}
	store := config.NewStore(filepath.Join(t.TempDir(), "config.json"), cfg)
	return NewManager(store, logbus.New())
}

func writeFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("gguf"), 0o644))
}

func TestListMergePrecedence(t *testing.T) {
	t.Parallel()

	storage := t.TempDir()
	m := newTestManager(t, config.AppConfig{
		StorageDir: storage,
		Models:     map[string]string{"m1": "/opt/m1.gguf"},
	})

	require.NoError(t, m.Upsert(ModelEntry{Name: "m1", Path: "/data/m1.gguf"}))
	require.NoError(t, m.Upsert(ModelEntry{Name: "m2", Path: "/data/m2.gguf"}))
	writeFile(t, filepath.Join(storage, "m3.gguf"))

	models, counts := m.List()
	require.Len(t, models, 3)
	require.Equal(t, ListCounts{Config: 1, Registry: 1, Discovered: 1}, counts)

	bySource := map[string]Model{}
	for _, model := range models {
		bySource[model.Name] = model
	}
	require.Equal(t, "config", bySource["m1"].Source)
	require.Equal(t, "/opt/m1.gguf", bySource["m1"].Path)
	require.Equal(t, "registry", bySource["m2"].Source)
	require.Equal(t, "discovered", bySource["m3"].Source)
}

func TestListUniqueNames(t *testing.T) {
	t.Parallel()

	storage := t.TempDir()
	m := newTestManager(t, config.AppConfig{StorageDir: storage})

	// Same name in registry and on disk: registry wins over discovery.
	writeFile(t, filepath.Join(storage, "dup.gguf"))
	require.NoError(t, m.Upsert(ModelEntry{Name: "dup", Path: "/data/dup.gguf", Source: "pulled"}))

	models, _ := m.List()
	require.Len(t, models, 1)
	require.Equal(t, "pulled", models[0].Source)
	require.Equal(t, "/data/dup.gguf", models[0].Path)
}

func TestDiscoveryOneLevelDeep(t *testing.T) {
	t.Parallel()

	storage := t.TempDir()
	m := newTestManager(t, config.AppConfig{StorageDir: storage})

	writeFile(t, filepath.Join(storage, "deep", "weights-q4.gguf"))
	writeFile(t, filepath.Join(storage, "deep", "weights-q8.gguf"))
	writeFile(t, filepath.Join(storage, "other.txt"))

	models, _ := m.List()
	require.Len(t, models, 1)
	require.Equal(t, "deep", models[0].Name)
	// First .gguf in the directory yields the entry.
	require.Equal(t, filepath.Join(storage, "deep", "weights-q4.gguf"), models[0].Path)
}

func TestUpsertReplacesByName(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, config.AppConfig{})
	require.NoError(t, m.Upsert(ModelEntry{Name: "x", Path: "/a"}))
	require.NoError(t, m.Upsert(ModelEntry{Name: "x", Path: "/b", Source: "pulled"}))

	entries := m.Registry()
	require.Len(t, entries, 1)
	require.Equal(t, "/b", entries[0].Path)
	require.Equal(t, "pulled", entries[0].Source)
}

func TestDeleteConfigModelRefused(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, config.AppConfig{
		Models: map[string]string{"m1": "/opt/m1.gguf"},
	})

	require.ErrorIs(t, m.Delete("m1"), ErrConfigModel)
}

func TestDeleteRegisteredModelInsideStorage(t *testing.T) {
	t.Parallel()

	storage := t.TempDir()
	m := newTestManager(t, config.AppConfig{StorageDir: storage})

	payload := filepath.Join(storage, "x", "weights.gguf")
	writeFile(t, payload)
	require.NoError(t, m.Upsert(ModelEntry{Name: "x", Path: filepath.Join(storage, "x")}))

	require.NoError(t, m.Delete("x"))

	_, err := os.Stat(filepath.Join(storage, "x"))
	require.True(t, os.IsNotExist(err))
	require.Empty(t, m.Registry())
}

func TestDeleteRefusesPathEscape(t *testing.T) {
	t.Parallel()

	storage := t.TempDir()
	outside := filepath.Join(t.TempDir(), "evil.gguf")
	writeFile(t, outside)

	m := newTestManager(t, config.AppConfig{StorageDir: storage})
	require.NoError(t, m.Upsert(ModelEntry{Name: "evil", Path: outside}))

	require.ErrorIs(t, m.Delete("evil"), ErrNotFound)

	// The outside file is untouched and the row is retained.
	_, err := os.Stat(outside)
	require.NoError(t, err)
	require.Len(t, m.Registry(), 1)
}

func TestDeleteDiscoveredDirectory(t *testing.T) {
	t.Parallel()

	storage := t.TempDir()
	m := newTestManager(t, config.AppConfig{StorageDir: storage})
	writeFile(t, filepath.Join(storage, "loose", "weights.gguf"))

	require.NoError(t, m.Delete("loose"))
	_, err := os.Stat(filepath.Join(storage, "loose"))
	require.True(t, os.IsNotExist(err))
}

func TestDeleteFlatFileCaseInsensitive(t *testing.T) {
	t.Parallel()

	storage := t.TempDir()
	m := newTestManager(t, config.AppConfig{StorageDir: storage})
	writeFile(t, filepath.Join(storage, "Phi-2.gguf"))

	require.NoError(t, m.Delete("phi-2"))
	_, err := os.Stat(filepath.Join(storage, "Phi-2.gguf"))
	require.True(t, os.IsNotExist(err))
}

func TestDeleteThroughSymlinkedStorageDir(t *testing.T) {
	t.Parallel()

	real := t.TempDir()
	link := filepath.Join(t.TempDir(), "models")
	require.NoError(t, os.Symlink(real, link))

	m := newTestManager(t, config.AppConfig{StorageDir: link})

	// A registry row holding the canonical path is still inside storage.
	payload := filepath.Join(real, "x", "weights.gguf")
	writeFile(t, payload)
	require.NoError(t, m.Upsert(ModelEntry{Name: "x", Path: filepath.Join(real, "x")}))
	require.NoError(t, m.Delete("x"))
	_, err := os.Stat(filepath.Join(real, "x"))
	require.True(t, os.IsNotExist(err))

	// Directory and flat-file candidates resolve against the same root.
	writeFile(t, filepath.Join(real, "loose", "weights.gguf"))
	require.NoError(t, m.Delete("loose"))
	_, err = os.Stat(filepath.Join(real, "loose"))
	require.True(t, os.IsNotExist(err))

	writeFile(t, filepath.Join(real, "flat.gguf"))
	require.NoError(t, m.Delete("flat"))
	_, err = os.Stat(filepath.Join(real, "flat.gguf"))
	require.True(t, os.IsNotExist(err))
}

func TestDeleteUnknownModel(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, config.AppConfig{})
	require.ErrorIs(t, m.Delete("ghost"), ErrNotFound)
}

func TestFindModelFile(t *testing.T) {
	t.Parallel()

	storage := t.TempDir()

	t.Run("direct path", func(t *testing.T) {
		direct := filepath.Join(storage, "direct.gguf")
		writeFile(t, direct)
		got, err := FindModelFile(storage, direct)
		require.NoError(t, err)
		require.Equal(t, direct, got)
	})

	t.Run("prefers first shard in model dir", func(t *testing.T) {
		writeFile(t, filepath.Join(storage, "sharded", "aaa.gguf"))
		writeFile(t, filepath.Join(storage, "sharded", "w-00001-of-00002.gguf"))
		writeFile(t, filepath.Join(storage, "sharded", "w-00002-of-00002.gguf"))

		got, err := FindModelFile(storage, "sharded")
		require.NoError(t, err)
		require.Equal(t, filepath.Join(storage, "sharded", "w-00001-of-00002.gguf"), got)
	})

	t.Run("first sorted gguf without shards", func(t *testing.T) {
		writeFile(t, filepath.Join(storage, "plain", "b.gguf"))
		writeFile(t, filepath.Join(storage, "plain", "a.gguf"))

		got, err := FindModelFile(storage, "plain")
		require.NoError(t, err)
		require.Equal(t, filepath.Join(storage, "plain", "a.gguf"), got)
	})

	t.Run("flat file", func(t *testing.T) {
		writeFile(t, filepath.Join(storage, "flat.gguf"))
		got, err := FindModelFile(storage, "flat")
		require.NoError(t, err)
		require.Equal(t, filepath.Join(storage, "flat.gguf"), got)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := FindModelFile(storage, "missing")
		require.ErrorIs(t, err, ErrNotFound)
	})
}
