package pull

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/inaim-finailabz/aurora/internal/catalog"
	"github.com/inaim-finailabz/aurora/internal/config"
	"github.com/inaim-finailabz/aurora/internal/logbus"
	"github.com/inaim-finailabz/aurora/internal/metrics"
)

func TestExpandShards(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		filename string
		want     []string
	}{
		{
			name:     "three shards",
			filename: "part-00001-of-00003.gguf",
			want: []string{
				"part-00001-of-00003.gguf",
				"part-00002-of-00003.gguf",
				"part-00003-of-00003.gguf",
			},
		},
		{
			name:     "single shard set",
			filename: "w-00001-of-00001.gguf",
			want:     []string{"w-00001-of-00001.gguf"},
		},
		{
			name:     "plain file passes through",
			filename: "model-q4.gguf",
			want:     []string{"model-q4.gguf"},
		},
		{
			name:     "second shard is not a set head",
			filename: "part-00002-of-00003.gguf",
			want:     []string{"part-00002-of-00003.gguf"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, ExpandShards(tt.filename))
		})
	}
}

func TestBuildURL(t *testing.T) {
	t.Parallel()

	require.Equal(t,
		"https://huggingface.co/org/repo/resolve/main/model.gguf",
		BuildURL(DefaultBaseURL, "org/repo", "", "model.gguf"))
	require.Equal(t,
		"https://huggingface.co/org/repo/resolve/main/gguf/model.gguf",
		BuildURL(DefaultBaseURL, "org/repo", "gguf", "model.gguf"))
}

func newTestWorker(t *testing.T, baseURL string) (*Worker, *config.Store, *catalog.Manager, *logbus.Bus) {
	t.Helper()
	cfg := config.NewStore(filepath.Join(t.TempDir(), "config.json"), config.AppConfig{
		Host:       "127.0.0.1",
		Port:       config.DefaultPort,
		StorageDir: t.TempDir(),
	})
	bus := logbus.New()
	cat := catalog.NewManager(cfg, bus)
	w := NewWorker(cfg, cat, bus, metrics.New())
	if baseURL != "" {
		w.BaseURL = baseURL
	}
	return w, cfg, cat, bus
}

func TestRunShardPullRegistersAndSetsDefault(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var requested []string
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requested = append(requested, r.URL.Path)
		mu.Unlock()
		require.Equal(t, "Aurora/0.1", r.Header.Get("User-Agent"))
		_, _ = rw.Write([]byte("gguf-bytes"))
	}))
	defer srv.Close()

	w, cfg, cat, _ := newTestWorker(t, srv.URL)

	w.Run(Request{
		Name:     "x",
		RepoID:   "o/r",
		Filename: "part-00001-of-00003.gguf",
	})

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{
		"/o/r/resolve/main/part-00001-of-00003.gguf",
		"/o/r/resolve/main/part-00002-of-00003.gguf",
		"/o/r/resolve/main/part-00003-of-00003.gguf",
	}, requested)

	for _, file := range ExpandShards("part-00001-of-00003.gguf") {
		_, err := os.Stat(filepath.Join(cfg.StorageDir(), "x", file))
		require.NoError(t, err)
	}

	entries := cat.Registry()
	require.Len(t, entries, 1)
	require.Equal(t, "x", entries[0].Name)
	require.Equal(t, filepath.Join(cfg.StorageDir(), "x", "part-00001-of-00003.gguf"), entries[0].Path)
	require.Equal(t, "pulled", entries[0].Source)
	require.Equal(t, "o/r", entries[0].RepoID)

	require.Equal(t, "x", cfg.DefaultModel())
}

func TestRunSkipsExistingFiles(t *testing.T) {
	t.Parallel()

	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		hits++
		_, _ = rw.Write([]byte("gguf-bytes"))
	}))
	defer srv.Close()

	w, cfg, _, bus := newTestWorker(t, srv.URL)

	dest := filepath.Join(cfg.StorageDir(), "x", "model.gguf")
	require.NoError(t, os.MkdirAll(filepath.Dir(dest), 0o755))
	require.NoError(t, os.WriteFile(dest, []byte("partial"), 0o644))

	w.Run(Request{Name: "x", RepoID: "o/r", Filename: "model.gguf"})

	require.Zero(t, hits)
	requireLogContains(t, bus, "already exists, skipping")
}

func TestRunUpstreamFailureLeavesRegistryAlone(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	w, cfg, cat, bus := newTestWorker(t, srv.URL)

	w.Run(Request{Name: "x", RepoID: "o/r", Filename: "model.gguf"})

	require.Empty(t, cat.Registry())
	require.Empty(t, cfg.DefaultModel())
	requireLogContains(t, bus, "HTTP 403")
	requireLogContains(t, bus, "Download failed")
}

func TestRunDirectURLBypassesExpansion(t *testing.T) {
	t.Parallel()

	var requested []string
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		requested = append(requested, r.URL.Path)
		_, _ = rw.Write([]byte("gguf-bytes"))
	}))
	defer srv.Close()

	w, cfg, _, _ := newTestWorker(t, "")

	w.Run(Request{
		Name:      "d",
		RepoID:    "o/r",
		Filename:  "part-00001-of-00002.gguf",
		DirectURL: srv.URL + "/mirror/custom.gguf",
	})

	require.Equal(t, []string{"/mirror/custom.gguf"}, requested)
	_, err := os.Stat(filepath.Join(cfg.StorageDir(), "d", "part-00001-of-00002.gguf"))
	require.NoError(t, err)
}

func TestStartRunsInBackground(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		_, _ = rw.Write([]byte("gguf-bytes"))
	}))
	defer srv.Close()

	w, _, cat, _ := newTestWorker(t, srv.URL)
	w.Start(Request{Name: "bg", RepoID: "o/r", Filename: "model.gguf"})
	w.Wait()

	require.Len(t, cat.Registry(), 1)
}

func requireLogContains(t *testing.T, bus *logbus.Bus, want string) {
	t.Helper()
	for _, entry := range bus.Tail(logbus.RingCapacity) {
		if strings.Contains(entry.Line, want) {
			return
		}
	}
	t.Fatalf("no log line contains %q", want)
}
