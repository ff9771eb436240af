package inference

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/inaim-finailabz/aurora/internal/config"
	"github.com/inaim-finailabz/aurora/internal/logbus"
	"github.com/inaim-finailabz/aurora/internal/metrics"
)

type fakeEngine struct {
	name   string
	closed atomic.Bool
}

func (f *fakeEngine) ModelName() string { return f.name }

func (f *fakeEngine) Generate(prompt string, opts Options) (string, error) {
	if f.closed.Load() {
		return "", errors.New("engine closed")
	}
	return "echo from " + f.name, nil
}

func (f *fakeEngine) Close() error {
	f.closed.Store(true)
	return nil
}

func newTestHolder(t *testing.T, load LoadFunc) (*Holder, string) {
	t.Helper()
	storage := t.TempDir()
	cfg := config.NewStore(filepath.Join(t.TempDir(), "config.json"), config.AppConfig{
		Host:       "127.0.0.1",
		Port:       config.DefaultPort,
		StorageDir: storage,
	})
	return NewHolder(cfg, logbus.New(), metrics.New(), load), storage
}

func stageModel(t *testing.T, storage, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(storage, name+".gguf"), []byte("gguf"), 0o644))
}

func TestEnsureLoadsAndReuses(t *testing.T) {
	t.Parallel()

	var loads atomic.Int32
	holder, storage := newTestHolder(t, func(path, name string) (Engine, error) {
		loads.Add(1)
		return &fakeEngine{name: name}, nil
	})
	stageModel(t, storage, "a")

	first, err := holder.Ensure("a")
	require.NoError(t, err)
	second, err := holder.Ensure("a")
	require.NoError(t, err)

	require.Same(t, first, second)
	require.Equal(t, int32(1), loads.Load())
	require.Equal(t, "a", holder.CurrentName())
}

func TestEnsureSwapClosesPrevious(t *testing.T) {
	t.Parallel()

	holder, storage := newTestHolder(t, func(path, name string) (Engine, error) {
		return &fakeEngine{name: name}, nil
	})
	stageModel(t, storage, "a")
	stageModel(t, storage, "b")

	first, err := holder.Ensure("a")
	require.NoError(t, err)
	_, err = holder.Ensure("b")
	require.NoError(t, err)

	require.Equal(t, "b", holder.CurrentName())
	require.True(t, first.(*fakeEngine).closed.Load())
}

func TestEnsureUnknownModel(t *testing.T) {
	t.Parallel()

	holder, _ := newTestHolder(t, func(path, name string) (Engine, error) {
		t.Fatal("load must not be called for unresolvable models")
		return nil, nil
	})

	_, err := holder.Ensure("missing")
	require.Error(t, err)

	_, err = holder.Ensure("")
	require.ErrorIs(t, err, ErrNoEngine)
}

func TestConcurrentEnsureEachSeesItsOwnModel(t *testing.T) {
	t.Parallel()

	holder, storage := newTestHolder(t, func(path, name string) (Engine, error) {
		return &fakeEngine{name: name}, nil
	})
	stageModel(t, storage, "a")
	stageModel(t, storage, "b")

	_, err := holder.Ensure("a")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, model := range []string{"a", "b", "a", "b"} {
		wg.Add(1)
		go func(model string) {
			defer wg.Done()
			engine, err := holder.Ensure(model)
			if err != nil {
				t.Errorf("Ensure(%s): %v", model, err)
				return
			}
			if engine.ModelName() != model {
				t.Errorf("Ensure(%s) returned engine for %s", model, engine.ModelName())
			}
		}(model)
	}
	wg.Wait()
}

func TestConcurrentFirstLoadsCoalesce(t *testing.T) {
	t.Parallel()

	var loads atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	holder, storage := newTestHolder(t, func(path, name string) (Engine, error) {
		if loads.Add(1) == 1 {
			close(started)
			<-release
		}
		return &fakeEngine{name: name}, nil
	})
	stageModel(t, storage, "a")

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := holder.Ensure("a"); err != nil {
				t.Errorf("Ensure: %v", err)
			}
		}()
	}
	<-started
	close(release)
	wg.Wait()

	require.Equal(t, int32(1), loads.Load())
}

func TestBuildChatPromptDeterministic(t *testing.T) {
	t.Parallel()

	messages := []ChatMessage{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
		{Role: "tool", Content: "ignored role"},
	}

	want := "[SYSTEM]\nbe brief\n[USER]\nhi\n[ASSISTANT]\nhello\n[USER]\nignored role\n[ASSISTANT]\n"
	require.Equal(t, want, BuildChatPrompt(messages))
	require.Equal(t, BuildChatPrompt(messages), BuildChatPrompt(messages))
}

func TestBuildChatPromptEmpty(t *testing.T) {
	t.Parallel()
	require.Equal(t, "[ASSISTANT]\n", BuildChatPrompt(nil))
}

func TestHolderClose(t *testing.T) {
	t.Parallel()

	holder, storage := newTestHolder(t, func(path, name string) (Engine, error) {
		return &fakeEngine{name: name}, nil
	})
	stageModel(t, storage, "a")

	engine, err := holder.Ensure("a")
	require.NoError(t, err)
	require.NoError(t, holder.Close())
	require.True(t, engine.(*fakeEngine).closed.Load())

	_, ok := holder.Current()
	require.False(t, ok)
}
