package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/inaim-finailabz/aurora/internal/config"
)

func TestCustomModelCRUD(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, config.AppConfig{})

	cm := CustomModel{
		Name:         "helper",
		BaseModel:    "llama",
		SystemPrompt: "Be helpful.",
		Template:     "User: {{prompt}}\n",
		Parameters:   DefaultParameters(),
	}
	require.NoError(t, m.UpsertCustom(cm))

	got, err := m.GetCustom("helper")
	require.NoError(t, err)
	require.Equal(t, "llama", got.BaseModel)

	cm.BaseModel = "phi"
	require.NoError(t, m.UpsertCustom(cm))
	require.Len(t, m.ListCustom(), 1)

	got, err = m.GetCustom("helper")
	require.NoError(t, err)
	require.Equal(t, "phi", got.BaseModel)

	require.NoError(t, m.DeleteCustom("helper"))
	require.Empty(t, m.ListCustom())
	require.ErrorIs(t, m.DeleteCustom("helper"), ErrCustomModelNotFound)
}

func TestUpsertCustomValidation(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, config.AppConfig{})

	err := m.UpsertCustom(CustomModel{Name: "  ", BaseModel: "llama"})
	require.ErrorIs(t, err, ErrInvalidCustomModel)

	err = m.UpsertCustom(CustomModel{Name: "x", BaseModel: ""})
	require.ErrorIs(t, err, ErrInvalidCustomModel)
}

func TestGetCustomNotFound(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, config.AppConfig{})
	_, err := m.GetCustom("nope")
	require.ErrorIs(t, err, ErrCustomModelNotFound)
}

func TestBuiltinTemplates(t *testing.T) {
	t.Parallel()

	templates := BuiltinTemplates()
	require.Len(t, templates, 6)

	ids := make([]string, len(templates))
	for i, tpl := range templates {
		ids[i] = tpl.ID
		require.NotEmpty(t, tpl.SystemPrompt, "template %s", tpl.ID)
		require.Contains(t, tpl.Template, "{{prompt}}", "template %s", tpl.ID)
		require.Greater(t, tpl.Parameters.MaxTokens, 0, "template %s", tpl.ID)
	}
	require.Equal(t, []string{"assistant", "coder", "writer", "analyst", "translator", "chat"}, ids)
}

func TestLoadPopularModels(t *testing.T) {
	t.Parallel()

	t.Run("missing file yields empty catalog", func(t *testing.T) {
		models, _, err := LoadPopularModels(t.TempDir())
		require.NoError(t, err)
		require.Empty(t, models)
	})

	t.Run("parses storage-dir catalog", func(t *testing.T) {
		storage := t.TempDir()
		body := "models:\n  - id: org/llama\n    title: Llama\n    recommended_quant: Q4_K_M\n    gguf: llama-q4.gguf\n"
		require.NoError(t, os.WriteFile(filepath.Join(storage, PopularModelsFileName), []byte(body), 0o644))

		models, path, err := LoadPopularModels(storage)
		require.NoError(t, err)
		require.Equal(t, filepath.Join(storage, PopularModelsFileName), path)
		require.Len(t, models, 1)
		require.Equal(t, "org/llama", models[0].ID)
		require.Equal(t, "Q4_K_M", models[0].RecommendedQuant)
	})

	t.Run("broken catalog surfaces an error", func(t *testing.T) {
		storage := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(storage, PopularModelsFileName), []byte("models: ["), 0o644))

		_, _, err := LoadPopularModels(storage)
		require.Error(t, err)
	})
}
