package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// CustomModelsFileName is the custom-model registry under the storage dir.
const CustomModelsFileName = "custom-models.json"

// ErrInvalidCustomModel is returned for custom models failing validation.
var ErrInvalidCustomModel = errors.New("invalid custom model")

// ErrCustomModelNotFound is returned when a custom model does not exist.
var ErrCustomModelNotFound = errors.New("custom model not found")

// ModelParameters are the generation knobs attached to custom models and
// templates.
type ModelParameters struct {
	Temperature   float64  `json:"temperature"`
	TopP          float64  `json:"top_p"`
	TopK          *int     `json:"top_k,omitempty"`
	RepeatPenalty *float64 `json:"repeat_penalty,omitempty"`
	ContextLength *int     `json:"context_length,omitempty"`
	MaxTokens     int      `json:"max_tokens"`
	StopSequences []string `json:"stop_sequences"`
}

// DefaultParameters returns the baseline generation parameters.
func DefaultParameters() ModelParameters {
	return ModelParameters{
		Temperature: 0.7,
		TopP:        0.95,
		MaxTokens:   512,
	}
}

// CustomModel is a Modelfile-like layer over a base model: a system prompt,
// a user-prompt template with a {{prompt}} placeholder, and parameters.
type CustomModel struct {
	Name         string          `json:"name"`
	BaseModel    string          `json:"base_model"`
	SystemPrompt string          `json:"system_prompt,omitempty"`
	Template     string          `json:"template,omitempty"`
	Parameters   ModelParameters `json:"parameters"`
	Description  string          `json:"description,omitempty"`
}

type customModelsFile struct {
	Models []CustomModel `json:"models"`
}

func (m *Manager) customModelsPath() string {
	return filepath.Join(m.cfg.StorageDir(), CustomModelsFileName)
}

func loadCustomModels(path string) []CustomModel {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var file customModelsFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil
	}
	return file.Models
}

func saveCustomModels(path string, models []CustomModel) error {
	if models == nil {
		models = []CustomModel{}
	}
	data, err := json.MarshalIndent(customModelsFile{Models: models}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode custom models: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create custom models dir: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ListCustom returns every stored custom model.
func (m *Manager) ListCustom() []CustomModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return loadCustomModels(m.customModelsPath())
}

// GetCustom returns one custom model by name.
func (m *Manager) GetCustom(name string) (CustomModel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cm := range loadCustomModels(m.customModelsPath()) {
		if cm.Name == name {
			return cm, nil
		}
	}
	return CustomModel{}, fmt.Errorf("%w: %s", ErrCustomModelNotFound, name)
}

// UpsertCustom validates and stores a custom model, replacing any existing
// model with the same name.
func (m *Manager) UpsertCustom(cm CustomModel) error {
	if strings.TrimSpace(cm.Name) == "" {
		return fmt.Errorf("%w: model name cannot be empty", ErrInvalidCustomModel)
	}
	if strings.TrimSpace(cm.BaseModel) == "" {
		return fmt.Errorf("%w: base model must be specified", ErrInvalidCustomModel)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	path := m.customModelsPath()
	models := loadCustomModels(path)
	kept := models[:0]
	for _, existing := range models {
		if existing.Name != cm.Name {
			kept = append(kept, existing)
		}
	}
	kept = append(kept, cm)
	return saveCustomModels(path, kept)
}

// DeleteCustom removes one custom model by name.
func (m *Manager) DeleteCustom(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	path := m.customModelsPath()
	models := loadCustomModels(path)
	kept := models[:0]
	found := false
	for _, cm := range models {
		if cm.Name == name {
			found = true
			continue
		}
		kept = append(kept, cm)
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrCustomModelNotFound, name)
	}
	return saveCustomModels(path, kept)
}
