package catalog

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// PopularModelsFileName is the bundled catalog of recommended models.
const PopularModelsFileName = "popular-models.yaml"

// PopularModel is one entry of the bundled catalog.
type PopularModel struct {
	ID               string `yaml:"id" json:"id"`
	Title            string `yaml:"title,omitempty" json:"title,omitempty"`
	Description      string `yaml:"description,omitempty" json:"description,omitempty"`
	RecommendedQuant string `yaml:"recommended_quant,omitempty" json:"recommended_quant,omitempty"`
	GGUF             string `yaml:"gguf,omitempty" json:"gguf,omitempty"`
}

type popularModelsFile struct {
	Models []PopularModel `yaml:"models"`
}

// LoadPopularModels searches the usual locations for popular-models.yaml and
// parses the first file found. A missing file is not an error: the catalog
// is simply empty. A present but unparseable file is.
func LoadPopularModels(storageDir string) ([]PopularModel, string, error) {
	paths := []string{
		filepath.Join(storageDir, PopularModelsFileName),
		PopularModelsFileName,
	}
	if exe, err := os.Executable(); err == nil {
		paths = append(paths, filepath.Join(filepath.Dir(exe), PopularModelsFileName))
	}
	if cfgDir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(cfgDir, "aurora", PopularModelsFileName))
	}

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var file popularModelsFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, path, fmt.Errorf("parse %s: %w", PopularModelsFileName, err)
		}
		return file.Models, path, nil
	}

	return []PopularModel{}, "", nil
}
