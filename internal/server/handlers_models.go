package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/inaim-finailabz/aurora/internal/catalog"
	"github.com/inaim-finailabz/aurora/internal/config"
)

func (s *Server) handleHealth(c *gin.Context) {
	modelName := s.holder.CurrentName()
	loaded := modelName != ""
	if modelName == "" {
		modelName = s.cfg.DefaultModel()
	}

	s.bus.Request("GET", "/health", fmt.Sprintf("model=%s, loaded=%t", modelName, loaded))
	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"llama":         loaded,
		"default_model": modelName,
	})
}

func (s *Server) handleGetSettings(c *gin.Context) {
	cfg := s.cfg.Snapshot()
	s.bus.Request("GET", "/api/settings", "fetching configuration")
	s.bus.Response(http.StatusOK, "/api/settings", "storage_dir="+cfg.StorageDir)
	c.JSON(http.StatusOK, gin.H{
		"host":              cfg.Host,
		"storage_dir":       cfg.StorageDir,
		"default_model":     cfg.DefaultModel,
		"llama_server_path": "embedded",
		"llama_server_host": cfg.Host,
		"llama_server_port": cfg.Port,
		"llama_server_args": "",
	})
}

type settingsUpdate struct {
	Host         *string `json:"host"`
	StorageDir   *string `json:"storage_dir"`
	DefaultModel *string `json:"default_model"`
}

func (s *Server) handlePostSettings(c *gin.Context) {
	var body settingsUpdate
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	s.bus.Request("POST", "/api/settings", "updating configuration")
	err := s.cfg.Update(func(cfg *config.AppConfig) {
		if body.Host != nil {
			s.bus.Infof("  → host: %s", *body.Host)
			cfg.Host = *body.Host
		}
		if body.StorageDir != nil {
			s.bus.Infof("  → storage_dir: %s", *body.StorageDir)
			cfg.StorageDir = *body.StorageDir
		}
		if body.DefaultModel != nil {
			s.bus.Infof("  → default_model: %s", *body.DefaultModel)
			cfg.DefaultModel = *body.DefaultModel
		}
	})
	if err != nil {
		s.bus.Errorf("Failed to save config: %v", err)
	}

	s.bus.Response(http.StatusOK, "/api/settings", "configuration saved")
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleListModels(c *gin.Context) {
	s.bus.Request("GET", "/api/models", "listing available models")

	models, counts := s.catalog.List()
	if models == nil {
		models = []catalog.Model{}
	}

	s.bus.Response(http.StatusOK, "/api/models",
		fmt.Sprintf("found %d models (config=%d, registry=%d, discovered=%d)",
			len(models), counts.Config, counts.Registry, counts.Discovered))
	c.JSON(http.StatusOK, gin.H{"models": models})
}

func (s *Server) handleDeleteModel(c *gin.Context) {
	name := c.Param("name")
	s.bus.Request("DELETE", "/api/models", name)

	switch err := s.catalog.Delete(name); {
	case err == nil:
		s.bus.Response(http.StatusOK, "/api/models", "removed "+name)
		c.JSON(http.StatusOK, gin.H{"status": "removed", "name": name})
	case errors.Is(err, catalog.ErrConfigModel):
		s.bus.Errorf("Refusing to delete config-defined model: %s", name)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, catalog.ErrNotFound):
		s.bus.Errorf("Model not found for deletion: %s", name)
		c.JSON(http.StatusNotFound, gin.H{"error": "Model not found"})
	default:
		s.bus.Errorf("Failed to delete model %s: %v", name, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (s *Server) handlePopularModels(c *gin.Context) {
	s.bus.Request("GET", "/api/popular-models", "fetching popular models catalog")

	models, path, err := catalog.LoadPopularModels(s.cfg.StorageDir())
	if err != nil {
		s.bus.Errorf("Failed to load popular models: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if path == "" {
		s.bus.Response(http.StatusOK, "/api/popular-models", "no popular-models.yaml found, returning empty list")
	} else {
		s.bus.Response(http.StatusOK, "/api/popular-models",
			fmt.Sprintf("loaded %d models from %s", len(models), path))
	}
	c.JSON(http.StatusOK, models)
}

func (s *Server) handleTemplates(c *gin.Context) {
	s.bus.Request("GET", "/api/templates", "fetching model templates")
	templates := catalog.BuiltinTemplates()
	s.bus.Response(http.StatusOK, "/api/templates", fmt.Sprintf("returning %d templates", len(templates)))
	c.JSON(http.StatusOK, templates)
}

func (s *Server) handleListCustomModels(c *gin.Context) {
	s.bus.Request("GET", "/api/custom-models", "listing custom models")
	models := s.catalog.ListCustom()
	if models == nil {
		models = []catalog.CustomModel{}
	}
	s.bus.Response(http.StatusOK, "/api/custom-models", fmt.Sprintf("found %d custom models", len(models)))
	c.JSON(http.StatusOK, gin.H{"models": models})
}

func (s *Server) handleCreateCustomModel(c *gin.Context) {
	var body catalog.CustomModel
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	s.bus.Request("POST", "/api/custom-models", "creating custom model: "+body.Name)

	if err := s.catalog.UpsertCustom(body); err != nil {
		if errors.Is(err, catalog.ErrInvalidCustomModel) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.bus.Errorf("Failed to save custom model: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	s.bus.Response(http.StatusCreated, "/api/custom-models", "created custom model: "+body.Name)
	c.JSON(http.StatusCreated, gin.H{
		"status":     "created",
		"name":       body.Name,
		"base_model": body.BaseModel,
	})
}

func (s *Server) handleGetCustomModel(c *gin.Context) {
	name := c.Param("name")
	s.bus.Request("GET", "/api/custom-models", "fetching custom model: "+name)

	cm, err := s.catalog.GetCustom(name)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("Custom model '%s' not found", name)})
		return
	}
	s.bus.Response(http.StatusOK, "/api/custom-models", "found custom model: "+name)
	c.JSON(http.StatusOK, cm)
}

func (s *Server) handleDeleteCustomModel(c *gin.Context) {
	name := c.Param("name")
	s.bus.Request("DELETE", "/api/custom-models", "deleting custom model: "+name)

	if err := s.catalog.DeleteCustom(name); err != nil {
		if errors.Is(err, catalog.ErrCustomModelNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("Custom model '%s' not found", name)})
			return
		}
		s.bus.Errorf("Failed to delete custom model: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.bus.Response(http.StatusOK, "/api/custom-models", "deleted custom model: "+name)
	c.JSON(http.StatusOK, gin.H{"status": "deleted", "name": name})
}
