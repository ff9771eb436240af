package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/inaim-finailabz/aurora/internal/catalog"
	"github.com/inaim-finailabz/aurora/internal/config"
	"github.com/inaim-finailabz/aurora/internal/inference"
	"github.com/inaim-finailabz/aurora/internal/logbus"
	"github.com/inaim-finailabz/aurora/internal/metrics"
	"github.com/inaim-finailabz/aurora/internal/pull"
	"github.com/inaim-finailabz/aurora/internal/server"
	"github.com/inaim-finailabz/aurora/internal/session"
)

var (
	flagConfig     string
	flagHost       string
	flagPort       int
	flagStorageDir string
)

func main() {
	root := &cobra.Command{
		Use:   "aurora",
		Short: "Local LLM inference server with model management",
		Long: "Aurora serves chat and completion requests against locally stored GGUF models,\n" +
			"manages downloads from model repositories, and persists chat sessions.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}

	root.Flags().StringVar(&flagConfig, "config", "", "path to config file (default: <user-config>/aurora/config.json)")
	root.Flags().StringVar(&flagHost, "host", "", "listen host (overrides config)")
	root.Flags().IntVar(&flagPort, "port", 0, "listen port (overrides config)")
	root.Flags().StringVar(&flagStorageDir, "storage-dir", "", "model storage directory (overrides config)")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	configPath := flagConfig
	if configPath == "" {
		path, err := config.DefaultPath()
		if err != nil {
			return err
		}
		configPath = path
	}

	appCfg := config.Load(configPath)
	if flagHost != "" {
		appCfg.Host = flagHost
	}
	if flagPort != 0 {
		appCfg.Port = flagPort
	}
	if flagStorageDir != "" {
		appCfg.StorageDir = flagStorageDir
	}
	appCfg.StorageDir = config.ResolveStorageDir(appCfg.StorageDir)

	// Persist the resolved configuration so the next start sees the same
	// storage directory even if resolution fell back.
	if err := config.Save(configPath, appCfg); err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not save config: %v\n", err)
	}

	cfg := config.NewStore(configPath, appCfg)

	bus := logbus.New()
	bus.SetMirror(func(line string) {
		fmt.Fprintln(os.Stderr, line)
	})

	cat := catalog.NewManager(cfg, bus)
	m := metrics.New()
	puller := pull.NewWorker(cfg, cat, bus, m)
	holder := inference.NewHolder(cfg, bus, m, inference.NewLlamaLoader(bus))

	sessions, err := session.Open(sessionDBPath())
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}

	srv := server.New(cfg, bus, cat, puller, holder, sessions, m)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		_ = sessions.Close()
		return err
	case sig := <-quit:
		bus.Infof("Received %s, shutting down", sig)
	}

	if err := srv.Stop(context.Background()); err != nil {
		bus.Errorf("Shutdown error: %v", err)
	}
	if err := holder.Close(); err != nil {
		bus.Errorf("Engine close error: %v", err)
	}
	if err := sessions.Close(); err != nil {
		bus.Errorf("Session store close error: %v", err)
	}
	bus.Infof("Aurora backend stopped")
	return nil
}

// sessionDBPath places the session database in the user data directory,
// falling back to the temp dir so a missing home never blocks startup.
func sessionDBPath() string {
	data, err := config.UserDataDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "aurora", "sessions.db")
	}
	return filepath.Join(data, "sessions.db")
}
