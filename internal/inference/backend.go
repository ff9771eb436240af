package inference

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
)

// The inference backend is initialized exactly once per process: the first
// load resolves the llama-server binary and every later load reuses it.
// Concurrent first-loads serialize on the sync.Once.
var (
	backendOnce sync.Once
	backendPath string
	backendErr  error
)

// backendBinary resolves the llama-server executable. AURORA_LLAMA_SERVER
// overrides PATH lookup.
func backendBinary() (string, error) {
	backendOnce.Do(func() {
		if override := os.Getenv("AURORA_LLAMA_SERVER"); override != "" {
			if _, err := os.Stat(override); err != nil {
				backendErr = fmt.Errorf("AURORA_LLAMA_SERVER: %w", err)
				return
			}
			backendPath = override
			return
		}
		path, err := exec.LookPath("llama-server")
		if err != nil {
			backendErr = fmt.Errorf("llama-server not found in PATH: %w", err)
			return
		}
		backendPath = path
	})
	return backendPath, backendErr
}
