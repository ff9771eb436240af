// Package pull streams model files from a remote repository into the
// storage directory, broadcasting progress over the log bus and registering
// the model on success.
package pull

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/inaim-finailabz/aurora/internal/catalog"
	"github.com/inaim-finailabz/aurora/internal/config"
	"github.com/inaim-finailabz/aurora/internal/logbus"
	"github.com/inaim-finailabz/aurora/internal/metrics"
)

// DefaultBaseURL is the repository host model files are resolved against.
const DefaultBaseURL = "https://huggingface.co"

const userAgent = "Aurora/0.1"

// progressInterval and progressBytes rate-limit progress events: one event
// every interval, or whenever a 10 MiB boundary is crossed.
const (
	progressInterval = 2 * time.Second
	progressBytes    = 10 * 1024 * 1024
)

var shardPattern = regexp.MustCompile(`^(.+)-00001-of-(\d+)\.gguf$`)

// Request describes one pull. Revision is accepted for API compatibility
// and logged; files always resolve against the main revision.
type Request struct {
	Name      string `json:"name"`
	RepoID    string `json:"repo_id"`
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder,omitempty"`
	Revision  string `json:"revision,omitempty"`
	DirectURL string `json:"direct_url,omitempty"`
	Source    string `json:"source,omitempty"`
}

// ExpandShards expands a first-shard filename into the complete ordered
// shard set. A non-shard filename expands to itself.
func ExpandShards(filename string) []string {
	m := shardPattern.FindStringSubmatch(filename)
	if m == nil {
		return []string{filename}
	}
	prefix := m[1]
	total, err := strconv.Atoi(m[2])
	if err != nil || total < 1 {
		return []string{filename}
	}
	width := len(m[2])
	files := make([]string, 0, total)
	for i := 1; i <= total; i++ {
		files = append(files, fmt.Sprintf("%s-%0*d-of-%0*d.gguf", prefix, width, i, width, total))
	}
	return files
}

// BuildURL resolves a repository file to its download URL.
func BuildURL(base, repoID, subfolder, file string) string {
	if subfolder != "" {
		return fmt.Sprintf("%s/%s/resolve/main/%s/%s", base, repoID, subfolder, file)
	}
	return fmt.Sprintf("%s/%s/resolve/main/%s", base, repoID, file)
}

// Worker downloads models in the background. There is no per-name mutual
// exclusion: concurrent pulls of one name race and the last registry writer
// wins, which is safe because existing destination files are skipped.
type Worker struct {
	cfg     *config.Store
	catalog *catalog.Manager
	bus     *logbus.Bus
	metrics *metrics.Metrics

	// BaseURL and Client may be swapped before the first Start call.
	BaseURL string
	Client  *http.Client

	wg sync.WaitGroup
}

// NewWorker returns a worker with the one-hour transfer timeout.
func NewWorker(cfg *config.Store, cat *catalog.Manager, bus *logbus.Bus, m *metrics.Metrics) *Worker {
	return &Worker{
		cfg:     cfg,
		catalog: cat,
		bus:     bus,
		metrics: m,
		BaseURL: DefaultBaseURL,
		Client:  &http.Client{Timeout: time.Hour},
	}
}

// Start launches the pull in the background. Errors surface only through
// the log bus; the HTTP caller has already been answered.
func (w *Worker) Start(req Request) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.Run(req)
	}()
}

// Wait blocks until every started pull has finished.
func (w *Worker) Wait() {
	w.wg.Wait()
}

// Run executes one pull synchronously: download, register, set default.
func (w *Worker) Run(req Request) {
	sourceDesc := req.DirectURL
	if sourceDesc == "" {
		sourceDesc = req.RepoID + "/" + req.Filename
	}
	w.bus.Model("PULL", req.Name, "starting download from "+sourceDesc)
	w.bus.Download(req.Name, "Preparing to download from %s", sourceDesc)

	modelPath, err := w.download(req)
	if err != nil {
		w.bus.Errorf("Download failed for %s: %v", req.Name, err)
		w.bus.Download(req.Name, "✗ Download failed: %v", err)
		return
	}

	source := req.Source
	if source == "" {
		source = "pulled"
	}
	entry := catalog.ModelEntry{
		Name:     req.Name,
		Path:     modelPath,
		RepoID:   req.RepoID,
		Filename: req.Filename,
		Source:   source,
	}
	if err := w.catalog.Upsert(entry); err != nil {
		w.bus.Errorf("Failed to save registry: %v", err)
	} else {
		w.bus.Model("REGISTRY", req.Name, "model registered successfully")
		w.bus.Download(req.Name, "✓ Model registered in local registry")
	}

	if err := w.cfg.Update(func(c *config.AppConfig) {
		c.DefaultModel = req.Name
	}); err != nil {
		w.bus.Errorf("Failed to save config: %v", err)
	} else {
		w.bus.Model("DEFAULT", req.Name, "set as default model")
		w.bus.Download(req.Name, "✓ Set as default model")
	}

	w.bus.Model("COMPLETE", req.Name, "✓ Model ready at "+modelPath)
	w.bus.Download(req.Name, "✓ Download complete! Model is ready to use.")
}

// download fetches every file of the request into storage_dir/<name>/ and
// returns the path of the primary file. Already-present destinations are
// skipped, which also makes partial-retry converge.
func (w *Worker) download(req Request) (string, error) {
	modelDir := filepath.Join(w.cfg.StorageDir(), req.Name)
	if err := os.MkdirAll(modelDir, 0o755); err != nil {
		return "", fmt.Errorf("create model dir: %w", err)
	}

	type transfer struct {
		file string
		url  string
	}
	var transfers []transfer
	if req.DirectURL != "" {
		transfers = []transfer{{file: req.Filename, url: req.DirectURL}}
	} else {
		for _, file := range ExpandShards(req.Filename) {
			transfers = append(transfers, transfer{
				file: file,
				url:  BuildURL(w.BaseURL, req.RepoID, req.Subfolder, file),
			})
		}
	}

	for i, tr := range transfers {
		dest := filepath.Join(modelDir, tr.file)
		if _, err := os.Stat(dest); err == nil {
			w.bus.Download(req.Name, "File %s already exists, skipping", tr.file)
			continue
		}

		w.bus.Download(req.Name, "Starting download (%d/%d) from %s", i+1, len(transfers), tr.url)
		if err := w.downloadFile(req.Name, tr.url, tr.file, dest); err != nil {
			return "", err
		}
	}

	return filepath.Join(modelDir, req.Filename), nil
}

func (w *Worker) downloadFile(name, url, file, dest string) error {
	httpReq, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	httpReq.Header.Set("User-Agent", userAgent)

	resp, err := w.Client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("failed to download %s: HTTP %d - %s",
			file, resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	total := resp.ContentLength
	if total > 0 {
		w.bus.Download(name, "File size: %.2fMB", float64(total)/1048576.0)
	}

	// Written straight to the destination: a partial file is deliberately
	// left behind and recognized as existing on retry.
	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}

	var downloaded int64
	lastLog := time.Now()
	buf := make([]byte, 128*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := out.Write(buf[:n]); err != nil {
				_ = out.Close()
				return fmt.Errorf("write destination: %w", err)
			}
			downloaded += int64(n)
			if w.metrics != nil {
				w.metrics.AddPullBytes(int64(n))
			}
			if time.Since(lastLog) > progressInterval || downloaded%progressBytes < int64(n) {
				w.logProgress(name, file, downloaded, total)
				lastLog = time.Now()
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			_ = out.Close()
			return fmt.Errorf("read response: %w", readErr)
		}
	}

	w.logProgress(name, file, downloaded, total)
	w.bus.Download(name, "✓ Downloaded %s (%.2fMB)", file, float64(downloaded)/1048576.0)
	return out.Close()
}

func (w *Worker) logProgress(name, file string, downloaded, total int64) {
	if total > 0 {
		pct := float64(downloaded) / float64(total) * 100
		if pct > 100 {
			pct = 100
		}
		w.bus.Download(name, "%s - %.2fMB / %.2fMB (%.1f%%)",
			file, float64(downloaded)/1048576.0, float64(total)/1048576.0, pct)
		return
	}
	w.bus.Download(name, "%s - %.2fMB (??%%)", file, float64(downloaded)/1048576.0)
}
