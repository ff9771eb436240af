package inference

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os/exec"
	"strconv"
	"time"

	"github.com/inaim-finailabz/aurora/internal/logbus"
)

const (
	llamaStartTimeout = 60 * time.Second
	llamaHealthPoll   = 300 * time.Millisecond
)

// llamaEngine runs one llama-server subprocess bound to loopback and speaks
// its /completion endpoint. Swapping models means stopping this process and
// starting a new one.
type llamaEngine struct {
	name    string
	baseURL string
	cmd     *exec.Cmd
	client  *http.Client
}

// NewLlamaLoader returns the production LoadFunc. Each load resolves the
// backend binary (once per process), starts llama-server for the model file
// and waits until its health endpoint answers.
func NewLlamaLoader(bus *logbus.Bus) LoadFunc {
	return func(path, name string) (Engine, error) {
		bin, err := backendBinary()
		if err != nil {
			return nil, err
		}

		port, err := freePort()
		if err != nil {
			return nil, fmt.Errorf("allocate engine port: %w", err)
		}
		baseURL := "http://127.0.0.1:" + strconv.Itoa(port)

		cmd := exec.Command(bin,
			"--host", "127.0.0.1",
			"--port", strconv.Itoa(port),
			"--alias", name,
			"-m", path,
			"--log-disable",
		)
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("start llama-server: %w", err)
		}

		engine := &llamaEngine{
			name:    name,
			baseURL: baseURL,
			cmd:     cmd,
			// Generate calls run to completion with no client timeout.
			client: &http.Client{},
		}
		if err := waitForHealth(baseURL, llamaStartTimeout); err != nil {
			_ = engine.Close()
			return nil, err
		}
		bus.Infof("llama-server ready for %s on %s", name, baseURL)
		return engine, nil
	}
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	port := l.Addr().(*net.TCPAddr).Port
	_ = l.Close()
	return port, nil
}

func waitForHealth(baseURL string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	client := &http.Client{Timeout: time.Second}
	for {
		resp, err := client.Get(baseURL + "/health")
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("llama-server did not become ready at %s", baseURL)
		}
		time.Sleep(llamaHealthPoll)
	}
}

func (e *llamaEngine) ModelName() string {
	return e.name
}

type completionRequest struct {
	Prompt      string  `json:"prompt"`
	NPredict    int     `json:"n_predict"`
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	Stream      bool    `json:"stream"`
}

type completionResponse struct {
	Content string `json:"content"`
}

func (e *llamaEngine) Generate(prompt string, opts Options) (string, error) {
	body, err := json.Marshal(completionRequest{
		Prompt:      prompt,
		NPredict:    opts.MaxTokens,
		Temperature: opts.Temperature,
		TopP:        opts.TopP,
	})
	if err != nil {
		return "", err
	}

	resp, err := e.client.Post(e.baseURL+"/completion", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("completion request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("completion failed: HTTP %d: %s", resp.StatusCode, payload)
	}

	var parsed completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode completion: %w", err)
	}
	return parsed.Content, nil
}

func (e *llamaEngine) Close() error {
	if e.cmd == nil || e.cmd.Process == nil {
		return nil
	}
	if err := e.cmd.Process.Kill(); err != nil {
		return err
	}
	_, err := e.cmd.Process.Wait()
	return err
}
