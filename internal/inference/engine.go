// Package inference holds the resident engine and swaps it on demand. The
// production engine is a managed llama-server subprocess; tests substitute
// their own LoadFunc.
package inference

import "errors"

// ErrNoEngine is returned when inference is attempted with nothing loaded.
var ErrNoEngine = errors.New("no model loaded")

// Options are the generation knobs a request may tune.
type Options struct {
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
}

// DefaultOptions returns the baseline generation parameters.
func DefaultOptions() Options {
	return Options{MaxTokens: 512, Temperature: 0.7, TopP: 0.95}
}

// Normalized fills unset knobs with the defaults. A nil receiver yields the
// defaults outright.
func (o *Options) Normalized() Options {
	opts := DefaultOptions()
	if o == nil {
		return opts
	}
	if o.MaxTokens > 0 {
		opts.MaxTokens = o.MaxTokens
	}
	if o.Temperature > 0 {
		opts.Temperature = o.Temperature
	}
	if o.TopP > 0 {
		opts.TopP = o.TopP
	}
	return opts
}

// Engine is one loaded model able to complete prompts. A generate call runs
// to completion; there is no cancellation token.
type Engine interface {
	// ModelName is the logical name the engine was loaded under.
	ModelName() string
	// Generate completes the prompt with the given options and returns the
	// full output text.
	Generate(prompt string, opts Options) (string, error)
	// Close releases the engine's resources.
	Close() error
}

// LoadFunc turns a resolved GGUF path and logical name into an Engine.
type LoadFunc func(path, name string) (Engine, error)
