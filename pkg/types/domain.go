package types

import "fmt"

// Token is an opaque vocabulary id meaningful only to the inference
// backend. Sequences are ordered and may contain duplicates.
type Token int32

// Model represents a discoverable or loadable LLM model on disk.
type Model struct {
	// Stable identifier for the model.
	// example: tinyllama-q4
	ID string `json:"id" example:"tinyllama-q4"`
	// Human-friendly name.
	// example: TinyLlama (Q4)
	Name string `json:"name" example:"TinyLlama (Q4)"`
	// Absolute path to the model file on disk.
	// example: /home/user/models/TinyLlama.Q4_K_M.gguf
	Path string `json:"path" example:"/home/user/models/TinyLlama.Q4_K_M.gguf"`
	// Quantization level or variant string.
	// example: Q4_K_M
	Quant string `json:"quant" example:"Q4_K_M"`
	// Optional family (e.g., llama, mistral, phi).
	// example: llama
	Family string `json:"family,omitempty" example:"llama"`
}

// GenerationConfig holds context, threading and sampling parameters for
// a loaded model. It is treated as an immutable value: changing any
// field between generations rebuilds the sampler pipeline.
type GenerationConfig struct {
	// Context window size in tokens.
	// example: 2048
	ContextSize int `json:"context_size" yaml:"context_size" toml:"context_size" example:"2048"`
	// Batch size for chunked prompt evaluation.
	// example: 512
	BatchSize int `json:"batch_size" yaml:"batch_size" toml:"batch_size" example:"512"`
	// Worker threads for single-token decode.
	// example: 4
	Threads int `json:"threads" yaml:"threads" toml:"threads" example:"4"`
	// Worker threads for batch decode.
	// example: 4
	ThreadsBatch int `json:"threads_batch" yaml:"threads_batch" toml:"threads_batch" example:"4"`
	// Sampling temperature (higher = more random). <= 0 disables scaling.
	// example: 0.7
	Temperature float32 `json:"temperature" yaml:"temperature" toml:"temperature" example:"0.7"`
	// Nucleus sampling probability; >= 1 disables the filter.
	// example: 0.9
	TopP float32 `json:"top_p" yaml:"top_p" toml:"top_p" example:"0.9"`
	// Top-K sampling; 0 disables the filter.
	// example: 40
	TopK int `json:"top_k" yaml:"top_k" toml:"top_k" example:"40"`
	// Repetition penalty; 1.0 disables it.
	// example: 1.1
	RepeatPenalty float32 `json:"repeat_penalty" yaml:"repeat_penalty" toml:"repeat_penalty" example:"1.1"`
	// Maximum number of new tokens to generate.
	// example: 512
	MaxTokens int `json:"max_tokens" yaml:"max_tokens" toml:"max_tokens" example:"512"`
	// Random seed. Negative means derive from wall clock (non-reproducible).
	// example: 42
	Seed int64 `json:"seed" yaml:"seed" toml:"seed" example:"42"`
	// Memory-map the model file when the backend supports it.
	UseMmap bool `json:"use_mmap" yaml:"use_mmap" toml:"use_mmap"`
	// Lock model pages in memory when the backend supports it.
	UseMlock bool `json:"use_mlock" yaml:"use_mlock" toml:"use_mlock"`
	// Layers to offload to GPU (0 = CPU only).
	GPULayers int `json:"gpu_layers" yaml:"gpu_layers" toml:"gpu_layers"`
}

// DefaultGenerationConfig returns the stock configuration.
func DefaultGenerationConfig() GenerationConfig {
	return GenerationConfig{
		ContextSize:   2048,
		BatchSize:     512,
		Threads:       4,
		ThreadsBatch:  4,
		Temperature:   0.7,
		TopP:          0.9,
		TopK:          40,
		RepeatPenalty: 1.1,
		MaxTokens:     512,
		Seed:          -1,
		UseMmap:       true,
	}
}

// Validate checks the invariants a config must satisfy before use.
func (c GenerationConfig) Validate() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be > 0, got %d", c.BatchSize)
	}
	if c.TopK < 0 {
		return fmt.Errorf("top_k must be >= 0, got %d", c.TopK)
	}
	if c.TopP < 0 || c.TopP > 1 {
		return fmt.Errorf("top_p must be in [0,1], got %g", c.TopP)
	}
	if c.ContextSize <= 0 {
		return fmt.Errorf("context_size must be > 0, got %d", c.ContextSize)
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("max_tokens must be > 0, got %d", c.MaxTokens)
	}
	return nil
}
