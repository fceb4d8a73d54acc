package types

// GenerateRequest is the payload for POST /sessions/{id}/generate.
// Zero-valued sampling fields inherit the session's loaded config.
type GenerateRequest struct {
	// Required prompt text to generate a completion for.
	// example: Write a haiku about the ocean.
	Prompt string `json:"prompt" example:"Write a haiku about the ocean."`
	// Maximum number of new tokens to generate.
	// example: 128
	MaxTokens int `json:"max_tokens,omitempty" example:"128"`
	// Sampling temperature (higher = more random).
	// example: 0.7
	Temperature float32 `json:"temperature,omitempty" example:"0.7"`
	// Nucleus sampling probability.
	// example: 0.9
	TopP float32 `json:"top_p,omitempty" example:"0.9"`
	// Top-K sampling: limit candidates to top K tokens.
	// example: 40
	TopK int `json:"top_k,omitempty" example:"40"`
	// Repetition penalty over the trailing token window.
	// example: 1.1
	RepeatPenalty float32 `json:"repeat_penalty,omitempty" example:"1.1"`
	// Random seed for reproducibility; nil lets the session config decide.
	// example: 42
	Seed *int64 `json:"seed,omitempty" example:"42"`
}

// Overlay applies the request's non-zero overrides to a base config and
// reports whether anything changed.
func (r GenerateRequest) Overlay(base GenerationConfig) (GenerationConfig, bool) {
	out := base
	if r.MaxTokens > 0 {
		out.MaxTokens = r.MaxTokens
	}
	if r.Temperature > 0 {
		out.Temperature = r.Temperature
	}
	if r.TopP > 0 {
		out.TopP = r.TopP
	}
	if r.TopK > 0 {
		out.TopK = r.TopK
	}
	if r.RepeatPenalty > 0 {
		out.RepeatPenalty = r.RepeatPenalty
	}
	if r.Seed != nil {
		out.Seed = *r.Seed
	}
	return out, out != base
}

// LoadRequest is the payload for POST /sessions/{id}/load.
type LoadRequest struct {
	// Model id from the registry.
	// example: tinyllama-q4
	Model string `json:"model" example:"tinyllama-q4"`
	// Optional config; omitted fields fall back to server defaults.
	Config *GenerationConfig `json:"config,omitempty"`
}

// CreateSessionResponse is returned by POST /sessions.
type CreateSessionResponse struct {
	// Opaque session identifier.
	// example: s-01
	ID string `json:"id" example:"s-01"`
}

// SessionStatus summarizes one session for GET /sessions/{id} and /status.
type SessionStatus struct {
	// Opaque session identifier.
	// example: s-01
	ID string `json:"id" example:"s-01"`
	// ID of the loaded model, empty when unloaded.
	// example: tinyllama-q4
	ModelID string `json:"model_id,omitempty" example:"tinyllama-q4"`
	// Whether a model is currently loaded.
	Loaded bool `json:"loaded"`
	// Whether a generation is in flight.
	Generating bool `json:"generating"`
	// Last error recorded on the session, empty when none.
	LastError string `json:"last_error,omitempty"`
	// Last time this session served a request (unix seconds).
	// example: 1700000000
	LastUsed int64 `json:"last_used_unix" example:"1700000000"`
	// Current queue length for incoming requests.
	// example: 0
	QueueLen int `json:"queue_len" example:"0"`
	// Number of in-flight requests currently being processed.
	// example: 1
	Inflight int `json:"inflight" example:"1"`
	// Maximum queued requests allowed before backpressure triggers.
	// example: 32
	MaxQueueDepth int `json:"max_queue_depth" example:"32"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Live sessions.
	Sessions []SessionStatus `json:"sessions"`
	// Maximum number of concurrent sessions.
	// example: 4
	MaxSessions int `json:"max_sessions" example:"4"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
	// Total sessions evicted to stay within the budget.
	// example: 2
	EvictionsTotal uint64 `json:"evictions_total" example:"2"`
	// Total model loads performed.
	// example: 12
	LoadsTotal uint64 `json:"loads_total" example:"12"`
}

// ModelsResponse wraps the list of models returned by GET /models.
type ModelsResponse struct {
	// List of available models.
	Models []Model `json:"models"`
}

// VersionResponse is returned by GET /version.
type VersionResponse struct {
	// Library version plus backend variant.
	// example: 0.1.1 (llama.cpp)
	Version string `json:"version" example:"0.1.1 (llama.cpp)"`
}

// StreamChunk is one NDJSON line of a streaming generate response:
// token lines carry Token, the final line carries Done plus the
// generation summary, and a mid-stream failure carries Error.
type StreamChunk struct {
	// Token text, present on token lines.
	// example: Hello
	Token string `json:"token,omitempty" example:"Hello"`
	// True on the final line.
	Done bool `json:"done,omitempty"`
	// Why generation stopped: eos, length, cancel or soft_stop.
	// example: eos
	FinishReason string `json:"finish_reason,omitempty" example:"eos"`
	// Prompt length in tokens after truncation.
	// example: 24
	PromptTokens int `json:"prompt_tokens,omitempty" example:"24"`
	// Number of tokens generated.
	// example: 57
	GeneratedTokens int `json:"generated_tokens,omitempty" example:"57"`
	// Whether the prompt was truncated to fit the context window.
	Truncated bool `json:"truncated,omitempty"`
	// Wall-clock generation time in milliseconds.
	// example: 1843
	DurationMs int64 `json:"duration_ms,omitempty" example:"1843"`
	// Error message when the stream failed after tokens were sent.
	Error string `json:"error,omitempty"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}
