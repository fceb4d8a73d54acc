// Package backend defines the capability boundary to the inference
// runtime: tokenize, detokenize, batch decode, logits access, and
// end-of-sequence detection. The engine is written entirely against
// this interface; the real llama.cpp implementation is selected with
// the 'llama' build tag and a deterministic scripted implementation is
// available for tests.
package backend

import "inferd/pkg/types"

// Batch describes one chunk of tokens submitted for evaluation.
// Positions index into the backend's position space; Output marks the
// entries that must produce a sampleable distribution.
type Batch struct {
	Tokens    []types.Token
	Positions []int32
	Output    []bool
}

// Backend is the opaque inference runtime. Implementations own the
// model weights, the evaluation context and its cache. A Backend is
// not safe for concurrent use; callers serialize access.
type Backend interface {
	// Tokenize converts text to tokens, optionally prepending the
	// beginning-of-sequence marker.
	Tokenize(text string, addBOS bool) ([]types.Token, error)
	// Detokenize converts tokens back to text. Unknown tokens decode
	// to the empty string.
	Detokenize(tokens []types.Token) string
	// Decode evaluates one batch, advancing internal state. Logits for
	// the last Output-marked entry become available afterwards.
	Decode(b Batch) error
	// Logits returns the distribution for the last Output-marked entry
	// of the most recent Decode. The slice is owned by the backend and
	// only valid until the next Decode.
	Logits() []float32
	// IsEOS reports whether tok marks end-of-sequence.
	IsEOS(tok types.Token) bool
	// ContextSize returns the context window the backend was created with.
	ContextSize() int
	// ClearCache drops incremental evaluation state (KV cache).
	ClearCache()
	// Close releases all backend resources. Safe to call more than once.
	Close() error
}

// Factory creates a Backend for a model file. Implementations must
// release any partially acquired resource before returning an error.
type Factory func(modelPath string, cfg types.GenerationConfig) (Backend, error)

// dependencyUnavailableError signals a missing runtime dependency
// (e.g. a binary built without llama support) so the HTTP layer can
// return 503 instead of 500.
type dependencyUnavailableError struct{ msg string }

func (e dependencyUnavailableError) Error() string { return e.msg }

// ErrUnavailable constructs a dependency-unavailable error.
func ErrUnavailable(msg string) error { return dependencyUnavailableError{msg: msg} }

// IsUnavailable reports whether err indicates a missing runtime dependency.
func IsUnavailable(err error) bool {
	_, ok := err.(dependencyUnavailableError)
	return ok
}
