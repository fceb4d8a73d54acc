//go:build !llama

package backend

// This file provides a no-CGO stub for the llama backend. It is
// compiled when the 'llama' build tag is NOT set, keeping default
// builds and CI CGO-free. The real backend lives in llama.go (tagged
// 'llama').

import "inferd/pkg/types"

// Variant identifies the compiled-in backend implementation.
const Variant = "stub"

// NewLlama fails fast: llama support was not compiled into this
// binary. No mocked behavior in production builds.
func NewLlama(modelPath string, cfg types.GenerationConfig) (Backend, error) {
	return nil, ErrUnavailable("llama support not built (missing 'llama' build tag)")
}
