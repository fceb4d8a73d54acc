//go:build llama

package backend

/*
#include <stdlib.h>
#include "llama.h"
*/
import "C"

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"inferd/pkg/types"
)

// Variant identifies the compiled-in backend implementation.
const Variant = "llama.cpp"

var backendInitOnce sync.Once

// llamaBackend is the real Backend over llama.cpp, owning the model,
// the evaluation context and a reusable decode batch.
type llamaBackend struct {
	model *C.struct_llama_model
	ctx   *C.struct_llama_context
	vocab *C.struct_llama_vocab
	batch C.struct_llama_batch
	nCtx  int
}

// NewLlama loads a GGUF model and creates an evaluation context. Any
// partially acquired resource is released before an error returns.
func NewLlama(modelPath string, cfg types.GenerationConfig) (Backend, error) {
	backendInitOnce.Do(func() { C.llama_backend_init() })

	mparams := C.llama_model_default_params()
	mparams.n_gpu_layers = C.int32_t(cfg.GPULayers)
	mparams.use_mmap = C.bool(cfg.UseMmap)
	mparams.use_mlock = C.bool(cfg.UseMlock)

	cpath := C.CString(modelPath)
	defer C.free(unsafe.Pointer(cpath))
	model := C.llama_model_load_from_file(cpath, mparams)
	if model == nil {
		return nil, fmt.Errorf("failed to load model from %s", modelPath)
	}

	cparams := C.llama_context_default_params()
	cparams.n_ctx = C.uint32_t(cfg.ContextSize)
	cparams.n_batch = C.uint32_t(cfg.BatchSize)
	cparams.n_threads = C.int32_t(cfg.Threads)
	cparams.n_threads_batch = C.int32_t(cfg.ThreadsBatch)

	ctx := C.llama_init_from_model(model, cparams)
	if ctx == nil {
		C.llama_model_free(model)
		return nil, errors.New("failed to create llama context")
	}

	b := &llamaBackend{
		model: model,
		ctx:   ctx,
		vocab: C.llama_model_get_vocab(model),
		batch: C.llama_batch_init(C.int32_t(cfg.BatchSize), 0, 1),
		nCtx:  int(C.llama_n_ctx(ctx)),
	}
	return b, nil
}

func (b *llamaBackend) Tokenize(text string, addBOS bool) ([]types.Token, error) {
	ctext := C.CString(text)
	defer C.free(unsafe.Pointer(ctext))

	// Rough estimate: one token per 4 chars, retry with the exact count
	// when the first pass reports a larger need.
	n := len(text)/4 + 16
	buf := make([]C.llama_token, n)
	got := C.llama_tokenize(b.vocab, ctext, C.int32_t(len(text)),
		&buf[0], C.int32_t(len(buf)), C.bool(addBOS), C.bool(true))
	if got < 0 {
		buf = make([]C.llama_token, -got)
		got = C.llama_tokenize(b.vocab, ctext, C.int32_t(len(text)),
			&buf[0], C.int32_t(len(buf)), C.bool(addBOS), C.bool(true))
	}
	if got < 0 {
		return nil, errors.New("tokenization failed")
	}
	out := make([]types.Token, got)
	for i := range out {
		out[i] = types.Token(buf[i])
	}
	return out, nil
}

func (b *llamaBackend) Detokenize(tokens []types.Token) string {
	var buf [256]C.char
	var out []byte
	for _, tok := range tokens {
		n := C.llama_token_to_piece(b.vocab, C.llama_token(tok),
			&buf[0], C.int32_t(len(buf)-1), 0, C.bool(true))
		if n < 0 {
			continue
		}
		out = append(out, C.GoStringN(&buf[0], n)...)
	}
	return string(out)
}

func (b *llamaBackend) Decode(batch Batch) error {
	n := len(batch.Tokens)
	tokens := unsafe.Slice(b.batch.token, n)
	pos := unsafe.Slice(b.batch.pos, n)
	nSeq := unsafe.Slice(b.batch.n_seq_id, n)
	seqPtrs := unsafe.Slice(b.batch.seq_id, n)
	logits := unsafe.Slice(b.batch.logits, n)
	for i := 0; i < n; i++ {
		tokens[i] = C.llama_token(batch.Tokens[i])
		pos[i] = C.llama_pos(batch.Positions[i])
		nSeq[i] = 1
		unsafe.Slice(seqPtrs[i], 1)[0] = 0
		if batch.Output[i] {
			logits[i] = 1
		} else {
			logits[i] = 0
		}
	}
	b.batch.n_tokens = C.int32_t(n)
	if rc := C.llama_decode(b.ctx, b.batch); rc != 0 {
		return fmt.Errorf("llama_decode failed: %d", int(rc))
	}
	return nil
}

func (b *llamaBackend) Logits() []float32 {
	p := C.llama_get_logits_ith(b.ctx, -1)
	if p == nil {
		return nil
	}
	n := int(C.llama_vocab_n_tokens(b.vocab))
	return unsafe.Slice((*float32)(unsafe.Pointer(p)), n)
}

func (b *llamaBackend) IsEOS(tok types.Token) bool {
	return bool(C.llama_vocab_is_eog(b.vocab, C.llama_token(tok)))
}

func (b *llamaBackend) ContextSize() int { return b.nCtx }

func (b *llamaBackend) ClearCache() {
	mem := C.llama_get_memory(b.ctx)
	if mem != nil {
		C.llama_memory_clear(mem, true)
	}
}

func (b *llamaBackend) Close() error {
	if b.ctx != nil {
		C.llama_batch_free(b.batch)
		C.llama_free(b.ctx)
		b.ctx = nil
	}
	if b.model != nil {
		C.llama_model_free(b.model)
		b.model = nil
	}
	return nil
}
