// Package engine implements the streaming generation core: prompt
// tokenization, context-overflow handling, chunked prompt evaluation
// and the token-by-token sample/emit/feed loop, plus the session
// lifecycle that owns backend resources across load/generate/unload.
package engine

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"inferd/internal/backend"
	"inferd/internal/sampler"
	"inferd/internal/tokenseq"
	"inferd/pkg/types"
)

const (
	// safetyMargin is reserved on top of MaxTokens when computing the
	// prompt budget.
	safetyMargin = 16
	// minPromptBudget is the smallest prompt budget generation can
	// proceed with; below it the call fails with a context overflow.
	minPromptBudget = 64
)

// Finish reasons reported in Result.
const (
	FinishEOS      = "eos"
	FinishLength   = "length"
	FinishCancel   = "cancel"
	FinishSoftStop = "soft_stop"
)

// TokenFunc receives each generated token's text, synchronously and in
// order on the generating goroutine. Returning an error aborts the
// generation; tokens already delivered are kept.
type TokenFunc func(token string) error

// Result summarizes one generation call. On mid-generation errors it
// still carries the tokens emitted before the failure.
type Result struct {
	Text            string
	PromptTokens    int
	GeneratedTokens int
	Truncated       bool
	FinishReason    string
	Duration        time.Duration
}

// Engine runs the generation state machine against a backend and a
// sampler pipeline. It is not safe for concurrent use; the owning
// session serializes access.
type Engine struct {
	backend  backend.Backend
	pipeline *sampler.Pipeline
	log      zerolog.Logger

	// lastPrompt is the previous turn's (possibly truncated) prompt,
	// kept to measure prefix stability across turns.
	lastPrompt []types.Token
}

// New creates an engine over b with the given pipeline.
func New(b backend.Backend, p *sampler.Pipeline, log zerolog.Logger) *Engine {
	return &Engine{backend: b, pipeline: p, log: log}
}

// Pipeline returns the current sampler pipeline.
func (e *Engine) Pipeline() *sampler.Pipeline { return e.pipeline }

// SetPipeline swaps in a rebuilt pipeline (required on config change).
func (e *Engine) SetPipeline(p *sampler.Pipeline) { e.pipeline = p }

// GenerateStream tokenizes prompt, truncates it to the context budget
// if needed, evaluates it in chunks, then samples up to cfg.MaxTokens
// tokens, invoking onToken for each. The cancelled func is polled at
// iteration boundaries; observing it ends the generation early with a
// partial result and no error.
func (e *Engine) GenerateStream(ctx context.Context, prompt string, cfg types.GenerationConfig, cancelled func() bool, onToken TokenFunc) (Result, error) {
	start := time.Now()
	var res Result
	finish := func(reason string) Result {
		res.FinishReason = reason
		res.Duration = time.Since(start)
		generationsTotal.WithLabelValues(reason).Inc()
		generationDuration.Observe(res.Duration.Seconds())
		return res
	}
	// Failures count under their own reason so the total covers every
	// call, not just the completed ones.
	fail := func(err error) (Result, error) {
		res.Duration = time.Since(start)
		generationsTotal.WithLabelValues("error").Inc()
		generationDuration.Observe(res.Duration.Seconds())
		return res, err
	}

	toks, err := e.backend.Tokenize(prompt, true)
	if err != nil || len(toks) == 0 {
		return fail(tokenizationFailedError{err: err})
	}
	e.log.Debug().Int("prompt_tokens", len(toks)).Msg("prompt tokenized")

	budget := e.backend.ContextSize() - cfg.MaxTokens - safetyMargin
	if len(toks) > budget {
		if budget < minPromptBudget {
			return fail(contextOverflowError{budget: budget})
		}
		e.log.Warn().
			Int("prompt_tokens", len(toks)).
			Int("budget", budget).
			Msg("prompt exceeds context budget, truncating")
		toks = tokenseq.Truncate(toks, budget)
		res.Truncated = true
		truncationsTotal.Inc()
	}

	// Diagnostic only: the cache is cleared unconditionally below, but
	// the overlap with the previous turn shows how much a future
	// prefix-reuse strategy could save.
	if len(e.lastPrompt) > 0 {
		overlap := tokenseq.CommonPrefixLen(e.lastPrompt, toks)
		e.log.Debug().Int("prefix_overlap", overlap).Msg("prompt prefix overlap with previous turn")
	}
	e.lastPrompt = append(e.lastPrompt[:0], toks...)
	res.PromptTokens = len(toks)

	// Reusing cache state across differing prompts risks incorrect
	// continuations; always pay the full re-evaluation cost.
	e.backend.ClearCache()
	e.pipeline.Reset()

	n := len(toks)
	for off := 0; off < n; off += cfg.BatchSize {
		if cancelled() {
			return finish(FinishCancel), nil
		}
		end := off + cfg.BatchSize
		if end > n {
			end = n
		}
		b := backend.Batch{
			Tokens:    toks[off:end],
			Positions: make([]int32, end-off),
			Output:    make([]bool, end-off),
		}
		for i := off; i < end; i++ {
			b.Positions[i-off] = int32(i)
			// Only the final token of the entire prompt produces a
			// sampleable distribution.
			b.Output[i-off] = i == n-1
		}
		if err := e.backend.Decode(b); err != nil {
			return fail(decodeFailedError{stage: "prompt evaluation", err: err})
		}
	}
	e.log.Debug().Int("prompt_tokens", n).Msg("prompt evaluated, sampling")

	var sb strings.Builder
	pos := int32(n)
	for res.GeneratedTokens < cfg.MaxTokens {
		if cancelled() {
			res.Text = sb.String()
			return finish(FinishCancel), nil
		}
		tok := e.pipeline.Sample(e.backend.Logits())
		if tok < 0 {
			// Soft-stop: an invalid draw ends generation without error.
			e.log.Warn().Int32("token", int32(tok)).Msg("invalid token sampled, stopping")
			res.Text = sb.String()
			return finish(FinishSoftStop), nil
		}
		if e.backend.IsEOS(tok) {
			res.Text = sb.String()
			return finish(FinishEOS), nil
		}
		piece := e.backend.Detokenize([]types.Token{tok})
		if onToken != nil {
			if err := onToken(piece); err != nil {
				res.Text = sb.String()
				return fail(err)
			}
		}
		sb.WriteString(piece)
		tokensGeneratedTotal.Inc()

		fb := backend.Batch{
			Tokens:    []types.Token{tok},
			Positions: []int32{pos},
			Output:    []bool{true},
		}
		if err := e.backend.Decode(fb); err != nil {
			res.Text = sb.String()
			return fail(decodeFailedError{stage: "token feed-back", err: err})
		}
		pos++
		res.GeneratedTokens++
	}

	res.Text = sb.String()
	return finish(FinishLength), nil
}

// Generate runs GenerateStream and accumulates the emitted tokens.
func (e *Engine) Generate(ctx context.Context, prompt string, cfg types.GenerationConfig, cancelled func() bool) (Result, error) {
	return e.GenerateStream(ctx, prompt, cfg, cancelled, nil)
}
