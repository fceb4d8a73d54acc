// Package sampler implements the ordered chain of distribution
// transformations applied before drawing the next token: repetition
// penalty, top-k, top-p, temperature, then a seeded categorical draw.
// Stages are conditionally included at build time from the generation
// config; rebuilding the pipeline is required when the config changes,
// while Reset only clears the repetition history between generations.
package sampler

import (
	"math"
	"math/rand"
	"sort"
	"time"

	"inferd/pkg/types"
)

// penaltyWindow is the trailing-token window the repetition penalty
// operates over.
const penaltyWindow = 64

// InvalidToken is returned when no candidate can be drawn. The engine
// treats it as a soft-stop.
const InvalidToken = types.Token(-1)

// candidate pairs a token id with its (possibly transformed) logit.
type candidate struct {
	id    types.Token
	logit float32
}

// stage transforms the candidate shortlist in place and returns it,
// possibly truncated.
type stage interface {
	apply(p *Pipeline, cands []candidate) []candidate
}

// Pipeline owns the stage chain, the RNG and the repetition history.
type Pipeline struct {
	cfg    types.GenerationConfig
	stages []stage
	rng    *rand.Rand
	seed   int64

	history []types.Token
	probs   []float64
}

// New builds a pipeline from cfg. Stage order is fixed; each stage is
// included only when its parameter is not the no-op value. A negative
// seed derives one from the wall clock at build time, making the draw
// non-reproducible.
func New(cfg types.GenerationConfig) *Pipeline {
	p := &Pipeline{cfg: cfg}
	if cfg.RepeatPenalty != 1.0 && cfg.RepeatPenalty > 0 {
		p.stages = append(p.stages, penaltyStage{penalty: cfg.RepeatPenalty})
	}
	if cfg.TopK > 0 {
		p.stages = append(p.stages, topKStage{k: cfg.TopK})
	}
	if cfg.TopP < 1.0 {
		p.stages = append(p.stages, topPStage{p: cfg.TopP})
	}
	if cfg.Temperature > 0 {
		p.stages = append(p.stages, temperatureStage{t: cfg.Temperature})
	}
	seed := cfg.Seed
	if seed < 0 {
		seed = time.Now().UnixNano()
	}
	p.seed = seed
	p.rng = rand.New(rand.NewSource(seed))
	return p
}

// Config returns the config the pipeline was built from.
func (p *Pipeline) Config() types.GenerationConfig { return p.cfg }

// Reset clears the repetition history for a fresh generation without
// rebuilding the chain. The RNG stream is left untouched.
func (p *Pipeline) Reset() {
	p.history = p.history[:0]
}

// Observe records a sampled token into the repetition history.
func (p *Pipeline) Observe(tok types.Token) {
	p.history = append(p.history, tok)
	if len(p.history) > penaltyWindow {
		p.history = p.history[len(p.history)-penaltyWindow:]
	}
}

// Sample draws one token from the logits vector after applying the
// stage chain. It returns InvalidToken when the vector is empty or
// every candidate is filtered out, and records the drawn token in the
// repetition history.
func (p *Pipeline) Sample(logits []float32) types.Token {
	if len(logits) == 0 {
		return InvalidToken
	}
	cands := make([]candidate, len(logits))
	for i, l := range logits {
		cands[i] = candidate{id: types.Token(i), logit: l}
	}
	for _, s := range p.stages {
		cands = s.apply(p, cands)
		if len(cands) == 0 {
			return InvalidToken
		}
	}
	tok := p.draw(cands)
	if tok >= 0 {
		p.Observe(tok)
	}
	return tok
}

// draw computes a numerically stable softmax over the shortlist and
// samples from it.
func (p *Pipeline) draw(cands []candidate) types.Token {
	maxLogit := cands[0].logit
	for _, c := range cands[1:] {
		if c.logit > maxLogit {
			maxLogit = c.logit
		}
	}
	if cap(p.probs) < len(cands) {
		p.probs = make([]float64, len(cands))
	}
	probs := p.probs[:len(cands)]
	var sum float64
	for i, c := range cands {
		e := math.Exp(float64(c.logit - maxLogit))
		probs[i] = e
		sum += e
	}
	if sum == 0 {
		return cands[0].id
	}
	r := p.rng.Float64() * sum
	var cum float64
	for i, pr := range probs {
		cum += pr
		if r <= cum {
			return cands[i].id
		}
	}
	return cands[len(cands)-1].id
}

// penaltyStage divides positive logits (and multiplies negative ones)
// of recently emitted tokens. Frequency and presence penalties are
// fixed at zero: the strategy is repetition-count-only.
type penaltyStage struct {
	penalty float32
}

func (s penaltyStage) apply(p *Pipeline, cands []candidate) []candidate {
	if len(p.history) == 0 {
		return cands
	}
	seen := make(map[types.Token]struct{}, len(p.history))
	for _, id := range p.history {
		seen[id] = struct{}{}
	}
	for i := range cands {
		if _, ok := seen[cands[i].id]; !ok {
			continue
		}
		if cands[i].logit > 0 {
			cands[i].logit /= s.penalty
		} else {
			cands[i].logit *= s.penalty
		}
	}
	return cands
}

// topKStage keeps the k highest-logit candidates, ordered descending.
type topKStage struct {
	k int
}

func (s topKStage) apply(_ *Pipeline, cands []candidate) []candidate {
	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].logit > cands[j].logit
	})
	if len(cands) > s.k {
		cands = cands[:s.k]
	}
	return cands
}

// topPStage truncates the shortlist once the cumulative probability
// mass reaches p. At least one candidate always survives.
type topPStage struct {
	p float32
}

func (s topPStage) apply(_ *Pipeline, cands []candidate) []candidate {
	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].logit > cands[j].logit
	})
	maxLogit := cands[0].logit
	var sum float64
	exps := make([]float64, len(cands))
	for i, c := range cands {
		e := math.Exp(float64(c.logit - maxLogit))
		exps[i] = e
		sum += e
	}
	if sum == 0 {
		return cands[:1]
	}
	cut := len(cands)
	var cum float64
	for i, e := range exps {
		cum += e / sum
		if float32(cum) >= s.p {
			cut = i + 1
			break
		}
	}
	return cands[:cut]
}

// temperatureStage scales logits by the inverse temperature.
type temperatureStage struct {
	t float32
}

func (s temperatureStage) apply(_ *Pipeline, cands []candidate) []candidate {
	inv := 1.0 / s.t
	for i := range cands {
		cands[i].logit *= inv
	}
	return cands
}
