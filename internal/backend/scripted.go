package backend

import (
	"errors"
	"fmt"

	"inferd/pkg/types"
)

// Scripted is a deterministic in-memory Backend for tests. Its logits
// strongly favor the next token of Script on every sampling step and
// the EOS token once the script is exhausted, so any reasonable
// sampler configuration reproduces the script exactly.
type Scripted struct {
	// Vocab is the logits vector size. Defaults to 64.
	Vocab int
	// BOS/EOS markers. EOS defaults to 2.
	BOS types.Token
	EOS types.Token
	// Script is the sequence of tokens the backend steers toward.
	Script []types.Token
	// Pieces maps tokens to their text for Detokenize.
	Pieces map[types.Token]string
	// PromptTokens, when set, is returned by Tokenize regardless of the
	// input text (after the optional BOS). Otherwise one synthetic token
	// per input byte is produced.
	PromptTokens []types.Token
	// Window is the context size. Defaults to 2048.
	Window int

	// FailTokenize makes Tokenize return an error.
	FailTokenize bool
	// FailDecodeAt makes the Nth Decode call (1-based) fail. 0 disables.
	FailDecodeAt int

	// Recorded activity, for assertions.
	Batches     []Batch
	DecodeCalls int
	ClearCalls  int
	Closed      bool

	logitsStep int
}

// NewScripted returns a Scripted that emits the given pieces in order
// and then EOS. Token ids are assigned 10, 11, 12, ...
func NewScripted(pieces ...string) *Scripted {
	vocab := 10 + len(pieces) + 10
	if vocab < 64 {
		vocab = 64
	}
	s := &Scripted{
		Vocab:  vocab,
		BOS:    1,
		EOS:    2,
		Pieces: make(map[types.Token]string, len(pieces)),
	}
	for i, piece := range pieces {
		tok := types.Token(10 + i)
		s.Script = append(s.Script, tok)
		s.Pieces[tok] = piece
	}
	return s
}

// Factory returns a backend Factory that hands out this instance.
func (s *Scripted) Factory() Factory {
	return func(string, types.GenerationConfig) (Backend, error) { return s, nil }
}

func (s *Scripted) Tokenize(text string, addBOS bool) ([]types.Token, error) {
	if s.FailTokenize {
		return nil, errors.New("scripted tokenizer failure")
	}
	var out []types.Token
	if addBOS {
		out = append(out, s.bos())
	}
	if s.PromptTokens != nil {
		return append(out, s.PromptTokens...), nil
	}
	for i := range []byte(text) {
		out = append(out, types.Token(100+i%900))
	}
	return out, nil
}

func (s *Scripted) Detokenize(tokens []types.Token) string {
	var out string
	for _, t := range tokens {
		out += s.Pieces[t]
	}
	return out
}

func (s *Scripted) Decode(b Batch) error {
	s.DecodeCalls++
	if s.FailDecodeAt > 0 && s.DecodeCalls == s.FailDecodeAt {
		return fmt.Errorf("scripted decode failure at call %d", s.DecodeCalls)
	}
	// Deep-copy so later assertions see what was submitted.
	s.Batches = append(s.Batches, Batch{
		Tokens:    append([]types.Token(nil), b.Tokens...),
		Positions: append([]int32(nil), b.Positions...),
		Output:    append([]bool(nil), b.Output...),
	})
	return nil
}

func (s *Scripted) Logits() []float32 {
	vocab := s.Vocab
	if vocab <= 0 {
		vocab = 64
	}
	logits := make([]float32, vocab)
	next := s.eos()
	if s.logitsStep < len(s.Script) {
		next = s.Script[s.logitsStep]
	}
	s.logitsStep++
	if int(next) < vocab {
		logits[next] = 32.0
	}
	return logits
}

func (s *Scripted) IsEOS(tok types.Token) bool { return tok == s.eos() }

func (s *Scripted) ContextSize() int {
	if s.Window <= 0 {
		return 2048
	}
	return s.Window
}

// ClearCache resets incremental state, rewinding the script so each
// fresh generation replays it from the start.
func (s *Scripted) ClearCache() {
	s.ClearCalls++
	s.logitsStep = 0
}

func (s *Scripted) Close() error {
	s.Closed = true
	return nil
}

func (s *Scripted) bos() types.Token {
	if s.BOS == 0 {
		return 1
	}
	return s.BOS
}

func (s *Scripted) eos() types.Token {
	if s.EOS == 0 {
		return 2
	}
	return s.EOS
}
