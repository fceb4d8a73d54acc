package tokenseq

import "inferd/pkg/types"

const (
	// minHeadTokens is the floor for the preserved head segment.
	minHeadTokens = 32
	// headShare is the percentage of the target reserved for the head.
	headShare = 15
	// cutSearchWindow is how far before the naive tail boundary we look
	// for a better cut point.
	cutSearchWindow = 128
)

// BoundaryTokenMax is the token-id threshold below which a token is
// treated as a conversational boundary (newline-like) when searching
// for a cut point. This is a heuristic tied to typical vocabulary
// layouts, not a property of the token stream; adjust per vocabulary.
var BoundaryTokenMax = types.Token(50)

// Truncate returns a subsequence of tokens of length <= target that
// keeps an initial head segment (system/instruction context) and a
// trailing tail segment (recent turns). The tail start is moved to a
// nearby boundary token when one is found within cutSearchWindow
// tokens before the naive boundary, so turns are less likely to be cut
// mid-sentence. Sequences that already fit are returned unchanged.
func Truncate(tokens []types.Token, target int) []types.Token {
	if len(tokens) <= target {
		return tokens
	}
	if target <= 0 {
		return nil
	}

	head := target * headShare / 100
	if head < minHeadTokens {
		head = minHeadTokens
	}
	if head > target {
		head = target
	}
	tail := target - head

	out := make([]types.Token, 0, target)
	out = append(out, tokens[:head]...)

	// Naive tail boundary, then search the window before it for a
	// boundary token.
	cut := len(tokens) - tail
	searchStart := cut - cutSearchWindow
	if searchStart < head {
		searchStart = head
	}
	for i := searchStart; i < cut && i < len(tokens); i++ {
		if tokens[i] < BoundaryTokenMax || (i > 0 && tokens[i-1] < BoundaryTokenMax) {
			cut = i
			break
		}
	}

	for i := cut; i < len(tokens) && len(out) < target; i++ {
		out = append(out, tokens[i])
	}
	return out
}
