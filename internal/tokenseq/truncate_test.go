package tokenseq

import (
	"math/rand"
	"testing"

	"inferd/pkg/types"
)

func TestTruncate_IdentityWhenFits(t *testing.T) {
	seq := []types.Token{100, 200, 300}
	got := Truncate(seq, 3)
	if len(got) != 3 {
		t.Fatalf("length changed: %d", len(got))
	}
	for i := range seq {
		if got[i] != seq[i] {
			t.Fatalf("token %d changed", i)
		}
	}
	if got := Truncate(nil, 10); len(got) != 0 {
		t.Fatalf("empty input: got %d tokens", len(got))
	}
}

func TestTruncate_PreservesHeadAndCap(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for iter := 0; iter < 100; iter++ {
		n := rng.Intn(2000) + 200
		target := rng.Intn(n-64) + 64
		seq := make([]types.Token, n)
		for i := range seq {
			// Keep ids above the boundary threshold so the naive cut
			// applies; boundary behavior is tested separately.
			seq[i] = types.Token(rng.Intn(30000) + 100)
		}
		got := Truncate(seq, target)
		if len(got) > target {
			t.Fatalf("iter %d: length %d exceeds target %d", iter, len(got), target)
		}
		head := target * headShare / 100
		if head < minHeadTokens {
			head = minHeadTokens
		}
		if head > target {
			head = target
		}
		for i := 0; i < head && i < len(got); i++ {
			if got[i] != seq[i] {
				t.Fatalf("iter %d: head token %d not preserved", iter, i)
			}
		}
	}
}

func TestTruncate_CutsAtBoundaryToken(t *testing.T) {
	// 1000 tokens, target 200: head 32, naive tail start at 832.
	// Plant a boundary token shortly before the naive boundary and
	// expect the tail to start there instead.
	seq := make([]types.Token, 1000)
	for i := range seq {
		seq[i] = 5000
	}
	const boundary = 800
	seq[boundary] = 10 // below BoundaryTokenMax

	got := Truncate(seq, 200)
	if len(got) > 200 {
		t.Fatalf("length %d exceeds target", len(got))
	}
	head := 200 * headShare / 100 // 30 < minHeadTokens, so 32
	if head < minHeadTokens {
		head = minHeadTokens
	}
	if got[head] != seq[boundary] {
		t.Fatalf("tail does not start at boundary token: got %d", got[head])
	}
}

func TestTruncate_TailIsSuffixRegion(t *testing.T) {
	// Without boundary tokens the tail must be the exact suffix from
	// the naive cut.
	seq := make([]types.Token, 500)
	for i := range seq {
		seq[i] = types.Token(1000 + i)
	}
	target := 100
	got := Truncate(seq, target)
	head := 32 // max(32, 15)
	tail := target - head
	cut := len(seq) - tail
	for i := 0; i < tail; i++ {
		if got[head+i] != seq[cut+i] {
			t.Fatalf("tail token %d: got %d want %d", i, got[head+i], seq[cut+i])
		}
	}
}
