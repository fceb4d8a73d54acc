package tokenseq

import (
	"math/rand"
	"testing"

	"inferd/pkg/types"
)

func naiveCommonPrefixLen(a, b []types.Token) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return n
}

func TestCommonPrefixLen_Degenerate(t *testing.T) {
	if got := CommonPrefixLen(nil, nil); got != 0 {
		t.Fatalf("nil,nil: got %d", got)
	}
	if got := CommonPrefixLen([]types.Token{1, 2}, nil); got != 0 {
		t.Fatalf("a,nil: got %d", got)
	}
	if got := CommonPrefixLen([]types.Token{1, 2}, []types.Token{2, 2}); got != 0 {
		t.Fatalf("differing first token: got %d", got)
	}
}

func TestCommonPrefixLen_Exact(t *testing.T) {
	a := []types.Token{5, 6, 7, 8, 9}
	cases := []struct {
		b    []types.Token
		want int
	}{
		{[]types.Token{5, 6, 7, 8, 9}, 5},
		{[]types.Token{5, 6, 7}, 3},
		{[]types.Token{5, 6, 99, 8, 9}, 2},
		{[]types.Token{5}, 1},
	}
	for _, c := range cases {
		if got := CommonPrefixLen(a, c.b); got != c.want {
			t.Fatalf("CommonPrefixLen(%v,%v)=%d want %d", a, c.b, got, c.want)
		}
	}
}

// Randomized comparison against the O(n) reference. Token values are
// kept small to provoke frequent partial matches.
func TestCommonPrefixLen_MatchesNaive(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for iter := 0; iter < 500; iter++ {
		n := rng.Intn(1000) + 1
		a := make([]types.Token, n)
		for i := range a {
			a[i] = types.Token(rng.Intn(200))
		}
		// b shares a random-length prefix with a, then diverges.
		b := make([]types.Token, rng.Intn(1000)+1)
		shared := rng.Intn(n + 1)
		for i := range b {
			if i < shared && i < n {
				b[i] = a[i]
			} else {
				b[i] = types.Token(rng.Intn(200) + 1000)
			}
		}
		want := naiveCommonPrefixLen(a, b)
		if got := CommonPrefixLen(a, b); got != want {
			t.Fatalf("iter %d: got %d want %d", iter, got, want)
		}
	}
}
