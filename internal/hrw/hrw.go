// Package hrw implements rendezvous (highest random weight) hashing: every
// key picks the candidate with the highest score for it, so removing a
// candidate only moves the keys that candidate had won.
package hrw

import (
	"cmp"
	"encoding/binary"
	"slices"

	"golang.org/x/crypto/blake2b"
)

// Score is the weight of candidate for key. seed separates otherwise equal
// deployments.
func Score(key, candidate, seed string) uint64 {
	h, _ := blake2b.New(8, nil)
	if seed != "" {
		h.Write([]byte(seed))
		h.Write([]byte{0})
	}
	h.Write([]byte(key))
	h.Write([]byte{0})
	h.Write([]byte(candidate))
	return binary.BigEndian.Uint64(h.Sum(nil))
}

// Best returns the top candidate for key; ok is false without candidates.
func Best(key string, candidates []string, seed string) (best string, ok bool) {
	var top uint64
	for _, c := range candidates {
		if s := Score(key, c, seed); !ok || s > top || (s == top && c < best) {
			best, top, ok = c, s, true
		}
	}
	return best, ok
}

// TopK returns up to k candidates for key, best first.
func TopK(key string, candidates []string, k int, seed string) []string {
	if k <= 0 || len(candidates) == 0 {
		return nil
	}
	type scored struct {
		c string
		s uint64
	}
	all := make([]scored, len(candidates))
	for i, c := range candidates {
		all[i] = scored{c, Score(key, c, seed)}
	}
	slices.SortFunc(all, func(a, b scored) int {
		if a.s != b.s {
			return cmp.Compare(b.s, a.s)
		}
		return cmp.Compare(a.c, b.c)
	})
	out := make([]string, 0, min(k, len(all)))
	for _, e := range all[:min(k, len(all))] {
		out = append(out, e.c)
	}
	return out
}
