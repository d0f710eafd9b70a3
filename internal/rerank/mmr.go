// Package rerank selects relevant but mutually diverse passages with
// Maximum Marginal Relevance.
package rerank

import (
	"math"

	"github.com/docrouter/backend/pkg/utils"
)

const DefaultLambda = 0.5

// Candidate is a retrieved passage. Only Embedding is inspected; Text and
// Metadata are carried through unchanged.
type Candidate struct {
	Text      string         `json:"text"`
	Embedding []float32      `json:"-"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Select returns min(topK, len(candidates)) distinct indices into candidates.
// Lambda near 1 favours relevance, near 0 favours diversity. When every
// candidate fits, indices are returned in original order. Select holds no
// state and is safe for concurrent use.
func Select(query []float32, candidates [][]float32, topK int, lambda float64) []int {
	n := len(candidates)
	if n == 0 || topK <= 0 {
		return []int{}
	}
	if n <= topK {
		all := make([]int, n)
		for i := range all {
			all[i] = i
		}
		return all
	}

	relevance := make([]float64, n)
	best := 0
	for i, c := range candidates {
		relevance[i] = utils.CosineSimilarity(query, c)
		if relevance[i] > relevance[best] {
			best = i
		}
	}

	selected := make([]int, 0, topK)
	taken := make([]bool, n)
	// redundancy[i] is the highest similarity of i to anything selected so far.
	redundancy := make([]float64, n)
	for i := range redundancy {
		redundancy[i] = math.Inf(-1)
	}

	pick := func(idx int) {
		selected = append(selected, idx)
		taken[idx] = true
		for i, c := range candidates {
			if taken[i] {
				continue
			}
			if s := utils.CosineSimilarity(c, candidates[idx]); s > redundancy[i] {
				redundancy[i] = s
			}
		}
	}

	pick(best)
	for len(selected) < topK {
		next := -1
		nextScore := math.Inf(-1)
		for i := range candidates {
			if taken[i] {
				continue
			}
			score := lambda*relevance[i] - (1-lambda)*redundancy[i]
			if next == -1 || score > nextScore {
				next, nextScore = i, score
			}
		}
		if next == -1 {
			break
		}
		pick(next)
	}

	return selected
}

// Rerank applies Select to candidates and returns them in selection order.
func Rerank(query []float32, candidates []Candidate, topK int, lambda float64) []Candidate {
	vectors := make([][]float32, len(candidates))
	for i, c := range candidates {
		vectors[i] = c.Embedding
	}

	indices := Select(query, vectors, topK, lambda)
	out := make([]Candidate, len(indices))
	for i, idx := range indices {
		out[i] = candidates[idx]
	}
	return out
}
