package rerank

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docrouter/backend/pkg/utils"
)

func randomVectors(r *rand.Rand, n, dim int) [][]float32 {
	out := make([][]float32, n)
	for i := range out {
		v := make([]float32, dim)
		for j := range v {
			v[j] = float32(r.NormFloat64())
		}
		out[i] = v
	}
	return out
}

func TestSelectEmpty(t *testing.T) {
	assert.Equal(t, []int{}, Select([]float32{1, 0}, nil, 3, DefaultLambda))
	assert.Equal(t, []int{}, Select([]float32{1, 0}, [][]float32{{1, 0}}, 0, DefaultLambda))
	assert.Equal(t, []int{}, Select([]float32{1, 0}, [][]float32{{1, 0}}, -2, DefaultLambda))
}

func TestSelectPassThrough(t *testing.T) {
	candidates := [][]float32{{0, 1}, {1, 0}, {0.5, 0.5}}

	assert.Equal(t, []int{0, 1, 2}, Select([]float32{1, 0}, candidates, 3, DefaultLambda))
	assert.Equal(t, []int{0, 1, 2}, Select([]float32{1, 0}, candidates, 10, DefaultLambda))
}

func TestSelectSizeAndUniqueness(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	query := randomVectors(r, 1, 16)[0]

	for n := 0; n <= 12; n++ {
		candidates := randomVectors(r, n, 16)
		for topK := 0; topK <= 14; topK++ {
			got := Select(query, candidates, topK, DefaultLambda)

			assert.Len(t, got, min(topK, n), "n=%d topK=%d", n, topK)
			seen := map[int]bool{}
			for _, idx := range got {
				assert.False(t, seen[idx], "duplicate index %d", idx)
				assert.GreaterOrEqual(t, idx, 0)
				assert.Less(t, idx, n)
				seen[idx] = true
			}
		}
	}
}

func TestSelectSeedIsMostRelevant(t *testing.T) {
	r := rand.New(rand.NewSource(42))

	for trial := 0; trial < 20; trial++ {
		query := randomVectors(r, 1, 8)[0]
		candidates := randomVectors(r, 10, 8)

		got := Select(query, candidates, 4, DefaultLambda)
		require.NotEmpty(t, got)

		best := 0
		bestSim := -2.0
		for i, c := range candidates {
			if s := utils.CosineSimilarity(query, c); s > bestSim {
				best, bestSim = i, s
			}
		}
		assert.Equal(t, best, got[0])
	}
}

func TestSelectSeedTieTakesLowestIndex(t *testing.T) {
	candidates := [][]float32{{0, 1}, {1, 0}, {2, 0}, {0, -1}}

	got := Select([]float32{1, 0}, candidates, 2, DefaultLambda)

	assert.Equal(t, 1, got[0])
}

func TestSelectPrefersDiversity(t *testing.T) {
	query := []float32{1, 1}
	candidates := [][]float32{
		{1, 0.9},
		{1, 0.95}, // most relevant
		{0.2, 1},
	}

	diverse := Select(query, candidates, 2, 0.3)
	assert.Equal(t, []int{1, 2}, diverse)

	relevant := Select(query, candidates, 2, 1.0)
	assert.Equal(t, 1, relevant[0])
	assert.Equal(t, 0, relevant[1])
}

func TestSelectToleratesDegenerateVectors(t *testing.T) {
	candidates := [][]float32{{0, 0}, {1}, {}, {1, 0}}

	got := Select([]float32{1, 0}, candidates, 2, DefaultLambda)

	assert.Equal(t, 3, got[0])
	assert.Len(t, got, 2)
}

func TestRerankCarriesMetadata(t *testing.T) {
	candidates := []Candidate{
		{Text: "a", Embedding: []float32{0, 1}, Metadata: map[string]any{"chunk_id": "a"}},
		{Text: "b", Embedding: []float32{1, 0}, Metadata: map[string]any{"chunk_id": "b"}},
		{Text: "c", Embedding: []float32{1, 0.1}, Metadata: map[string]any{"chunk_id": "c"}},
	}

	got := Rerank([]float32{1, 0}, candidates, 1, DefaultLambda)

	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].Text)
	assert.Equal(t, "b", got[0].Metadata["chunk_id"])
}
