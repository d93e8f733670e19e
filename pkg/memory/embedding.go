package memory

import (
	"hash/fnv"
	"math"
	"regexp"
	"strings"
)

const defaultEmbeddingDims = 384

var tokenPattern = regexp.MustCompile(`[A-Za-z0-9_\-]+`)

// CharGramEmbedder produces deterministic local embeddings from character
// trigrams plus whole-token features. It needs no model service, which keeps
// semantic recall working when no external embedding provider is configured.
type CharGramEmbedder struct {
	dims    int
	modelID string
}

func NewCharGramEmbedder(dims int) *CharGramEmbedder {
	if dims <= 0 {
		dims = defaultEmbeddingDims
	}
	return &CharGramEmbedder{dims: dims, modelID: "docmem-chargram-v1"}
}

func (e *CharGramEmbedder) ModelID() string { return e.modelID }

func (e *CharGramEmbedder) Embed(text string) []float32 {
	vec := make([]float32, e.dims)
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return vec
	}
	window := "#" + normalized + "#"
	for i := 0; i+3 <= len(window); i++ {
		gram := window[i : i+3]
		h := fnv.New64a()
		_, _ = h.Write([]byte(gram))
		idx := int(h.Sum64() % uint64(e.dims))
		vec[idx]++
	}
	for _, token := range tokenPattern.FindAllString(normalized, -1) {
		h := fnv.New64a()
		_, _ = h.Write([]byte("tok:" + token))
		idx := int(h.Sum64() % uint64(e.dims))
		vec[idx] += 1.25
	}
	normalizeVector(vec)
	return vec
}

func normalizeVector(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v * v)
	}
	n := math.Sqrt(sum)
	if n == 0 {
		return
	}
	inv := float32(1.0 / n)
	for i := range vec {
		vec[i] *= inv
	}
}

// CosineSimilarity of two vectors. Inputs from CharGramEmbedder are already
// unit-normalized, so the dot product is the cosine.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot float64
	for i := 0; i < n; i++ {
		dot += float64(a[i] * b[i])
	}
	return dot
}
