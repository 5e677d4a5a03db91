package embed

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// localProvider is a deterministic feature-hashing embedder. It needs
// no network and always produces the same vector for the same text,
// which makes retrieval reproducible in offline and test environments.
// Semantic quality is limited to lexical overlap; production setups
// should configure a real embedding model.
type localProvider struct {
	dim int
}

// NewLocal creates a deterministic hashing embedder of the given
// dimension (default 256).
func NewLocal(dim int) Provider {
	if dim <= 0 {
		dim = 256
	}
	return &localProvider{dim: dim}
}

func (p *localProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	result := make([][]float32, len(texts))
	for i, t := range texts {
		result[i] = p.embedOne(t)
	}
	return result, nil
}

func (p *localProvider) embedOne(text string) []float32 {
	vec := make([]float32, p.dim)

	tokens := tokenize(text)
	for _, tok := range tokens {
		h := fnv.New32a()
		h.Write([]byte(tok))
		bucket := int(h.Sum32()) % p.dim
		if bucket < 0 {
			bucket += p.dim
		}
		// Sign hashing reduces bucket collisions cancelling out.
		if h.Sum32()&1 == 0 {
			vec[bucket]++
		} else {
			vec[bucket]--
		}
	}

	// Bigrams capture a little phrase structure.
	for i := 0; i+1 < len(tokens); i++ {
		h := fnv.New32a()
		h.Write([]byte(tokens[i] + " " + tokens[i+1]))
		bucket := int(h.Sum32()) % p.dim
		if bucket < 0 {
			bucket += p.dim
		}
		vec[bucket] += 0.5
	}

	// L2 normalize so distances behave like cosine similarity.
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1.0 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
