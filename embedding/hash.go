package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// HashProvider embeds text by feature hashing its tokens. It needs no
// network and is deterministic, so texts sharing words land close together.
type HashProvider struct {
	dims int
}

func NewHash(dims int) *HashProvider {
	if dims <= 0 {
		dims = 128
	}
	return &HashProvider{dims: dims}
}

func (h *HashProvider) Dimensions() int { return h.dims }

func (h *HashProvider) Embed(_ context.Context, text string) ([]float32, error) {
	return h.vector(text), nil
}

func (h *HashProvider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = h.vector(t)
	}
	return out, nil
}

func (h *HashProvider) vector(text string) []float32 {
	v := make([]float64, h.dims)
	for _, tok := range Tokenize(text) {
		f := fnv.New64a()
		_, _ = f.Write([]byte(tok))
		sum := f.Sum64()
		i := int(sum % uint64(h.dims))
		if (sum>>63)&1 == 1 {
			v[i] -= 1
		} else {
			v[i] += 1
		}
	}
	var norm float64
	for _, x := range v {
		norm += x * x
	}
	out := make([]float32, h.dims)
	if norm == 0 {
		return out
	}
	norm = math.Sqrt(norm)
	for i, x := range v {
		out[i] = float32(x / norm)
	}
	return out
}

// Tokenize lower-cases text and splits it on anything that is not a letter
// or digit.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
