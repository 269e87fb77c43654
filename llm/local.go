package llm

import (
	"context"
	"hash/fnv"
	"math"
	"strings"

	"github.com/samber/oops"

	"github.com/nittaya1990/spiced/errcode"
)

// LocalEmbedder is an in-process embedding model that hashes tokens into
// a fixed-dimension vector. It needs no network access and is fully
// deterministic, which makes it suitable for local acceleration setups
// and for exercising the search path without a remote model.
type LocalEmbedder struct {
	name string
	dim  int
}

// NewLocalEmbedder builds a deterministic embedder with dim dimensions.
func NewLocalEmbedder(name string, dim int) (*LocalEmbedder, error) {
	if dim <= 0 {
		return nil, oops.Code(errcode.InvalidArgument).With("model", name).Errorf("embedding dimension must be positive")
	}
	return &LocalEmbedder{name: name, dim: dim}, nil
}

func (e *LocalEmbedder) Name() string { return e.name }

func (e *LocalEmbedder) Embed(ctx context.Context, req *EmbeddingRequest) (*EmbeddingResponse, error) {
	if len(req.Input) == 0 {
		return nil, oops.Code(errcode.InvalidArgument).Wrap(ErrMissingInput)
	}

	data := make([][]float32, len(req.Input))
	tokens := 0
	for i, text := range req.Input {
		if err := ctx.Err(); err != nil {
			return nil, oops.Code(errcode.Cancelled).Wrap(err)
		}
		fields := strings.Fields(strings.ToLower(text))
		tokens += len(fields)
		data[i] = e.embedTokens(fields)
	}
	return &EmbeddingResponse{
		Model: e.name,
		Data:  data,
		Usage: Usage{InputTokens: tokens},
	}, nil
}

func (e *LocalEmbedder) embedTokens(tokens []string) []float32 {
	vector := make([]float32, e.dim)
	for _, token := range tokens {
		h := fnv.New64a()
		h.Write([]byte(token))
		sum := h.Sum64()
		vector[sum%uint64(e.dim)] += 1
		vector[(sum>>32)%uint64(e.dim)] += 0.5
	}

	var norm float64
	for _, v := range vector {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vector {
			vector[i] *= scale
		}
	}
	return vector
}
