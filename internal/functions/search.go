package functions

import (
	"context"
	"math"
	"sort"

	"github.com/llmosd/llmosd/internal/memory"
	"github.com/llmosd/llmosd/internal/tokens"
)

// Out-of-context descriptions are chunked before embedding so a long
// description can match on any of its parts.
const schemaChunkMaxTokens = 128

type schemaChunk struct {
	def *Definition
	vec []float32
}

// SchemaIndex finds out-of-context functions by embedding similarity
// over their chunked descriptions. It is built per agent and never
// persisted.
type SchemaIndex struct {
	embedder memory.Embedder
	chunks   []schemaChunk
}

// NewSchemaIndex embeds the descriptions of defs.
func NewSchemaIndex(ctx context.Context, embedder memory.Embedder, codec *tokens.Codec, defs []*Definition) (*SchemaIndex, error) {
	ix := &SchemaIndex{embedder: embedder}

	var texts []string
	var owners []*Definition
	for _, def := range defs {
		for _, chunk := range memory.SplitText(codec, def.Description, schemaChunkMaxTokens) {
			texts = append(texts, chunk)
			owners = append(owners, def)
		}
	}
	if len(texts) == 0 {
		return ix, nil
	}
	vecs, err := embedder.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	for i, vec := range vecs {
		ix.chunks = append(ix.chunks, schemaChunk{def: owners[i], vec: vec})
	}
	return ix, nil
}

// Search returns one page of rendered schemas ordered by similarity to
// query, plus the total number of distinct matching functions. A
// function appears once no matter how many of its chunks match.
func (ix *SchemaIndex) Search(ctx context.Context, query string, count, offset int) ([]string, int, error) {
	if len(ix.chunks) == 0 {
		return nil, 0, nil
	}
	vecs, err := ix.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, 0, err
	}
	qv := vecs[0]

	scored := make([]schemaChunk, len(ix.chunks))
	copy(scored, ix.chunks)
	scores := make([]float64, len(scored))
	for i, c := range scored {
		scores[i] = cosine(qv, c.vec)
	}
	order := make([]int, len(scored))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return scores[order[i]] > scores[order[j]] })

	seen := map[string]bool{}
	var defs []*Definition
	for _, i := range order {
		def := scored[i].def
		if seen[def.Name] {
			continue
		}
		seen[def.Name] = true
		defs = append(defs, def)
	}

	total := len(defs)
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	if count <= 0 {
		count = total
	}
	end := offset + count
	if end > total {
		end = total
	}
	out := make([]string, 0, end-offset)
	for _, def := range defs[offset:end] {
		out = append(out, RenderSchema(def))
	}
	return out, total, nil
}

func cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
