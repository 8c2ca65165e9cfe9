package memory

import (
	"context"
	"hash/fnv"
	"strings"
	"testing"
	"unicode"
)

// wordHashEmbedder is a deterministic stand-in for the embedding model:
// a bag-of-words vector with words hashed into a fixed dimension count.
// Texts sharing words score high under cosine, disjoint texts score 0.
type wordHashEmbedder struct{}

func (wordHashEmbedder) Embed(_ context.Context, input []string) ([][]float32, error) {
	out := make([][]float32, len(input))
	for i, text := range input {
		vec := make([]float32, 64)
		words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
			return !unicode.IsLetter(r)
		})
		for _, w := range words {
			h := fnv.New32a()
			h.Write([]byte(w))
			vec[h.Sum32()%64]++
		}
		out[i] = vec
	}
	return out, nil
}

func newTestArchival(t *testing.T) *ArchivalStorage {
	t.Helper()
	a, err := OpenArchival(t.TempDir(), wordHashEmbedder{}, testEmbedCodec(t))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestArchivalInsertAndSearch(t *testing.T) {
	a := newTestArchival(t)
	ctx := context.Background()

	ids, err := a.Insert(ctx, 1, "Maya's favourite colour is cobalt blue.")
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 {
		t.Fatalf("ids = %v, want one chunk", ids)
	}
	if _, err := a.Insert(ctx, 1, "Maya enjoys weekend hiking trips."); err != nil {
		t.Fatal(err)
	}
	if a.Len() != 2 {
		t.Fatalf("Len = %d, want 2", a.Len())
	}

	results, total, err := a.Search(ctx, "favourite colour", 1, 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 {
		t.Errorf("total = %d, want 2", total)
	}
	if len(results) != 1 {
		t.Fatalf("page size = %d, want 1", len(results))
	}
	if !strings.Contains(results[0].Content, "cobalt blue") {
		t.Errorf("top result = %q, want the colour memory first", results[0].Content)
	}
	if results[0].Timestamp == "" {
		t.Error("result missing timestamp")
	}
}

func TestArchivalInsertIdempotent(t *testing.T) {
	a := newTestArchival(t)
	ctx := context.Background()

	first, err := a.Insert(ctx, 1, "The same memory twice.")
	if err != nil {
		t.Fatal(err)
	}
	second, err := a.Insert(ctx, 1, "The same memory twice.")
	if err != nil {
		t.Fatal(err)
	}
	if first[0] != second[0] {
		t.Errorf("chunk ids differ: %q vs %q", first[0], second[0])
	}
	if a.Len() != 1 {
		t.Errorf("Len = %d, want 1", a.Len())
	}
}

func TestArchivalScopedToUser(t *testing.T) {
	a := newTestArchival(t)
	ctx := context.Background()

	if _, err := a.Insert(ctx, 1, "Only user one knows this."); err != nil {
		t.Fatal(err)
	}

	_, total, err := a.Search(ctx, "knows", 2, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 0 {
		t.Errorf("total for user 2 = %d, want 0", total)
	}
	_, total, err = a.Search(ctx, "knows", 1, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 {
		t.Errorf("total for user 1 = %d, want 1", total)
	}
}

func TestArchivalCacheInvalidatedOnInsert(t *testing.T) {
	a := newTestArchival(t)
	ctx := context.Background()

	if _, err := a.Insert(ctx, 1, "First fact about llamas."); err != nil {
		t.Fatal(err)
	}
	_, total, err := a.Search(ctx, "llamas", 1, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 {
		t.Fatalf("total = %d, want 1", total)
	}

	if _, err := a.Insert(ctx, 1, "Second fact about llamas."); err != nil {
		t.Fatal(err)
	}
	_, total, err = a.Search(ctx, "llamas", 1, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 {
		t.Errorf("total after insert = %d, want 2", total)
	}
}

func TestArchivalReloadKeepsCount(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	a, err := OpenArchival(dir, wordHashEmbedder{}, testEmbedCodec(t))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.Insert(ctx, 1, "A durable memory."); err != nil {
		t.Fatal(err)
	}
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}

	again, err := OpenArchival(dir, wordHashEmbedder{}, testEmbedCodec(t))
	if err != nil {
		t.Fatal(err)
	}
	defer again.Close()
	if again.Len() != 1 {
		t.Errorf("Len after reload = %d, want 1", again.Len())
	}
}

func TestSplitTextKeepsShortTextWhole(t *testing.T) {
	codec := testCodec(t)

	chunks := SplitText(codec, "one short paragraph", 100)
	if len(chunks) != 1 || chunks[0] != "one short paragraph" {
		t.Errorf("chunks = %v", chunks)
	}
	if got := SplitText(codec, "   ", 100); got != nil {
		t.Errorf("blank text chunks = %v", got)
	}
}

func TestSplitTextPrefersParagraphBoundaries(t *testing.T) {
	codec := testCodec(t)

	para := strings.Repeat("word ", 30)
	text := strings.TrimSpace(para) + "\n\n" + strings.TrimSpace(para)
	// Each paragraph is 50 tokens; both cannot share a 60 token chunk.
	chunks := SplitText(codec, text, 60)
	if len(chunks) != 2 {
		t.Fatalf("chunks = %d, want 2", len(chunks))
	}
	for i, c := range chunks {
		if strings.Contains(c, "\n\n") {
			t.Errorf("chunk %d spans paragraphs: %q", i, c)
		}
	}
}

func TestSplitTextHardCutBound(t *testing.T) {
	codec := testCodec(t)

	text := strings.Repeat("x", 1000)
	chunks := SplitText(codec, text, 10)
	if len(chunks) == 0 {
		t.Fatal("no chunks")
	}
	var rejoined strings.Builder
	for _, c := range chunks {
		if n := codec.CountText(c); n > 10 {
			t.Errorf("chunk of %d tokens exceeds max", n)
		}
		rejoined.WriteString(c)
	}
	if rejoined.String() != text {
		t.Error("hard cut lost content")
	}
}
