package rag

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	chromem "github.com/philippgille/chromem-go"
)

// stubEmbedding maps text onto a fixed-dimension vector so similarity is
// deterministic without network access. Texts sharing words land close
// together.
func stubEmbedding(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, 8)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := 0
		for _, r := range word {
			h = h*31 + int(r)
		}
		if h < 0 {
			h = -h
		}
		vec[h%len(vec)] += 1
	}
	// Normalize so chromem's cosine similarity behaves.
	var norm float32
	for _, x := range vec {
		norm += x * x
	}
	if norm > 0 {
		inv := 1 / sqrt32(norm)
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec, nil
}

func sqrt32(x float32) float32 {
	// Newton iterations are plenty for test vectors.
	guess := x
	for i := 0; i < 20; i++ {
		guess = (guess + x/guess) / 2
	}
	return guess
}

func newTestStore(t *testing.T) *VectorStore {
	t.Helper()
	v, err := NewVectorStore(WithInMemory(), WithEmbeddingFunc(stubEmbedding))
	if err != nil {
		t.Fatalf("failed to create vector store: %v", err)
	}
	return v
}

func TestQueryEmptyStore(t *testing.T) {
	v := newTestStore(t)
	snippets, err := v.Query(context.Background(), "anything", 5, 0)
	if err != nil {
		t.Fatalf("expected no error on empty store, got %v", err)
	}
	if snippets != nil {
		t.Errorf("expected no snippets from empty store, got %v", snippets)
	}
}

func TestQueryClampsTopK(t *testing.T) {
	v := newTestStore(t)
	err := v.AddDocuments(context.Background(), []chromem.Document{
		{ID: "a", Content: "gold prices rise with inflation"},
		{ID: "b", Content: "bond yields fall in recessions"},
	})
	if err != nil {
		t.Fatalf("AddDocuments failed: %v", err)
	}

	// topK larger than the document count must not error.
	snippets, err := v.Query(context.Background(), "gold inflation", 10, 0)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(snippets) == 0 || len(snippets) > 2 {
		t.Errorf("expected 1-2 snippets, got %d", len(snippets))
	}
}

func TestQueryFiltersByScore(t *testing.T) {
	v := newTestStore(t)
	err := v.AddDocuments(context.Background(), []chromem.Document{
		{ID: "a", Content: "gold prices rise with inflation"},
		{ID: "b", Content: "entirely unrelated cooking recipe"},
	})
	if err != nil {
		t.Fatalf("AddDocuments failed: %v", err)
	}

	snippets, err := v.Query(context.Background(), "gold prices rise with inflation", 2, 0.99)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	for _, s := range snippets {
		if s.Score < 0.99 {
			t.Errorf("expected snippets at or above threshold, got %f", s.Score)
		}
	}
	if len(snippets) != 1 {
		t.Errorf("expected only the matching document above threshold, got %d", len(snippets))
	}
}

func TestIndexFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kb.txt")
	content := strings.Repeat("Gold is a hedge against inflation and currency debasement. ", 40) +
		"\n42\n" // page-number line should be stripped
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	v := newTestStore(t)
	chunks, err := v.IndexFile(context.Background(), path)
	if err != nil {
		t.Fatalf("IndexFile failed: %v", err)
	}
	if chunks < 2 {
		t.Errorf("expected multiple chunks for long text, got %d", chunks)
	}
	if v.Count() != chunks {
		t.Errorf("expected store count %d to match chunk count, got %d", chunks, v.Count())
	}

	snippets, err := v.Query(context.Background(), "hedge against inflation", 3, 0)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(snippets) == 0 {
		t.Error("expected indexed chunks to be retrievable")
	}
}

func TestChunkTextOverlap(t *testing.T) {
	words := make([]string, 0, 300)
	for i := 0; i < 300; i++ {
		words = append(words, "word")
	}
	chunks := chunkText(strings.Join(words, " "), 100, 20)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if len(c) == 0 {
			t.Errorf("chunk %d is empty", i)
		}
	}

	short := chunkText("just a few words", 500, 50)
	if len(short) != 1 || short[0] != "just a few words" {
		t.Errorf("expected single chunk for short text, got %v", short)
	}
}

func TestCleanText(t *testing.T) {
	in := "First line.\n  12  \nSecond   line.\n\n3\nThird line."
	out := cleanText(in)
	if strings.Contains(out, "12") || strings.Contains(out, " 3 ") {
		t.Errorf("expected page numbers stripped, got %q", out)
	}
	if strings.Contains(out, "  ") || strings.Contains(out, "\n") {
		t.Errorf("expected whitespace collapsed, got %q", out)
	}
}
