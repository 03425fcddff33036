// Package rag provides retrieval-augmented context for persona replies.
//
// Knowledge base documents are chunked, embedded, and stored in a local
// chromem-go vector database; the conversation engine queries it per turn
// and injects sufficiently similar snippets into the system prompt.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

// Defaults for the vector store and chunker.
const (
	// DefaultCollection is the knowledge base collection name.
	DefaultCollection = "knowledge_base"
	// DefaultChunkSize is the target chunk length in characters.
	DefaultChunkSize = 500
	// DefaultChunkOverlap is the approximate overlap between adjacent chunks.
	DefaultChunkOverlap = 50
	// indexConcurrency bounds parallel embedding calls during indexing.
	indexConcurrency = 4
)

// Snippet is one retrieved knowledge base fragment with its similarity score.
type Snippet struct {
	Text  string  `json:"text"`
	Score float32 `json:"score"`
}

// Retriever finds knowledge base snippets relevant to a query.
//
// minScore filters results by cosine similarity; snippets below it are
// dropped. An empty result is normal, never an error.
type Retriever interface {
	Query(ctx context.Context, text string, topK int, minScore float32) ([]Snippet, error)
}

// Opts holds configuration options for the vector store.
type Opts struct {
	// Path is the on-disk database directory; ignored when InMemory is set.
	Path string
	// Collection overrides the default collection name.
	Collection string
	// APIKey is the OpenAI key for embeddings; falls back to OPENAI_API_KEY.
	APIKey string
	// EmbeddingFunc overrides the OpenAI embedding function, used in tests.
	EmbeddingFunc chromem.EmbeddingFunc
	// InMemory selects a non-persistent database.
	InMemory bool
	// Compress enables gzip compression of persisted embeddings.
	Compress bool
}

// Option defines a functional option for vector store configuration.
type Option func(*Opts)

// WithPath sets the on-disk database directory.
func WithPath(path string) Option {
	return func(o *Opts) { o.Path = path }
}

// WithCollection sets the collection name.
func WithCollection(name string) Option {
	return func(o *Opts) { o.Collection = name }
}

// WithOpenAIKey sets the API key used for embeddings.
func WithOpenAIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithEmbeddingFunc sets a custom embedding function.
func WithEmbeddingFunc(f chromem.EmbeddingFunc) Option {
	return func(o *Opts) { o.EmbeddingFunc = f }
}

// WithInMemory selects a non-persistent database.
func WithInMemory() Option {
	return func(o *Opts) { o.InMemory = true }
}

// WithCompress enables compression of the persisted database.
func WithCompress(compress bool) Option {
	return func(o *Opts) { o.Compress = compress }
}

// VectorStore wraps a chromem-go collection as the knowledge base backend.
type VectorStore struct {
	mu         sync.RWMutex
	db         *chromem.DB
	collection *chromem.Collection
}

// NewVectorStore opens or creates the knowledge base vector store.
func NewVectorStore(opts ...Option) (*VectorStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}

	embFunc := cfg.EmbeddingFunc
	if embFunc == nil {
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("embedding function not set and OPENAI_API_KEY not set")
		}
		embFunc = chromem.NewEmbeddingFuncOpenAI(apiKey, chromem.EmbeddingModelOpenAI3Small)
	}

	var db *chromem.DB
	var err error
	if cfg.InMemory {
		db = chromem.NewDB()
	} else {
		if cfg.Path == "" {
			return nil, fmt.Errorf("vector store path not set")
		}
		db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("failed to open vector database: %w", err)
		}
	}

	name := cfg.Collection
	if name == "" {
		name = DefaultCollection
	}
	collection, err := db.GetOrCreateCollection(name, nil, embFunc)
	if err != nil {
		return nil, fmt.Errorf("failed to create collection %s: %w", name, err)
	}
	slog.Debug("VectorStore.NewVectorStore: store opened", "collection", name, "documents", collection.Count(), "inMemory", cfg.InMemory)

	return &VectorStore{db: db, collection: collection}, nil
}

// Query returns up to topK snippets with similarity at or above minScore.
func (v *VectorStore) Query(ctx context.Context, text string, topK int, minScore float32) ([]Snippet, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	count := v.collection.Count()
	if count == 0 {
		return nil, nil
	}
	// chromem rejects nResults larger than the document count.
	if topK > count {
		topK = count
	}

	results, err := v.collection.Query(ctx, text, topK, nil, nil)
	if err != nil {
		slog.Error("VectorStore.Query: query failed", "error", err)
		return nil, fmt.Errorf("knowledge base query failed: %w", err)
	}

	var snippets []Snippet
	for _, res := range results {
		if res.Similarity < minScore {
			continue
		}
		snippets = append(snippets, Snippet{Text: res.Content, Score: res.Similarity})
	}
	slog.Debug("VectorStore.Query: query succeeded", "requested", topK, "returned", len(snippets))
	return snippets, nil
}

// AddDocuments embeds and stores pre-chunked documents.
func (v *VectorStore) AddDocuments(ctx context.Context, docs []chromem.Document) error {
	if len(docs) == 0 {
		return nil
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.collection.AddDocuments(ctx, docs, indexConcurrency); err != nil {
		slog.Error("VectorStore.AddDocuments: add failed", "error", err, "count", len(docs))
		return fmt.Errorf("failed to add documents: %w", err)
	}
	return nil
}

// IndexFile chunks and indexes one knowledge base text file, returning the
// number of chunks stored. Chunk ids derive from the file name, so
// re-indexing the same file overwrites its previous chunks.
func (v *VectorStore) IndexFile(ctx context.Context, path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read knowledge base file: %w", err)
	}

	text := cleanText(string(raw))
	chunks := chunkText(text, DefaultChunkSize, DefaultChunkOverlap)
	if len(chunks) == 0 {
		slog.Warn("VectorStore.IndexFile: file produced no chunks", "path", path)
		return 0, nil
	}

	base := strings.TrimSuffix(strings.ToLower(strings.ReplaceAll(
		strings.TrimPrefix(path, "/"), "/", "-")), ".txt")
	docs := make([]chromem.Document, 0, len(chunks))
	for i, chunk := range chunks {
		docs = append(docs, chromem.Document{
			ID:      fmt.Sprintf("%s-%04d", base, i),
			Content: chunk,
		})
	}

	if err := v.AddDocuments(ctx, docs); err != nil {
		return 0, err
	}
	slog.Info("VectorStore.IndexFile: file indexed", "path", path, "chunks", len(chunks))
	return len(chunks), nil
}

// Count returns the number of indexed chunks.
func (v *VectorStore) Count() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.collection.Count()
}

var (
	pageNumberRe = regexp.MustCompile(`(?m)^\s*\d+\s*$`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// cleanText strips page-number-only lines and collapses whitespace.
func cleanText(text string) string {
	text = pageNumberRe.ReplaceAllString(text, "")
	text = whitespaceRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// chunkText splits text into word-aligned chunks of roughly size
// characters, each starting with roughly overlap characters of the
// previous chunk's tail.
func chunkText(text string, size, overlap int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var chunks []string
	var current []string
	currentLen := 0
	fresh := 0 // words added since the last flush
	for _, word := range words {
		current = append(current, word)
		currentLen += len(word) + 1
		fresh++
		if currentLen < size {
			continue
		}
		chunks = append(chunks, strings.Join(current, " "))

		// Seed the next chunk with the tail of this one.
		var tail []string
		tailLen := 0
		for i := len(current) - 1; i >= 0 && tailLen < overlap; i-- {
			tail = append([]string{current[i]}, tail...)
			tailLen += len(current[i]) + 1
		}
		current = tail
		currentLen = tailLen
		fresh = 0
	}
	if fresh > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}
	return chunks
}
