// Package doctrine provides the vector-backed doctrine knowledge base:
// semantic search over doctrine passages, named procedure lookup, and
// compliance verdicts for the authorization engine's doctrinal-fit factor.
package doctrine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/project-aether/aetheros/internal/logging"
)

var (
	// ErrNotFound indicates no document matched.
	ErrNotFound = errors.New("doctrine document not found")
)

// Embedder produces an embedding vector for a text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Document is one doctrine passage or procedure.
type Document struct {
	ID       string
	Content  string
	Metadata map[string]string
}

// Result is one search hit.
type Result struct {
	ID       string
	Content  string
	Metadata map[string]string
	Score    float32
}

// Config holds knowledge-base configuration.
type Config struct {
	// Path is the persistence directory. Empty keeps the KB in memory.
	Path string `koanf:"path"`

	// Collection is the chromem collection name.
	Collection string `koanf:"collection"`

	// Compress enables gzip compression of persisted data.
	Compress bool `koanf:"compress"`
}

// DefaultConfig returns an in-memory KB under the "doctrine" collection.
func DefaultConfig() Config {
	return Config{Collection: "doctrine"}
}

// KB is the doctrine knowledge base over an embedded chromem-go index.
type KB struct {
	db       *chromem.DB
	embedder Embedder
	config   Config
	logger   *logging.Logger

	mu  sync.Mutex
	col *chromem.Collection
}

// Option customizes KB construction.
type Option func(*KB)

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(kb *KB) { kb.logger = logger }
}

// New creates a doctrine KB. An empty config path keeps the index in memory;
// otherwise documents persist under the path.
func New(cfg Config, embedder Embedder, opts ...Option) (*KB, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if cfg.Collection == "" {
		cfg.Collection = "doctrine"
	}

	var db *chromem.DB
	var err error
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
			return nil, fmt.Errorf("creating doctrine directory %s: %w", cfg.Path, err)
		}
		db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("opening doctrine DB: %w", err)
		}
	}

	kb := &KB{
		db:       db,
		embedder: embedder,
		config:   cfg,
		logger:   logging.Nop(),
	}
	for _, opt := range opts {
		opt(kb)
	}
	return kb, nil
}

func (kb *KB) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return kb.embedder.Embed(ctx, text)
	}
}

func (kb *KB) collection() (*chromem.Collection, error) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	if kb.col != nil {
		return kb.col, nil
	}
	col, err := kb.db.GetOrCreateCollection(kb.config.Collection, nil, kb.embeddingFunc())
	if err != nil {
		return nil, fmt.Errorf("opening collection %s: %w", kb.config.Collection, err)
	}
	kb.col = col
	return col, nil
}

// AddDocument indexes one document.
func (kb *KB) AddDocument(ctx context.Context, doc Document) error {
	if doc.ID == "" {
		return fmt.Errorf("document missing id")
	}
	col, err := kb.collection()
	if err != nil {
		return err
	}

	embedding, err := kb.embedder.Embed(ctx, doc.Content)
	if err != nil {
		return fmt.Errorf("embedding document %s: %w", doc.ID, err)
	}

	err = col.AddDocuments(ctx, []chromem.Document{{
		ID:        doc.ID,
		Content:   doc.Content,
		Metadata:  doc.Metadata,
		Embedding: embedding,
	}}, 1)
	if err != nil {
		return fmt.Errorf("adding document %s: %w", doc.ID, err)
	}

	kb.logger.Debug(ctx, "doctrine document indexed", zap.String("doc_id", doc.ID))
	return nil
}

// AddDocuments indexes a batch, returning the count added before the first
// failure.
func (kb *KB) AddDocuments(ctx context.Context, docs []Document) (int, error) {
	for i, doc := range docs {
		if err := kb.AddDocument(ctx, doc); err != nil {
			return i, err
		}
	}
	return len(docs), nil
}

// Query runs a semantic search, optionally constrained by metadata filters.
func (kb *KB) Query(ctx context.Context, query string, filters map[string]string, topK int) ([]Result, error) {
	if query == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}
	if topK <= 0 {
		topK = 5
	}

	col, err := kb.collection()
	if err != nil {
		return nil, err
	}

	count := col.Count()
	if count == 0 {
		return nil, nil
	}
	if topK > count {
		topK = count
	}

	hits, err := col.Query(ctx, query, topK, filters, nil)
	if err != nil {
		return nil, fmt.Errorf("querying doctrine: %w", err)
	}

	results := make([]Result, len(hits))
	for i, h := range hits {
		results[i] = Result{
			ID:       h.ID,
			Content:  h.Content,
			Metadata: h.Metadata,
			Score:    h.Similarity,
		}
	}

	kb.logger.Debug(ctx, "doctrine query",
		zap.String("query", query),
		zap.Int("results", len(results)))
	return results, nil
}

// GetProcedure retrieves the doctrine procedure closest to the given name.
// Returns ErrNotFound when no procedure documents are indexed.
func (kb *KB) GetProcedure(ctx context.Context, name string) (Result, error) {
	results, err := kb.Query(ctx, name, map[string]string{"content_type": "procedure"}, 1)
	if err != nil {
		return Result{}, err
	}
	if len(results) == 0 {
		return Result{}, fmt.Errorf("procedure %q: %w", name, ErrNotFound)
	}
	return results[0], nil
}

// BestPractices returns indexed best-practice passages for a role.
func (kb *KB) BestPractices(ctx context.Context, role string, topK int) ([]Result, error) {
	return kb.Query(ctx, role+" best practices", map[string]string{
		"content_type": "best_practice",
		"role":         role,
	}, topK)
}

// Count returns the number of indexed documents.
func (kb *KB) Count() int {
	col, err := kb.collection()
	if err != nil {
		return 0
	}
	return col.Count()
}

// Delete removes one document from the index.
func (kb *KB) Delete(ctx context.Context, id string) error {
	col, err := kb.collection()
	if err != nil {
		return err
	}
	if err := col.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("deleting document %s: %w", id, err)
	}
	return nil
}
