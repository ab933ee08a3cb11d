package vector

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

// ChromemStore is the embedded backend. Vectors live in memory and
// are exported to a gob file on Flush when a persist path is set.
//
// Single-process and memory-bound; fine for a local workspace.
type ChromemStore struct {
	db          *chromem.DB
	col         *chromem.Collection
	persistPath string
	mu          sync.Mutex
}

// NewChromemStore opens (or creates) the embedded store. An empty
// path keeps everything in memory, which tests rely on.
func NewChromemStore(path, collection string) (*ChromemStore, error) {
	dbPath := ""
	if path != "" {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("create vector dir: %w", err)
		}
		dbPath = filepath.Join(path, "vectors.gob")
	}

	db := chromem.NewDB()
	if dbPath != "" {
		if _, err := os.Stat(dbPath); err == nil {
			// Import is the read counterpart of the Export in Flush.
			if err := db.Import(dbPath, ""); err != nil {
				slog.Warn("vector database unreadable, starting fresh", "path", dbPath, "error", err)
				db = chromem.NewDB()
			}
		}
	}

	// Vectors arrive pre-computed; the embedding hook must never run.
	embed := func(ctx context.Context, text string) ([]float32, error) {
		return nil, fmt.Errorf("embedding requested from vector store; vectors must be pre-computed")
	}

	col, err := db.GetOrCreateCollection(collection, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("open collection %q: %w", collection, err)
	}

	return &ChromemStore{db: db, col: col, persistPath: dbPath}, nil
}

func (s *ChromemStore) Upsert(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	cdocs := make([]chromem.Document, 0, len(docs))
	for _, d := range docs {
		meta := make(map[string]string, len(d.Metadata))
		for k, v := range d.Metadata {
			meta[k] = fmt.Sprint(v)
		}
		content := meta[MetaSnippet]
		cdocs = append(cdocs, chromem.Document{
			ID:        d.ID,
			Content:   content,
			Metadata:  meta,
			Embedding: d.Vector,
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.col.AddDocuments(ctx, cdocs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("upsert %d documents: %w", len(docs), err)
	}
	return nil
}

// Flush exports the database to disk when persistence is enabled.
func (s *ChromemStore) Flush(ctx context.Context) error {
	if s.persistPath == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.Export(s.persistPath, false, ""); err != nil {
		return fmt.Errorf("persist vector database: %w", err)
	}
	return nil
}

func (s *ChromemStore) Search(ctx context.Context, queryVector []float32, k int, filter *Filter) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}

	var where map[string]string
	var allow map[string]struct{}
	if filter != nil {
		where = make(map[string]string)
		if filter.Version != "" {
			where[MetaVersion] = filter.Version
		}
		if filter.PrivacyLevel != "" {
			where[MetaPrivacyLevel] = filter.PrivacyLevel
		}
		if len(where) == 0 {
			where = nil
		}
		if filter.FileIDs != nil {
			if len(filter.FileIDs) == 0 {
				return nil, nil
			}
			allow = make(map[string]struct{}, len(filter.FileIDs))
			for _, id := range filter.FileIDs {
				allow[id] = struct{}{}
			}
		}
	}

	s.mu.Lock()
	count := s.col.Count()
	s.mu.Unlock()
	if count == 0 {
		return nil, nil
	}

	// chromem has no set-membership filter, so over-fetch and trim
	// the file allowlist client-side.
	fetch := k
	if allow != nil {
		fetch = k * 4
	}
	if fetch > count {
		fetch = count
	}

	results, err := s.col.QueryEmbedding(ctx, queryVector, fetch, where, nil)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		if allow != nil {
			if _, ok := allow[r.Metadata[MetaFileID]]; !ok {
				continue
			}
		}
		meta := make(map[string]any, len(r.Metadata))
		for mk, mv := range r.Metadata {
			meta[mk] = mv
		}
		hits = append(hits, Hit{ID: r.ID, Score: r.Similarity, Metadata: meta})
		if len(hits) == k {
			break
		}
	}
	return hits, nil
}

func (s *ChromemStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.col.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("delete %d documents: %w", len(ids), err)
	}
	return nil
}

func (s *ChromemStore) Close() error {
	return s.Flush(context.Background())
}

var _ Store = (*ChromemStore)(nil)
