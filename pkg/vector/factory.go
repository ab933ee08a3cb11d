package vector

import (
	"context"
	"fmt"

	"github.com/synvo-ai/Local-Cocoa/pkg/config"
)

// New builds the configured vector store backend.
func New(ctx context.Context, cfg config.VectorConfig) (Store, error) {
	switch cfg.Type {
	case "", "chromem":
		return NewChromemStore(cfg.Path, cfg.Collection)
	case "qdrant":
		return NewQdrantStore(ctx, QdrantOptions{
			Host:       cfg.Host,
			Port:       cfg.Port,
			APIKey:     cfg.APIKey,
			UseTLS:     cfg.EnableTLS,
			Collection: cfg.Collection,
			Dimension:  cfg.Dimension,
		})
	default:
		return nil, fmt.Errorf("unknown vector store type: %q", cfg.Type)
	}
}
