package search

import (
	"context"
	"fmt"

	"github.com/suteetoe/coursecatalog/pkg/config"
	"go.uber.org/zap"
)

// Backend names
const (
	BackendMemory        = "memory"
	BackendElasticsearch = "elasticsearch"
)

// Bucket is one facet count
type Bucket struct {
	Value         string
	Count         int
	DistinctCount int
}

// Result is what a backend returns for one search
type Result struct {
	Total        int
	DistinctHits int
	Hits         []Doc
	Fields       map[string][]Bucket
	Queries      map[string]Bucket
}

// Backend stores documents and answers faceted queries
type Backend interface {
	Name() string
	Index(ctx context.Context, docs []Doc) error
	Delete(ctx context.Context, ids []string) error
	Clear(ctx context.Context) error
	Search(ctx context.Context, q Query, plan *AggregationPlan, offset, limit int) (*Result, error)
	// ScanPKs returns the primary key of every document matching q, with no
	// result window
	ScanPKs(ctx context.Context, q Query) ([]uint, error)
}

// NewBackend builds the configured backend
func NewBackend(cfg config.SearchConfig, log *zap.Logger) (Backend, error) {
	switch cfg.Backend {
	case "", BackendMemory:
		return NewMemoryBackend()
	case BackendElasticsearch:
		return NewElasticBackend(cfg, log)
	}
	return nil, fmt.Errorf("unknown search backend %q", cfg.Backend)
}
