package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/suteetoe/coursecatalog/internal/apperr"
	"github.com/suteetoe/coursecatalog/internal/model"
	"github.com/suteetoe/coursecatalog/internal/store"
	"github.com/suteetoe/coursecatalog/pkg/config"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// FetcherFactory builds the upstream client of a partner
type FetcherFactory func(p *model.Partner) Fetcher

// Pipeline runs every loader of a partner in dependency order
type Pipeline struct {
	store      *store.Store
	cfg        config.IngestConfig
	log        *zap.Logger
	newFetcher FetcherFactory

	stop    atomic.Bool
	running atomic.Bool
	wg      sync.WaitGroup
}

// NewPipeline creates a pipeline. A nil factory uses NewFetcher.
func NewPipeline(st *store.Store, cfg config.IngestConfig, newFetcher FetcherFactory, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Pipeline{store: st, cfg: cfg, log: log, newFetcher: newFetcher}
	if p.newFetcher == nil {
		p.newFetcher = func(partner *model.Partner) Fetcher { return NewFetcher(partner, cfg, log) }
	}
	return p
}

// Loaders returns the loaders of a partner: organizations, courses,
// ecommerce, programs, marketing
func (p *Pipeline) Loaders(partner *model.Partner) []Loader {
	o := Options{
		Store:      p.store,
		Partner:    partner,
		Fetcher:    p.newFetcher(partner),
		PageSize:   p.cfg.PageSize,
		Log:        p.log,
		ShouldStop: p.stop.Load,
	}
	return []Loader{
		NewOrganizationsLoader(o),
		NewCoursesLoader(o),
		NewEcommerceLoader(o),
		NewProgramsLoader(o),
		NewMarketingLoader(o),
	}
}

// Run ingests one partner. A failing loader does not prevent the later
// ones; every failure is returned.
func (p *Pipeline) Run(ctx context.Context, partner *model.Partner) ([]*Summary, error) {
	var summaries []*Summary
	var errs []error
	for _, l := range p.Loaders(partner) {
		lctx, cancel := ctx, context.CancelFunc(func() {})
		if p.cfg.LoaderTimeout > 0 {
			lctx, cancel = context.WithTimeout(ctx, p.cfg.LoaderTimeout)
		}
		s, err := l.Ingest(lctx)
		cancel()
		summaries = append(summaries, s)
		if errors.Is(err, ErrStopped) {
			return summaries, err
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s loader for %s: %w", l.Name(), partner.ShortCode, err))
		}
	}
	return summaries, errors.Join(errs...)
}

// RunAll ingests every partner, a bounded number at a time
func (p *Pipeline) RunAll(ctx context.Context) (map[string][]*Summary, error) {
	partners, err := p.store.Partners()
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	out := make(map[string][]*Summary, len(partners))
	var errs []error

	g, gctx := errgroup.WithContext(ctx)
	if p.cfg.MaxPartners > 0 {
		g.SetLimit(p.cfg.MaxPartners)
	}
	for i := range partners {
		partner := &partners[i]
		g.Go(func() error {
			summaries, err := p.Run(gctx, partner)
			mu.Lock()
			defer mu.Unlock()
			out[partner.ShortCode] = summaries
			if err != nil {
				errs = append(errs, err)
			}
			// one partner failing never cancels the others
			return nil
		})
	}
	_ = g.Wait()
	return out, errors.Join(errs...)
}

// Start runs RunAll in the background. It fails with a conflict while a
// previous refresh is still running.
func (p *Pipeline) Start(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return apperr.Conflict("A catalog refresh is already running.")
	}
	p.stop.Store(false)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.running.Store(false)
		if _, err := p.RunAll(ctx); err != nil {
			p.log.Error("Catalog refresh finished with errors", zap.Error(err))
			return
		}
		p.log.Info("Catalog refresh finished")
	}()
	return nil
}

// Running reports whether a background refresh is in progress
func (p *Pipeline) Running() bool {
	return p.running.Load()
}

// Stop asks running loaders to stop before their next page and waits for
// the background refresh to return
func (p *Pipeline) Stop() {
	p.stop.Store(true)
	p.wg.Wait()
}
