package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/suteetoe/coursecatalog/internal/model"
	"github.com/suteetoe/coursecatalog/internal/store"
	"github.com/suteetoe/coursecatalog/prometheus"
	"go.uber.org/zap"
)

// ErrStopped aborts a loader that was asked to stop between pages
var ErrStopped = errors.New("ingest: loader stopped")

// errSkipped marks a record that was understood but could not be applied,
// e.g. a seat for an unknown run
var errSkipped = errors.New("record skipped")

func skipf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errSkipped, fmt.Sprintf(format, args...))
}

// Summary describes one loader run
type Summary struct {
	Loader   string        `json:"loader"`
	Pages    int           `json:"pages"`
	Records  int           `json:"records"`
	Failed   int           `json:"failed"`
	Skipped  int           `json:"skipped"`
	Deleted  int           `json:"deleted"`
	Swept    bool          `json:"swept"`
	Duration time.Duration `json:"duration"`
}

// Loader ingests one upstream source for one partner
type Loader interface {
	Name() string
	Ingest(ctx context.Context) (*Summary, error)
}

// Options are shared by every loader of a partner
type Options struct {
	Store    *store.Store
	Partner  *model.Partner
	Fetcher  Fetcher
	PageSize int
	Log      *zap.Logger
	// ShouldStop is checked between pages
	ShouldStop func() bool
	Now        func() time.Time
}

type base struct {
	Options
	name string
}

func newBase(name string, o Options) base {
	if o.PageSize <= 0 {
		o.PageSize = DefaultPageSize
	}
	if o.Log == nil {
		o.Log = zap.NewNop()
	}
	if o.ShouldStop == nil {
		o.ShouldStop = func() bool { return false }
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	o.Log = o.Log.With(zap.String("loader", name), zap.String("partner", o.Partner.ShortCode))
	return base{Options: o, name: name}
}

func (b *base) Name() string { return b.name }

func (b *base) actor() string { return "ingest:" + b.name }

// withTx runs fn in a transaction attributed to the loader
func (b *base) withTx(ctx context.Context, fn func(tx *store.Tx) error) error {
	return b.Store.WithTx(ctx, b.actor(), nil, fn)
}

// recordHandler applies one raw record and returns its upstream identifier
type recordHandler func(ctx context.Context, raw json.RawMessage) (string, error)

// pages walks endpoint until the upstream reports no next page. A record
// that fails is logged and counted; a page that fails aborts the run.
func (b *base) pages(ctx context.Context, endpoint string, handle recordHandler) (*Summary, error) {
	s := &Summary{Loader: b.name}
	if endpoint == "" {
		b.Log.Info("No upstream url configured, skipping")
		return s, nil
	}
	next, err := firstPageURL(endpoint, b.PageSize)
	if err != nil {
		return s, err
	}

	for next != "" {
		if b.ShouldStop() {
			return s, ErrStopped
		}
		if err := ctx.Err(); err != nil {
			return s, err
		}

		var page Page
		if err := b.Fetcher.GetJSON(ctx, next, &page); err != nil {
			return s, fmt.Errorf("failed to fetch %s: %w", next, err)
		}
		s.Pages++
		for _, raw := range page.Results {
			s.Records++
			id, err := handle(ctx, raw)
			switch {
			case err == nil:
				prometheus.RecordIngestRecord(b.name, "ok")
			case errors.Is(err, errSkipped):
				s.Skipped++
				prometheus.RecordIngestRecord(b.name, "skipped")
				b.Log.Warn("Skipped upstream record", zap.String("record", id), zap.Error(err))
			default:
				s.Failed++
				prometheus.RecordIngestRecord(b.name, "failed")
				b.Log.Warn("Failed to apply upstream record", zap.String("record", id), zap.Error(err))
			}
		}
		next = page.Next
	}
	return s, nil
}

// sweepAllowed reports whether the orphan sweep may run after a listing.
// An empty listing never sweeps.
func (b *base) sweepAllowed(s *Summary) bool {
	if s.Records == 0 {
		b.Log.Warn("Upstream returned no records, skipping orphan sweep")
		return false
	}
	return true
}

// finish records metrics and logs the outcome of a run
func (b *base) finish(s *Summary, start time.Time, err error) (*Summary, error) {
	s.Duration = time.Since(start)
	status := "ok"
	if err != nil {
		status = "aborted"
	}
	prometheus.ObserveIngestRun(b.name, status, s.Duration)
	if s.Deleted > 0 {
		prometheus.RecordOrphansDeleted(b.name, s.Deleted)
	}
	fields := []zap.Field{
		zap.Int("pages", s.Pages),
		zap.Int("records", s.Records),
		zap.Int("failed", s.Failed),
		zap.Int("skipped", s.Skipped),
		zap.Int("deleted", s.Deleted),
		zap.Bool("swept", s.Swept),
		zap.Duration("duration", s.Duration),
	}
	if err != nil {
		b.Log.Error("Loader aborted", append(fields, zap.Error(err))...)
		return s, err
	}
	b.Log.Info("Loader finished", fields...)
	return s, nil
}
