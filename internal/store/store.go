// Package store wraps the canonical gorm database. Every tracked mutation
// appends a history row in the same transaction and emits a saved or
// deleted signal to registered listeners once the transaction commits.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/suteetoe/coursecatalog/internal/model"
	"github.com/suteetoe/coursecatalog/prometheus"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Listener receives entity signals after the writing transaction commits
type Listener interface {
	OnSaved(ctx context.Context, e model.Entity)
	OnDeleted(ctx context.Context, e model.Entity)
}

type signal struct {
	entity  model.Entity
	deleted bool
}

// Store is the entry point to the canonical database
type Store struct {
	Queries

	db  *gorm.DB
	log *zap.Logger
	now func() time.Time

	mu        sync.RWMutex
	listeners []Listener
}

// New creates a store over an open gorm connection
func New(db *gorm.DB, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{Queries: Queries{db: db}, db: db, log: log, now: time.Now}
}

// DB returns the underlying connection for read-only queries
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Subscribe registers a listener for saved and deleted signals
func (s *Store) Subscribe(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Tx is a unit of work; its signals are delivered only if it commits
type Tx struct {
	Queries

	db      *gorm.DB
	actor   string
	now     func() time.Time
	pending []signal
}

// DB returns the transaction handle
func (t *Tx) DB() *gorm.DB {
	return t.db
}

// Actor is recorded as changed_by on every history row of the transaction
func (t *Tx) Actor() string {
	return t.actor
}

// WithTx runs fn in a transaction attributed to actor. opts may be nil.
func (s *Store) WithTx(ctx context.Context, actor string, opts *sql.TxOptions, fn func(tx *Tx) error) (err error) {
	defer prometheus.TrackDBOperation("transaction")(time.Now())

	var gtx *gorm.DB
	if opts != nil {
		gtx = s.db.WithContext(ctx).Begin(opts)
	} else {
		gtx = s.db.WithContext(ctx).Begin()
	}
	if gtx.Error != nil {
		return fmt.Errorf("failed to begin transaction: %w", gtx.Error)
	}

	tx := &Tx{Queries: Queries{db: gtx}, db: gtx, actor: actor, now: s.now}
	defer func() {
		if r := recover(); r != nil {
			gtx.Rollback()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		gtx.Rollback()
		return err
	}
	if err := gtx.Commit().Error; err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.emit(ctx, tx.pending)
	return nil
}

// Save creates or updates a single tracked entity in its own transaction
func (s *Store) Save(ctx context.Context, actor string, e model.Entity) error {
	return s.WithTx(ctx, actor, nil, func(tx *Tx) error {
		return tx.Save(e)
	})
}

// Delete removes a single tracked entity in its own transaction
func (s *Store) Delete(ctx context.Context, actor string, e model.Entity) error {
	return s.WithTx(ctx, actor, nil, func(tx *Tx) error {
		return tx.Delete(e)
	})
}

func (s *Store) emit(ctx context.Context, signals []signal) {
	if len(signals) == 0 {
		return
	}
	s.mu.RLock()
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.RUnlock()

	for _, sig := range dedupeSignals(signals) {
		for _, l := range listeners {
			if sig.deleted {
				l.OnDeleted(ctx, sig.entity)
			} else {
				l.OnSaved(ctx, sig.entity)
			}
		}
	}
}

// dedupeSignals keeps the last signal per entity, in first-seen order
func dedupeSignals(signals []signal) []signal {
	type key struct {
		typ string
		id  uint
	}
	last := make(map[key]int, len(signals))
	var order []key
	for i, sig := range signals {
		k := key{sig.entity.EntityType(), sig.entity.EntityID()}
		if _, seen := last[k]; !seen {
			order = append(order, k)
		}
		last[k] = i
	}
	out := make([]signal, 0, len(order))
	for _, k := range order {
		out = append(out, signals[last[k]])
	}
	return out
}

// Save creates the entity when it has no id, otherwise updates every column.
// Associations are never written implicitly.
func (t *Tx) Save(e model.Entity) error {
	action := model.ActionUpdate
	if e.EntityID() == 0 {
		action = model.ActionCreate
	}
	if err := t.db.Omit(clause.Associations).Save(e).Error; err != nil {
		return fmt.Errorf("failed to save %s: %w", e.EntityType(), err)
	}
	if err := t.appendHistory(e, action); err != nil {
		return err
	}
	t.pending = append(t.pending, signal{entity: e})
	return nil
}

// Delete removes the entity row. Callers remove dependent rows first.
func (t *Tx) Delete(e model.Entity) error {
	if err := t.db.Omit(clause.Associations).Delete(e).Error; err != nil {
		return fmt.Errorf("failed to delete %s: %w", e.EntityType(), err)
	}
	if err := t.appendHistory(e, model.ActionDelete); err != nil {
		return err
	}
	t.pending = append(t.pending, signal{entity: e, deleted: true})
	return nil
}

// Record appends history and a saved signal for an entity the caller already
// wrote through DB(), e.g. with a version-guarded update
func (t *Tx) Record(e model.Entity) error {
	if err := t.appendHistory(e, model.ActionUpdate); err != nil {
		return err
	}
	t.pending = append(t.pending, signal{entity: e})
	return nil
}

// Touch emits a saved signal for e without writing it, for parents whose
// child rows changed
func (t *Tx) Touch(e model.Entity) {
	t.pending = append(t.pending, signal{entity: e})
}

func (t *Tx) appendHistory(e model.Entity, action string) error {
	snapshot, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to snapshot %s: %w", e.EntityType(), err)
	}
	h := model.History{
		EntityType: e.EntityType(),
		EntityID:   e.EntityID(),
		VersionAt:  t.now(),
		ChangedBy:  t.actor,
		Action:     action,
		Snapshot:   datatypes.JSON(snapshot),
	}
	if err := t.db.Create(&h).Error; err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}
