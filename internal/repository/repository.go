// Package repository is the system of record for orders and positions.
// Positions are served from an in-memory cache loaded once from the store.
package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"equity-core/internal/model"
	"equity-core/pkg/cache"
	"equity-core/pkg/exchanges/common"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Repository wraps a Store with the position cache and per-key update locks.
//
// The cache is never invalidated by outside writers: rows changed directly in
// the database are not visible until restart.
type Repository struct {
	store Store
	log   zerolog.Logger

	positions *cache.Sharded[model.Position]
	loadGroup singleflight.Group
	loadMu    sync.Mutex
	loaded    bool

	keyMu sync.Mutex
	keys  map[model.PositionKey]*sync.Mutex

	now func() time.Time
}

func New(store Store) *Repository {
	return &Repository{
		store:     store,
		log:       log.With().Str("component", "repository").Logger(),
		positions: cache.New[model.Position](),
		keys:      make(map[model.PositionKey]*sync.Mutex),
		now:       time.Now,
	}
}

// Store exposes the backend for read-only consumers (API, reconciliation).
func (r *Repository) Store() Store {
	return r.store
}

// loadTimeout bounds the shared cache load, which outlives the caller that
// started it.
const loadTimeout = 30 * time.Second

// ensureLoaded fills the position cache on first use. Concurrent first callers share one load.
func (r *Repository) ensureLoaded(ctx context.Context) error {
	r.loadMu.Lock()
	done := r.loaded
	r.loadMu.Unlock()
	if done {
		return nil
	}

	ch := r.loadGroup.DoChan("positions", func() (any, error) {
		r.loadMu.Lock()
		if r.loaded {
			r.loadMu.Unlock()
			return nil, nil
		}
		r.loadMu.Unlock()

		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		rows, err := r.store.ListPositions(loadCtx)
		if err != nil {
			return nil, fmt.Errorf("load positions: %w", err)
		}
		for _, p := range rows {
			r.positions.Set(p.Key().String(), p)
		}

		r.loadMu.Lock()
		r.loaded = true
		r.loadMu.Unlock()
		r.log.Info().Int("positions", len(rows)).Msg("position cache loaded")
		return nil, nil
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetPosition returns nil, nil when the strategy has never held the ticker.
func (r *Repository) GetPosition(ctx context.Context, ticker, strategyID string) (*model.Position, error) {
	if err := r.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	key := model.PositionKey{Ticker: ticker, StrategyID: strategyID}
	p, ok := r.positions.Get(key.String())
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// Positions returns every cached position.
func (r *Repository) Positions(ctx context.Context) ([]model.Position, error) {
	if err := r.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	snap := r.positions.Snapshot()
	out := make([]model.Position, 0, len(snap))
	for _, p := range snap {
		out = append(out, p)
	}
	return out, nil
}

// UpdatePosition persists the full row and refreshes the cache entry.
func (r *Repository) UpdatePosition(ctx context.Context, p model.Position) (model.Position, error) {
	if err := r.ensureLoaded(ctx); err != nil {
		return model.Position{}, err
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = r.now()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = p.UpdatedAt
	}
	saved, err := r.store.UpsertPosition(ctx, p)
	if err != nil {
		return model.Position{}, err
	}
	r.positions.Set(saved.Key().String(), saved)
	return saved, nil
}

func (r *Repository) lockFor(key model.PositionKey) *sync.Mutex {
	r.keyMu.Lock()
	defer r.keyMu.Unlock()
	mu, ok := r.keys[key]
	if !ok {
		mu = &sync.Mutex{}
		r.keys[key] = mu
	}
	return mu
}

// RecordFill applies f to its (ticker, strategy) position under that key's
// lock, then accepts the order, stores the fill and saves the position in one
// store transaction. The cache only changes after the commit.
func (r *Repository) RecordFill(ctx context.Context, f model.Fill) (model.Order, model.Position, error) {
	key := model.PositionKey{Ticker: f.Ticker, StrategyID: f.StrategyID}
	mu := r.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	current, err := r.GetPosition(ctx, key.Ticker, key.StrategyID)
	if err != nil {
		return model.Order{}, model.Position{}, err
	}
	next, err := model.ApplyFill(current, f)
	if err != nil {
		return model.Order{}, model.Position{}, err
	}
	if next.UpdatedAt.IsZero() {
		next.UpdatedAt = r.now()
	}
	if next.CreatedAt.IsZero() {
		next.CreatedAt = next.UpdatedAt
	}

	o, saved, err := r.store.RecordFill(ctx, f, next)
	if err != nil {
		return model.Order{}, model.Position{}, err
	}
	r.positions.Set(saved.Key().String(), saved)
	return o, saved, nil
}

func (r *Repository) AddOrder(ctx context.Context, o model.Order) error {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = r.now()
	}
	return r.store.InsertOrder(ctx, o)
}

func (r *Repository) GetOrder(ctx context.Context, id string) (model.Order, error) {
	return r.store.GetOrder(ctx, id)
}

func (r *Repository) DeleteOrder(ctx context.Context, id string) error {
	return r.store.DeleteOrder(ctx, id)
}

// HasPendingOrder is the gate that keeps one unaccepted order per ticker.
func (r *Repository) HasPendingOrder(ctx context.Context, ticker string) (bool, error) {
	return r.store.HasPendingOrder(ctx, ticker)
}

func (r *Repository) ListOrders(ctx context.Context, f model.OrderFilter) ([]model.Order, error) {
	return r.store.ListOrders(ctx, f)
}

// IsNotFound reports whether err means a missing row.
func IsNotFound(err error) bool {
	return errors.Is(err, common.ErrNotFound)
}
