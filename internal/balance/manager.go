// Package balance tracks orderable cash so buy proposals can be checked
// before they reach the exchange.
package balance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Source reports the account's orderable cash.
type Source interface {
	Balance(ctx context.Context) (decimal.Decimal, error)
}

// Balance is a point-in-time view of the cache.
type Balance struct {
	Available decimal.Decimal `json:"available"`
	Reserved  decimal.Decimal `json:"reserved"`
	LastSync  time.Time       `json:"last_sync"`
}

// Manager caches the exchange's orderable amount. Buy submissions reserve
// cash locally until the next sync, when the exchange figure (which already
// nets out open orders) replaces the cache.
type Manager struct {
	source       Source
	syncInterval time.Duration
	log          zerolog.Logger

	mu        sync.RWMutex
	available decimal.Decimal
	reserved  decimal.Decimal
	lastSync  time.Time
}

func NewManager(source Source, syncInterval time.Duration) *Manager {
	if syncInterval <= 0 {
		syncInterval = time.Minute
	}
	return &Manager{
		source:       source,
		syncInterval: syncInterval,
		log:          log.With().Str("component", "balance").Logger(),
	}
}

// Start syncs once, then every interval until ctx is done.
func (m *Manager) Start(ctx context.Context) {
	if err := m.Sync(ctx); err != nil {
		m.log.Error().Err(err).Msg("balance sync failed")
	}

	ticker := time.NewTicker(m.syncInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := m.Sync(ctx); err != nil && ctx.Err() == nil {
					m.log.Error().Err(err).Msg("balance sync failed")
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Sync replaces the cache with the exchange figure and clears reservations.
func (m *Manager) Sync(ctx context.Context) error {
	amount, err := m.source.Balance(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.available = amount
	m.reserved = decimal.Zero
	m.lastSync = time.Now()
	m.mu.Unlock()

	m.log.Debug().Str("available", amount.String()).Msg("balance synced")
	return nil
}

// Reserve sets aside amount for a buy order.
func (m *Manager) Reserve(amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lastSync.IsZero() {
		return fmt.Errorf("balance not synced yet")
	}
	if amount.GreaterThan(m.available) {
		return fmt.Errorf("insufficient cash: need %s, have %s", amount.StringFixed(0), m.available.StringFixed(0))
	}
	m.available = m.available.Sub(amount)
	m.reserved = m.reserved.Add(amount)
	return nil
}

// Release returns a reservation whose order never reached the exchange.
func (m *Manager) Release(amount decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if amount.GreaterThan(m.reserved) {
		amount = m.reserved
	}
	m.reserved = m.reserved.Sub(amount)
	m.available = m.available.Add(amount)
}

func (m *Manager) GetBalance() Balance {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Balance{Available: m.available, Reserved: m.reserved, LastSync: m.lastSync}
}
