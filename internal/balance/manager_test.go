package balance

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedSource struct {
	amount decimal.Decimal
	err    error
}

func (f *fixedSource) Balance(context.Context) (decimal.Decimal, error) {
	return f.amount, f.err
}

func TestReserveRequiresSync(t *testing.T) {
	m := NewManager(&fixedSource{amount: decimal.NewFromInt(100000)}, 0)
	assert.Error(t, m.Reserve(decimal.NewFromInt(1)))
}

func TestReserveReleaseAndSync(t *testing.T) {
	src := &fixedSource{amount: decimal.NewFromInt(100000)}
	m := NewManager(src, 0)
	require.NoError(t, m.Sync(context.Background()))

	require.NoError(t, m.Reserve(decimal.NewFromInt(70000)))
	err := m.Reserve(decimal.NewFromInt(70000))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient cash")

	b := m.GetBalance()
	assert.True(t, b.Available.Equal(decimal.NewFromInt(30000)))
	assert.True(t, b.Reserved.Equal(decimal.NewFromInt(70000)))

	m.Release(decimal.NewFromInt(70000))
	assert.True(t, m.GetBalance().Available.Equal(decimal.NewFromInt(100000)))

	// exchange figure wins on sync
	require.NoError(t, m.Reserve(decimal.NewFromInt(50000)))
	src.amount = decimal.NewFromInt(40000)
	require.NoError(t, m.Sync(context.Background()))
	b = m.GetBalance()
	assert.True(t, b.Available.Equal(decimal.NewFromInt(40000)))
	assert.True(t, b.Reserved.IsZero())
}

func TestSyncErrorKeepsCache(t *testing.T) {
	src := &fixedSource{amount: decimal.NewFromInt(1000)}
	m := NewManager(src, 0)
	require.NoError(t, m.Sync(context.Background()))

	src.err = errors.New("down")
	assert.Error(t, m.Sync(context.Background()))
	assert.True(t, m.GetBalance().Available.Equal(decimal.NewFromInt(1000)))
}
