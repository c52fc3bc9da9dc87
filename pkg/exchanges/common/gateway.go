package common

import (
	"context"

	"github.com/shopspring/decimal"
)

// MarketGateway abstracts the brokerage's tick stream and order entry.
type MarketGateway interface {
	// ConnectTickStream opens the tick socket. The channel closes when ctx is done.
	ConnectTickStream(ctx context.Context) (<-chan Tick, error)
	Subscribe(ctx context.Context, ticker string) error
	Unsubscribe(ctx context.Context, ticker string) error
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	CancelOrder(ctx context.Context, req CancelRequest) error
}

// AccountGateway exposes account-level queries.
type AccountGateway interface {
	Balance(ctx context.Context) (decimal.Decimal, error)
	Holdings(ctx context.Context) ([]Holding, error)
}

// OrderEventSource delivers order lifecycle notifications.
type OrderEventSource interface {
	// ConnectOrderEvents subscribes to every event category before returning.
	ConnectOrderEvents(ctx context.Context) (<-chan OrderEvent, error)
}
