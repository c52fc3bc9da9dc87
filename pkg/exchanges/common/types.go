package common

import (
	"time"

	"github.com/shopspring/decimal"
)

// Market is the exchange segment an instrument trades on.
type Market string

const (
	MarketKOSPI  Market = "KOSPI"
	MarketKOSDAQ Market = "KOSDAQ"
)

// Tick is a single price/volume update for one ticker.
type Tick struct {
	Ticker     string    `json:"ticker"`
	Price      string    `json:"price"`
	Volume     string    `json:"volume"`
	ReceivedAt time.Time `json:"received_at"`
}

// PriceDecimal parses the wire price.
func (t Tick) PriceDecimal() (decimal.Decimal, error) {
	return decimal.NewFromString(t.Price)
}

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType denotes the pricing mode of an order.
type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
)

// OrderRequest captures an order intent to be sent to the brokerage.
type OrderRequest struct {
	Ticker string
	Side   Side
	Type   OrderType
	Qty    int64
	Price  decimal.Decimal // ignored for market orders
}

// OrderResult is the brokerage acknowledgement of a placed order.
type OrderResult struct {
	ExchangeOrderID string
}

// CancelRequest identifies a live order to cancel.
type CancelRequest struct {
	ExchangeOrderID string
	Ticker          string
	Qty             int64
}

// Holding is one line of the account's holdings as reported by the brokerage.
type Holding struct {
	Ticker   string
	Name     string
	Qty      int64
	AvgPrice decimal.Decimal
}

// DailyBar is one daily OHLCV candle. Date is midnight KST of the session.
type DailyBar struct {
	Ticker string
	Date   time.Time
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume int64
}

// OrderEventKind is the lifecycle category of an order notification.
type OrderEventKind string

const (
	OrderEventWait    OrderEventKind = "WAIT"
	OrderEventSuccess OrderEventKind = "SUCCESS"
	OrderEventEdit    OrderEventKind = "EDIT"
	OrderEventCancel  OrderEventKind = "CANCEL"
	OrderEventDenied  OrderEventKind = "DENIED"
)

// OrderEvent is an asynchronous order-status notification.
// ExecQty and ExecPrice are set only when the brokerage reports execution details.
type OrderEvent struct {
	ID         string
	Kind       OrderEventKind
	ExecQty    int64
	ExecPrice  decimal.Decimal
	ReceivedAt time.Time
}
