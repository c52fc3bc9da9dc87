package model

import "time"

// Candle is one daily OHLCV bar.
type Candle struct {
	Ticker   string
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   int64
	Datetime time.Time
}

// StrategyInstance mirrors a configured strategy into storage.
type StrategyInstance struct {
	ID         string
	Type       string
	Symbols    []string
	Parameters string // JSON
	IsActive   bool
}

// ReportRecord is a stored reconciliation report.
type ReportRecord struct {
	ID           string
	CreatedAt    time.Time
	HoldingDiffs int
	StaleOrders  int
	Payload      string // JSON
}
