package lssec

import (
	"context"
	"fmt"

	"equity-core/pkg/exchanges/common"
)

const trTickerList = "t8436"

type tickerListResponse struct {
	apiStatus
	OutBlock []struct {
		Shcode string `json:"shcode"`
		Hname  string `json:"hname"`
		Gubun  string `json:"gubun"`
	} `json:"t8436OutBlock"`
}

// Tickers returns every listed ticker and its market. The list is fetched once
// per process; concurrent first callers share the request. A failed fetch is
// not cached. The returned map is shared and must not be modified.
func (c *Client) Tickers(ctx context.Context) (map[string]common.Market, error) {
	c.tickersMu.RLock()
	m := c.tickers
	c.tickersMu.RUnlock()
	if m != nil {
		return m, nil
	}

	v, err := shared(ctx, &c.tickersGroup, "tickers", func(ctx context.Context) (any, error) {
		c.tickersMu.RLock()
		cached := c.tickers
		c.tickersMu.RUnlock()
		if cached != nil {
			return cached, nil
		}
		fresh, err := c.fetchTickers(ctx)
		if err != nil {
			return nil, err
		}
		c.tickersMu.Lock()
		c.tickers = fresh
		c.tickersMu.Unlock()
		return fresh, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]common.Market), nil
}

func (c *Client) fetchTickers(ctx context.Context) (map[string]common.Market, error) {
	req := map[string]any{
		"t8436InBlock": map[string]string{"gubun": "0"},
	}
	var res tickerListResponse
	if err := c.call(ctx, "/stock/etc", trTickerList, req, &res); err != nil {
		return nil, err
	}
	if len(res.OutBlock) == 0 {
		return nil, &common.ProtocolError{Op: trTickerList, Err: fmt.Errorf("empty t8436OutBlock: [%s] %s", res.RspCd, res.RspMsg)}
	}

	out := make(map[string]common.Market, len(res.OutBlock))
	skipped := 0
	for _, item := range res.OutBlock {
		market, ok := parseMarket(item.Gubun)
		if !ok || item.Shcode == "" {
			skipped++
			continue
		}
		out[item.Shcode] = market
	}
	c.log.Info().Int("tickers", len(out)).Int("skipped", skipped).Msg("ticker map loaded")
	return out, nil
}

// Market resolves a ticker's market. Unknown tickers wrap common.ErrNotFound.
func (c *Client) Market(ctx context.Context, ticker string) (common.Market, error) {
	m, err := c.Tickers(ctx)
	if err != nil {
		return "", err
	}
	market, ok := m[ticker]
	if !ok {
		return "", fmt.Errorf("ticker %s: %w", ticker, common.ErrNotFound)
	}
	return market, nil
}

func parseMarket(gubun string) (common.Market, bool) {
	switch gubun {
	case "1":
		return common.MarketKOSPI, true
	case "2":
		return common.MarketKOSDAQ, true
	default:
		return "", false
	}
}
