package lssec

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"equity-core/pkg/exchanges/common"

	"github.com/shopspring/decimal"
)

const trDailyChart = "t8410"

var kst = time.FixedZone("KST", 9*60*60)

type dailyChartResponse struct {
	apiStatus
	Rows []struct {
		Date     string     `json:"date"`
		Open     flexString `json:"open"`
		High     flexString `json:"high"`
		Low      flexString `json:"low"`
		Close    flexString `json:"close"`
		JdiffVol flexString `json:"jdiff_vol"`
	} `json:"t8410OutBlock1"`
}

// DailyBars returns up to count adjusted daily candles for ticker, oldest first.
func (c *Client) DailyBars(ctx context.Context, ticker string, count int) ([]common.DailyBar, error) {
	if count <= 0 || count > 500 {
		count = 500
	}
	body := map[string]any{
		"t8410InBlock": map[string]any{
			"shcode":   ticker,
			"gubun":    "2", // daily
			"qrycnt":   count,
			"sdate":    "",
			"edate":    "99999999",
			"cts_date": "",
			"comp_yn":  "N",
			"sujung":   "Y",
		},
	}
	var res dailyChartResponse
	if err := c.call(ctx, "/stock/chart", trDailyChart, body, &res); err != nil {
		return nil, err
	}

	out := make([]common.DailyBar, 0, len(res.Rows))
	for _, r := range res.Rows {
		date, err := time.ParseInLocation("20060102", r.Date, kst)
		if err != nil {
			return nil, &common.ProtocolError{Op: trDailyChart, Payload: r.Date, Err: fmt.Errorf("date: %w", err)}
		}
		bar := common.DailyBar{Ticker: ticker, Date: date}
		for _, f := range []struct {
			dst *decimal.Decimal
			raw flexString
		}{
			{&bar.Open, r.Open}, {&bar.High, r.High}, {&bar.Low, r.Low}, {&bar.Close, r.Close},
		} {
			v, err := decimal.NewFromString(f.raw.String())
			if err != nil {
				return nil, &common.ProtocolError{Op: trDailyChart, Payload: f.raw.String(), Err: err}
			}
			*f.dst = v
		}
		if bar.Volume, err = strconv.ParseInt(r.JdiffVol.String(), 10, 64); err != nil {
			return nil, &common.ProtocolError{Op: trDailyChart, Payload: r.JdiffVol.String(), Err: fmt.Errorf("jdiff_vol: %w", err)}
		}
		out = append(out, bar)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}
