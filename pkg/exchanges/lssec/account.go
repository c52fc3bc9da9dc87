package lssec

import (
	"context"
	"fmt"
	"strconv"

	"equity-core/pkg/exchanges/common"

	"github.com/shopspring/decimal"
)

const (
	trBalance  = "CSPAQ12200"
	trHoldings = "t0424"
)

type balanceResponse struct {
	apiStatus
	Out struct {
		MnyOrdAbleAmt flexString `json:"MnyOrdAbleAmt"`
	} `json:"CSPAQ12200OutBlock2"`
}

type holdingsResponse struct {
	apiStatus
	Rows []struct {
		Expcode flexString `json:"expcode"`
		Hname   string     `json:"hname"`
		Janqty  flexString `json:"janqty"`
		Pamt    flexString `json:"pamt"`
	} `json:"t0424OutBlock1"`
}

// Balance returns the orderable cash amount.
func (c *Client) Balance(ctx context.Context) (decimal.Decimal, error) {
	body := map[string]any{
		"CSPAQ12200InBlock": map[string]any{
			"RecCnt":    1,
			"MgmtBrnNo": "1",
			"BalCreTp":  "1",
		},
	}
	var res balanceResponse
	if err := c.call(ctx, "/stock/accno", trBalance, body, &res); err != nil {
		return decimal.Zero, err
	}
	amt, err := decimal.NewFromString(res.Out.MnyOrdAbleAmt.String())
	if err != nil {
		return decimal.Zero, &common.ProtocolError{Op: trBalance, Payload: res.Out.MnyOrdAbleAmt.String(), Err: err}
	}
	return amt, nil
}

// Holdings returns the account's current stock holdings.
func (c *Client) Holdings(ctx context.Context) ([]common.Holding, error) {
	body := map[string]any{
		"t0424InBlock": map[string]string{
			"prcgb":       "",
			"chegb":       "",
			"dangb":       "",
			"charge":      "",
			"cts_expcode": "",
		},
	}
	var res holdingsResponse
	if err := c.call(ctx, "/stock/accno", trHoldings, body, &res); err != nil {
		return nil, err
	}

	out := make([]common.Holding, 0, len(res.Rows))
	for _, r := range res.Rows {
		qty, err := strconv.ParseInt(r.Janqty.String(), 10, 64)
		if err != nil {
			return nil, &common.ProtocolError{Op: trHoldings, Payload: r.Janqty.String(), Err: fmt.Errorf("janqty: %w", err)}
		}
		avg, err := decimal.NewFromString(r.Pamt.String())
		if err != nil {
			return nil, &common.ProtocolError{Op: trHoldings, Payload: r.Pamt.String(), Err: fmt.Errorf("pamt: %w", err)}
		}
		out = append(out, common.Holding{
			Ticker:   r.Expcode.String(),
			Name:     r.Hname,
			Qty:      qty,
			AvgPrice: avg,
		})
	}
	return out, nil
}
