package lssec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"equity-core/pkg/exchanges/common"
)

const (
	trPlaceOrder  = "CSPAT00601"
	trCancelOrder = "CSPAT00801"
)

type placeOrderBlock struct {
	IsuNo         string      `json:"IsuNo"`
	OrdQty        int64       `json:"OrdQty"`
	OrdPrc        json.Number `json:"OrdPrc"`
	BnsTpCode     string      `json:"BnsTpCode"`
	OrdprcPtnCode string      `json:"OrdprcPtnCode"`
	MgntrnCode    string      `json:"MgntrnCode"`
	LoanDt        string      `json:"LoanDt"`
	OrdCndiTpCode string      `json:"OrdCndiTpCode"`
}

type cancelOrderBlock struct {
	OrgOrdNo json.Number `json:"OrgOrdNo"`
	IsuNo    string      `json:"IsuNo"`
	OrdQty   int64       `json:"OrdQty"`
}

type orderResponse struct {
	apiStatus
	Out struct {
		OrdNo flexString `json:"OrdNo"`
	} `json:"CSPAT00601OutBlock2"`
}

type cancelResponse struct {
	apiStatus
	Out struct {
		OrdNo flexString `json:"OrdNo"`
	} `json:"CSPAT00801OutBlock2"`
}

func sideCode(s common.Side) (string, error) {
	switch s {
	case common.SideSell:
		return "1", nil
	case common.SideBuy:
		return "2", nil
	default:
		return "", fmt.Errorf("unknown side %q", s)
	}
}

func priceTypeCode(t common.OrderType) (string, error) {
	switch t {
	case common.OrderTypeLimit:
		return "00", nil
	case common.OrderTypeMarket:
		return "03", nil
	default:
		return "", fmt.Errorf("unknown order type %q", t)
	}
}

func isuNo(ticker string) string {
	return "A" + ticker
}

// PlaceOrder submits a cash order and returns the exchange order number.
func (c *Client) PlaceOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	if req.Ticker == "" || req.Qty <= 0 {
		return common.OrderResult{}, fmt.Errorf("place order: ticker and positive qty required")
	}
	side, err := sideCode(req.Side)
	if err != nil {
		return common.OrderResult{}, fmt.Errorf("place order: %w", err)
	}
	ptn, err := priceTypeCode(req.Type)
	if err != nil {
		return common.OrderResult{}, fmt.Errorf("place order: %w", err)
	}

	price := json.Number("0")
	if req.Type == common.OrderTypeLimit {
		if !req.Price.IsPositive() {
			return common.OrderResult{}, fmt.Errorf("place order: limit order needs a positive price")
		}
		price = json.Number(req.Price.String())
	}

	body := map[string]any{
		"CSPAT00601InBlock1": placeOrderBlock{
			IsuNo:         isuNo(req.Ticker),
			OrdQty:        req.Qty,
			OrdPrc:        price,
			BnsTpCode:     side,
			OrdprcPtnCode: ptn,
			MgntrnCode:    "000",
			LoanDt:        "",
			OrdCndiTpCode: "0",
		},
	}

	var res orderResponse
	if err := c.call(ctx, "/stock/order", trPlaceOrder, body, &res); err != nil {
		return common.OrderResult{}, asRejection(err)
	}
	id, ok := canonicalOrderNo(res.Out.OrdNo.String())
	if !ok {
		return common.OrderResult{}, &common.OrderRejectedError{Code: res.RspCd, Message: res.RspMsg}
	}

	c.log.Info().
		Str("ticker", req.Ticker).
		Str("side", string(req.Side)).
		Str("type", string(req.Type)).
		Int64("qty", req.Qty).
		Str("price", string(price)).
		Str("order_no", id).
		Msg("order placed")
	return common.OrderResult{ExchangeOrderID: id}, nil
}

// CancelOrder cancels the remaining quantity of a live order.
func (c *Client) CancelOrder(ctx context.Context, req common.CancelRequest) error {
	orgNo, ok := canonicalOrderNo(req.ExchangeOrderID)
	if !ok || req.Ticker == "" {
		return fmt.Errorf("cancel order: order id and ticker required")
	}
	body := map[string]any{
		"CSPAT00801InBlock1": cancelOrderBlock{
			OrgOrdNo: json.Number(orgNo),
			IsuNo:    isuNo(req.Ticker),
			OrdQty:   req.Qty,
		},
	}

	var res cancelResponse
	if err := c.call(ctx, "/stock/order", trCancelOrder, body, &res); err != nil {
		return asRejection(err)
	}
	if _, ok := canonicalOrderNo(res.Out.OrdNo.String()); !ok {
		return &common.OrderRejectedError{Code: res.RspCd, Message: res.RspMsg}
	}
	c.log.Info().Str("ticker", req.Ticker).Str("order_no", orgNo).Msg("order cancelled")
	return nil
}

// asRejection turns a 4xx TR answer into an exchange rejection.
func asRejection(err error) error {
	var re *responseError
	if errors.As(err, &re) {
		return &common.OrderRejectedError{Code: re.RspCd, Message: re.RspMsg}
	}
	return err
}
