package lssec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"equity-core/pkg/exchanges/common"

	"github.com/shopspring/decimal"
)

const (
	trTypeSubscribe   = "1"
	trTypeUnsubscribe = "4"
)

type frameHeader struct {
	Token  string `json:"token"`
	TrType string `json:"tr_type"`
}

type frameBody struct {
	TrCd  string `json:"tr_cd"`
	TrKey string `json:"tr_key"`
}

// outFrame is a subscribe/unsubscribe request.
type outFrame struct {
	Header frameHeader `json:"header"`
	Body   frameBody   `json:"body"`
}

func newFrame(token, trType, trCd, trKey string) outFrame {
	return outFrame{
		Header: frameHeader{Token: token, TrType: trType},
		Body:   frameBody{TrCd: trCd, TrKey: trKey},
	}
}

// inFrame is anything the server pushes: acks carry rsp_cd and a null body,
// data frames carry the TR body.
type inFrame struct {
	Header struct {
		TrCd   string `json:"tr_cd"`
		TrKey  string `json:"tr_key"`
		RspCd  string `json:"rsp_cd"`
		RspMsg string `json:"rsp_msg"`
	} `json:"header"`
	Body json.RawMessage `json:"body"`
}

func (f inFrame) isAck() bool {
	b := bytes.TrimSpace(f.Body)
	return len(b) == 0 || bytes.Equal(b, []byte("null"))
}

// accepted reports whether an ack carries a success rsp_cd.
func (f inFrame) accepted() bool {
	return f.Header.RspCd == "" || strings.HasPrefix(f.Header.RspCd, "0000")
}

// authRejected reports whether an ack refused the frame's token.
func (f inFrame) authRejected() bool {
	return authCodes[f.Header.RspCd]
}

func decodeFrame(data []byte) (inFrame, error) {
	var f inFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return f, &common.ProtocolError{Op: "decode frame", Payload: truncate(data), Err: err}
	}
	return f, nil
}

// tickCode is the real-time trade TR for a market.
func tickCode(m common.Market) string {
	if m == common.MarketKOSDAQ {
		return "K3_"
	}
	return "S3_"
}

type tickBody struct {
	Shcode  flexString `json:"shcode"`
	Price   flexString `json:"price"`
	CVolume flexString `json:"cvolume"`
}

func parseTick(f inFrame, at time.Time) (common.Tick, error) {
	var b tickBody
	if err := json.Unmarshal(f.Body, &b); err != nil {
		return common.Tick{}, &common.ProtocolError{Op: "tick body", Payload: truncate(f.Body), Err: err}
	}
	if b.Shcode == "" || b.Price == "" {
		return common.Tick{}, &common.ProtocolError{Op: "tick body", Payload: truncate(f.Body), Err: errors.New("missing shcode or price")}
	}
	if _, err := decimal.NewFromString(b.Price.String()); err != nil {
		return common.Tick{}, &common.ProtocolError{Op: "tick body", Payload: truncate(f.Body), Err: fmt.Errorf("price: %w", err)}
	}
	return common.Tick{
		Ticker:     b.Shcode.String(),
		Price:      b.Price.String(),
		Volume:     b.CVolume.String(),
		ReceivedAt: at,
	}, nil
}

// orderEventCodes are subscribed in this order on every order-socket connect.
var orderEventCodes = []struct {
	code string
	kind common.OrderEventKind
}{
	{"SC0", common.OrderEventWait},
	{"SC1", common.OrderEventSuccess},
	{"SC2", common.OrderEventEdit},
	{"SC3", common.OrderEventCancel},
	{"SC4", common.OrderEventDenied},
}

func orderEventKind(code string) (common.OrderEventKind, bool) {
	for _, c := range orderEventCodes {
		if c.code == code {
			return c.kind, true
		}
	}
	return "", false
}

type orderEventBody struct {
	OrdNo   flexString `json:"ordno"`
	ExecQty flexString `json:"execqty"`
	ExecPrc flexString `json:"execprc"`
}

// canonicalOrderNo normalizes an exchange order number to its decimal form
// without leading zeros. The API pads ordno in some TRs and not others.
func canonicalOrderNo(raw string) (string, bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || n <= 0 {
		return "", false
	}
	return strconv.FormatInt(n, 10), true
}

func parseOrderEvent(kind common.OrderEventKind, f inFrame, at time.Time) (common.OrderEvent, error) {
	var b orderEventBody
	if err := json.Unmarshal(f.Body, &b); err != nil {
		return common.OrderEvent{}, &common.ProtocolError{Op: "order event body", Payload: truncate(f.Body), Err: err}
	}
	id, ok := canonicalOrderNo(b.OrdNo.String())
	if !ok {
		return common.OrderEvent{}, &common.ProtocolError{Op: "order event body", Payload: truncate(f.Body), Err: fmt.Errorf("bad ordno %q", b.OrdNo)}
	}

	ev := common.OrderEvent{ID: id, Kind: kind, ReceivedAt: at}
	if q := b.ExecQty.String(); q != "" {
		if n, err := strconv.ParseInt(q, 10, 64); err == nil {
			ev.ExecQty = n
		}
	}
	if p := b.ExecPrc.String(); p != "" {
		if d, err := decimal.NewFromString(p); err == nil {
			ev.ExecPrice = d
		}
	}
	return ev, nil
}
