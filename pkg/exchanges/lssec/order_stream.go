package lssec

import (
	"context"
	"sync"
	"time"

	"equity-core/pkg/exchanges/common"
)

// orderStream is the order-event socket plus the token its categories were
// subscribed with. retried marks categories that already spent their one
// resend after an auth rejection.
type orderStream struct {
	sock *socket

	mu      sync.Mutex
	token   string
	retried map[string]bool
}

// ConnectOrderEvents opens the order-event socket and subscribes to all five
// categories before returning. Events arrive on the returned channel until ctx
// is done. Unknown categories and malformed frames are logged and skipped.
func (c *Client) ConnectOrderEvents(ctx context.Context) (<-chan common.OrderEvent, error) {
	logger := c.log.With().Str("socket", "order").Logger()
	st := &orderStream{
		sock:    newSocket(c.cfg.OrderURL, c.cfg.PingInterval, c.cfg.Backoff, logger),
		retried: make(map[string]bool),
	}

	conn, err := st.sock.dial(ctx)
	if err != nil {
		return nil, err
	}
	subscribe := func(ctx context.Context) error { return c.subscribeOrderEvents(ctx, st) }
	if err := subscribe(ctx); err != nil {
		st.sock.release(conn)
		return nil, err
	}

	out := make(chan common.OrderEvent, c.cfg.EventBuffer)
	go func() {
		defer close(out)
		st.sock.run(ctx, conn, subscribe, func(data []byte, at time.Time) {
			ev, ok := c.decodeOrderEvent(ctx, st, data, at)
			if !ok {
				return
			}
			select {
			case out <- ev:
			case <-ctx.Done():
			}
		})
	}()
	return out, nil
}

func (c *Client) subscribeOrderEvents(ctx context.Context, st *orderStream) error {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, ec := range orderEventCodes {
		if err := st.sock.writeJSON(newFrame(token, trTypeSubscribe, ec.code, "")); err != nil {
			return err
		}
	}
	st.token = token
	clear(st.retried)
	st.sock.log.Info().Int("categories", len(orderEventCodes)).Msg("order events subscribed")
	return nil
}

func (c *Client) decodeOrderEvent(ctx context.Context, st *orderStream, data []byte, at time.Time) (common.OrderEvent, bool) {
	f, err := decodeFrame(data)
	if err != nil {
		st.sock.log.Warn().Err(err).Msg("dropping frame")
		return common.OrderEvent{}, false
	}
	if f.isAck() {
		c.handleOrderAck(ctx, st, f)
		return common.OrderEvent{}, false
	}
	kind, ok := orderEventKind(f.Header.TrCd)
	if !ok {
		st.sock.log.Warn().Str("tr_cd", f.Header.TrCd).Msg("unknown order event category")
		return common.OrderEvent{}, false
	}
	ev, err := parseOrderEvent(kind, f, at)
	if err != nil {
		st.sock.log.Warn().Err(err).Msg("dropping frame")
		return common.OrderEvent{}, false
	}
	return ev, true
}

func (c *Client) handleOrderAck(ctx context.Context, st *orderStream, f inFrame) {
	code := f.Header.TrCd
	logger := st.sock.log.With().Str("tr_cd", code).
		Str("rsp_cd", f.Header.RspCd).Str("rsp_msg", f.Header.RspMsg).Logger()

	if f.accepted() {
		st.mu.Lock()
		delete(st.retried, code)
		st.mu.Unlock()
		logger.Debug().Msg("subscription ack")
		return
	}
	if _, known := orderEventKind(code); !known || !f.authRejected() {
		logger.Error().Msg("order event subscription rejected")
		return
	}
	logger.Warn().Msg("order event subscription token rejected")
	go c.retryOrderSubscription(ctx, st, code)
}

// retryOrderSubscription resends one category with a fresh token. A second
// auth rejection for the same category is logged and left alone.
func (c *Client) retryOrderSubscription(ctx context.Context, st *orderStream, code string) {
	st.mu.Lock()
	if st.retried[code] {
		st.mu.Unlock()
		st.sock.log.Error().Str("tr_cd", code).Msg("order event subscription rejected after token refresh")
		return
	}
	st.retried[code] = true
	stale := st.token
	st.mu.Unlock()

	c.invalidateToken(stale)
	token, err := c.AccessToken(ctx)

	st.mu.Lock()
	defer st.mu.Unlock()
	if err == nil {
		err = st.sock.writeJSON(newFrame(token, trTypeSubscribe, code, ""))
	}
	if err != nil {
		st.sock.log.Error().Err(err).Str("tr_cd", code).Msg("order event resubscribe failed")
		return
	}
	st.token = token
	st.sock.log.Info().Str("tr_cd", code).Msg("order event subscription resent with fresh token")
}
