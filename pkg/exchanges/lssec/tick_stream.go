package lssec

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"equity-core/pkg/exchanges/common"
)

// tickStream is the live tick socket plus the tickers subscribed on it.
type tickStream struct {
	sock *socket

	subMu sync.Mutex // held across the subscription write
	subs  map[string]*tickSub
}

// tickSub remembers the token a subscription was sent with so an auth
// rejection can invalidate exactly that token. retried is set after the one
// resend a rejection earns and cleared by the next success ack.
type tickSub struct {
	market  common.Market
	token   string
	retried bool
}

// ConnectTickStream opens the tick socket. Ticks for every subscribed ticker
// arrive on the returned channel in socket order; it closes when ctx is done.
// Malformed frames are logged and dropped.
func (c *Client) ConnectTickStream(ctx context.Context) (<-chan common.Tick, error) {
	c.streamMu.Lock()
	defer c.streamMu.Unlock()
	if c.ticks != nil {
		return nil, errors.New("tick stream already connected")
	}
	if _, err := c.Tickers(ctx); err != nil {
		return nil, fmt.Errorf("resolve tickers: %w", err)
	}

	logger := c.log.With().Str("socket", "tick").Logger()
	ts := &tickStream{
		sock: newSocket(c.cfg.TickURL, c.cfg.PingInterval, c.cfg.Backoff, logger),
		subs: make(map[string]*tickSub),
	}
	conn, err := ts.sock.dial(ctx)
	if err != nil {
		return nil, err
	}
	c.ticks = ts

	out := make(chan common.Tick, c.cfg.EventBuffer)
	go func() {
		defer close(out)
		defer func() {
			c.streamMu.Lock()
			if c.ticks == ts {
				c.ticks = nil
			}
			c.streamMu.Unlock()
		}()
		ts.sock.run(ctx, conn,
			func(ctx context.Context) error { return c.resubscribe(ctx, ts) },
			func(data []byte, at time.Time) { c.forwardTick(ctx, ts, data, at, out) })
	}()
	return out, nil
}

func (c *Client) forwardTick(ctx context.Context, ts *tickStream, data []byte, at time.Time, out chan<- common.Tick) {
	f, err := decodeFrame(data)
	if err != nil {
		ts.sock.log.Warn().Err(err).Msg("dropping frame")
		return
	}
	if f.isAck() {
		c.handleTickAck(ctx, ts, f)
		return
	}
	tick, err := parseTick(f, at)
	if err != nil {
		ts.sock.log.Warn().Err(err).Msg("dropping frame")
		return
	}
	select {
	case out <- tick:
	case <-ctx.Done():
	}
}

func (c *Client) handleTickAck(ctx context.Context, ts *tickStream, f inFrame) {
	ticker := f.Header.TrKey
	logger := ts.sock.log.With().Str("tr_cd", f.Header.TrCd).Str("ticker", ticker).
		Str("rsp_cd", f.Header.RspCd).Str("rsp_msg", f.Header.RspMsg).Logger()

	if f.accepted() {
		ts.subMu.Lock()
		if sub, ok := ts.subs[ticker]; ok {
			sub.retried = false
		}
		ts.subMu.Unlock()
		logger.Debug().Msg("subscription ack")
		return
	}
	if ticker == "" {
		if f.authRejected() {
			ts.subMu.Lock()
			for _, sub := range ts.subs {
				c.invalidateToken(sub.token)
			}
			ts.subMu.Unlock()
		}
		logger.Warn().Msg("subscription rejected without tr_key")
		return
	}
	if f.authRejected() {
		logger.Warn().Msg("subscription token rejected")
		go c.retryTickSubscription(ctx, ts, ticker)
		return
	}
	ts.subMu.Lock()
	_, ok := ts.subs[ticker]
	delete(ts.subs, ticker)
	ts.subMu.Unlock()
	if ok {
		logger.Error().Msg("subscription rejected, dropped")
	}
}

// retryTickSubscription resends a rejected subscription once with a fresh
// token. A second auth rejection drops the ticker.
func (c *Client) retryTickSubscription(ctx context.Context, ts *tickStream, ticker string) {
	ts.subMu.Lock()
	sub, ok := ts.subs[ticker]
	if !ok {
		ts.subMu.Unlock()
		return
	}
	if sub.retried {
		delete(ts.subs, ticker)
		ts.subMu.Unlock()
		ts.sock.log.Error().Str("ticker", ticker).Msg("subscription rejected after token refresh, dropped")
		return
	}
	sub.retried = true
	stale := sub.token
	ts.subMu.Unlock()

	c.invalidateToken(stale)
	token, err := c.AccessToken(ctx)

	ts.subMu.Lock()
	defer ts.subMu.Unlock()
	if ts.subs[ticker] != sub {
		return
	}
	if err == nil {
		err = ts.sock.writeJSON(newFrame(token, trTypeSubscribe, tickCode(sub.market), ticker))
	}
	if err != nil {
		delete(ts.subs, ticker)
		ts.sock.log.Error().Err(err).Str("ticker", ticker).Msg("subscription retry failed, dropped")
		return
	}
	sub.token = token
	ts.sock.log.Info().Str("ticker", ticker).Msg("subscription resent with fresh token")
}

func (c *Client) activeTicks() (*tickStream, error) {
	c.streamMu.Lock()
	defer c.streamMu.Unlock()
	if c.ticks == nil {
		return nil, common.ErrNotConnected
	}
	return c.ticks, nil
}

// Subscribe starts the tick feed for ticker. Subscribing twice without an
// Unsubscribe in between returns common.ErrAlreadySubscribed.
func (c *Client) Subscribe(ctx context.Context, ticker string) error {
	ts, err := c.activeTicks()
	if err != nil {
		return err
	}
	market, err := c.Market(ctx, ticker)
	if err != nil {
		return err
	}
	token, err := c.AccessToken(ctx)
	if err != nil {
		return err
	}

	ts.subMu.Lock()
	defer ts.subMu.Unlock()
	if _, ok := ts.subs[ticker]; ok {
		return fmt.Errorf("subscribe %s: %w", ticker, common.ErrAlreadySubscribed)
	}
	if err := ts.sock.writeJSON(newFrame(token, trTypeSubscribe, tickCode(market), ticker)); err != nil {
		return fmt.Errorf("subscribe %s: %w", ticker, err)
	}
	ts.subs[ticker] = &tickSub{market: market, token: token}
	ts.sock.log.Info().Str("ticker", ticker).Str("market", string(market)).Msg("subscribed")
	return nil
}

// Unsubscribe stops the tick feed for ticker.
func (c *Client) Unsubscribe(ctx context.Context, ticker string) error {
	ts, err := c.activeTicks()
	if err != nil {
		return err
	}
	token, err := c.AccessToken(ctx)
	if err != nil {
		return err
	}

	ts.subMu.Lock()
	defer ts.subMu.Unlock()
	sub, ok := ts.subs[ticker]
	if !ok {
		return fmt.Errorf("unsubscribe %s: %w", ticker, common.ErrNotSubscribed)
	}
	if err := ts.sock.writeJSON(newFrame(token, trTypeUnsubscribe, tickCode(sub.market), ticker)); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", ticker, err)
	}
	delete(ts.subs, ticker)
	ts.sock.log.Info().Str("ticker", ticker).Msg("unsubscribed")
	return nil
}

// resubscribe replays every subscription on a fresh connection.
func (c *Client) resubscribe(ctx context.Context, ts *tickStream) error {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return err
	}
	ts.subMu.Lock()
	defer ts.subMu.Unlock()

	for ticker, sub := range ts.subs {
		if err := ts.sock.writeJSON(newFrame(token, trTypeSubscribe, tickCode(sub.market), ticker)); err != nil {
			return fmt.Errorf("resubscribe %s: %w", ticker, err)
		}
		sub.token = token
		sub.retried = false
	}
	ts.sock.log.Info().Int("tickers", len(ts.subs)).Msg("resubscribed")
	return nil
}
