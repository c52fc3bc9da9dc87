// Package lssec talks to the LS Securities Open API: OAuth token, REST TRs
// and the two websocket feeds (ticks and order events).
package lssec

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"equity-core/pkg/exchanges/common"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultBaseURL  = "https://openapi.ls-sec.co.kr:8080"
	DefaultTickURL  = "wss://openapi.ls-sec.co.kr:9443/websocket"
	DefaultOrderURL = "wss://openapi.ls-sec.co.kr:29443/websocket"
)

// Config holds credentials and endpoints.
type Config struct {
	AppKey    string
	AppSecret string

	BaseURL  string
	TickURL  string
	OrderURL string

	HTTPTimeout   time.Duration
	RatePerSecond float64
	RateLimits    map[string]float64 // per TR code

	Backoff      Backoff
	PingInterval time.Duration
	EventBuffer  int
}

// Client is the LS Securities gateway. One Client owns at most one tick
// socket and one order-event socket at a time.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *common.RateLimiter
	log        zerolog.Logger

	tokenMu    sync.RWMutex
	token      string
	tokenGroup singleflight.Group

	tickersMu    sync.RWMutex
	tickers      map[string]common.Market
	tickersGroup singleflight.Group

	streamMu sync.Mutex
	ticks    *tickStream
}

var (
	_ common.MarketGateway    = (*Client)(nil)
	_ common.AccountGateway   = (*Client)(nil)
	_ common.OrderEventSource = (*Client)(nil)
)

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.TickURL == "" {
		cfg.TickURL = DefaultTickURL
	}
	if cfg.OrderURL == "" {
		cfg.OrderURL = DefaultOrderURL
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 256
	}
	if cfg.Backoff == (Backoff{}) {
		cfg.Backoff = DefaultBackoff()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		limiter:    common.NewRateLimiter(cfg.RatePerSecond, cfg.RateLimits),
		log:        log.With().Str("component", "lssec").Logger(),
	}
}

// AccessToken returns the cached bearer token, fetching one on a miss.
// Concurrent misses share a single token request.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	c.tokenMu.RLock()
	tok := c.token
	c.tokenMu.RUnlock()
	if tok != "" {
		return tok, nil
	}

	v, err := shared(ctx, &c.tokenGroup, "token", func(ctx context.Context) (any, error) {
		c.tokenMu.RLock()
		cached := c.token
		c.tokenMu.RUnlock()
		if cached != "" {
			return cached, nil
		}
		fresh, err := c.fetchToken(ctx)
		if err != nil {
			return "", err
		}
		c.tokenMu.Lock()
		c.token = fresh
		c.tokenMu.Unlock()
		return fresh, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// sharedFetchTimeout bounds a coalesced fetch, which does not stop when the
// caller that started it goes away.
const sharedFetchTimeout = 30 * time.Second

// shared runs fn once per key for all concurrent callers. Each caller stops
// waiting when its own ctx is done; the fetch itself keeps going for the rest.
func shared(ctx context.Context, g *singleflight.Group, key string, fn func(context.Context) (any, error)) (any, error) {
	ch := g.DoChan(key, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedFetchTimeout)
		defer cancel()
		return fn(fetchCtx)
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// invalidateToken drops the cached token so the next call re-authenticates.
func (c *Client) invalidateToken(stale string) {
	c.tokenMu.Lock()
	if c.token == stale {
		c.token = ""
	}
	c.tokenMu.Unlock()
}

func (c *Client) fetchToken(ctx context.Context) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("appkey", c.cfg.AppKey)
	form.Set("appsecretkey", c.cfg.AppSecret)
	form.Set("scope", "oob")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return "", &common.NetworkError{Op: "token", Err: err}
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)

	if res.StatusCode >= 500 {
		return "", &common.NetworkError{Op: "token", Err: fmt.Errorf("status %d", res.StatusCode)}
	}
	if res.StatusCode >= 300 {
		return "", &common.AuthError{Op: "token", Err: fmt.Errorf("status %d: %s", res.StatusCode, truncate(body))}
	}

	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", &common.ProtocolError{Op: "token", Payload: truncate(body), Err: err}
	}
	tok := strings.Trim(out.AccessToken, `"`)
	if tok == "" {
		return "", &common.AuthError{Op: "token", Err: errors.New("no access_token in response")}
	}
	c.log.Info().Msg("access token acquired")
	return tok, nil
}

// call performs a TR request. An auth failure forces a token refresh and one retry.
func (c *Client) call(ctx context.Context, path, trCode string, in, out any) error {
	tok, err := c.AccessToken(ctx)
	if err != nil {
		return err
	}
	err = c.callOnce(ctx, tok, path, trCode, in, out)
	if !common.IsAuth(err) {
		return err
	}

	c.log.Warn().Str("tr_cd", trCode).Msg("token rejected, refreshing")
	c.invalidateToken(tok)
	tok, err = c.AccessToken(ctx)
	if err != nil {
		return err
	}
	return c.callOnce(ctx, tok, path, trCode, in, out)
}

// apiStatus is the response status every TR carries.
type apiStatus struct {
	RspCd  string `json:"rsp_cd"`
	RspMsg string `json:"rsp_msg"`
}

// responseError is a non-2xx answer that was not an auth failure.
type responseError struct {
	Status int
	apiStatus
}

func (e *responseError) Error() string {
	return fmt.Sprintf("status %d: [%s] %s", e.Status, e.RspCd, e.RspMsg)
}

// authCodes are rsp_cd values meaning the token is invalid or expired.
var authCodes = map[string]bool{
	"IGW00121": true,
	"IGW00105": true,
}

func (c *Client) callOnce(ctx context.Context, token, path, trCode string, in, out any) error {
	if err := c.limiter.Wait(ctx, trCode); err != nil {
		return err
	}
	op := trCode + " " + path

	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%s: encode: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("tr_cd", trCode)
	req.Header.Set("tr_cont", "N")
	req.Header.Set("tr_cont_key", "")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return &common.NetworkError{Op: op, Err: err}
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return &common.NetworkError{Op: op, Err: err}
	}

	var status apiStatus
	_ = json.Unmarshal(body, &status)

	switch {
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden || authCodes[status.RspCd]:
		return &common.AuthError{Op: op, Err: fmt.Errorf("status %d: [%s] %s", res.StatusCode, status.RspCd, status.RspMsg)}
	case res.StatusCode >= 500:
		return &common.NetworkError{Op: op, Err: fmt.Errorf("status %d: %s", res.StatusCode, truncate(body))}
	case res.StatusCode >= 300:
		return &common.ProtocolError{Op: op, Payload: truncate(body), Err: &responseError{Status: res.StatusCode, apiStatus: status}}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &common.ProtocolError{Op: op, Payload: truncate(body), Err: err}
	}
	return nil
}

func truncate(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
