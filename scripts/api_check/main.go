package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"time"

	"equity-core/pkg/config"
	"equity-core/pkg/exchanges/common"
	"equity-core/pkg/exchanges/lssec"
)

// api_check/main.go
//
// Quick connectivity check for the LS Securities client used by the engine.
// Read-only: it never places or cancels an order.
//
// Usage:
//
//   go run ./scripts/api_check
//
// Environment (same as the engine):
//   LSSEC_KEY / LSSEC_SECRET
//
// Optional:
//   CHECK_TICKER        print the market of one ticker (e.g. 005930)
//   CHECK_WATCH_ORDERS  tail order events for this long (e.g. 2m); placing an
//                       order from another terminal shows its SC0..SC4 events

func main() {
	log.Println("=== LS-SEC API check starting ===")

	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	client := lssec.New(lssec.Config{
		AppKey:        cfg.LSSec.AppKey,
		AppSecret:     cfg.LSSec.AppSecret,
		BaseURL:       cfg.LSSec.BaseURL,
		TickURL:       cfg.LSSec.TickURL,
		OrderURL:      cfg.LSSec.OrderURL,
		HTTPTimeout:   cfg.HTTPTimeout(),
		RatePerSecond: cfg.LSSec.RatePerSecond,
		RateLimits:    cfg.LSSec.RateLimits,
		Backoff:       lssec.DefaultBackoff(),
		PingInterval:  cfg.PingInterval(),
		EventBuffer:   cfg.Stream.EventBuffer,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	token, err := client.AccessToken(ctx)
	if err != nil {
		log.Fatalf("[TOKEN] failed: %v", err)
	}
	log.Printf("[TOKEN] ok (%d chars)", len(token))

	tickers, err := client.Tickers(ctx)
	if err != nil {
		log.Printf("[TICKERS] failed: %v", err)
	} else {
		counts := map[common.Market]int{}
		for _, m := range tickers {
			counts[m]++
		}
		log.Printf("[TICKERS] %d tickers (KOSPI=%d KOSDAQ=%d)", len(tickers), counts[common.MarketKOSPI], counts[common.MarketKOSDAQ])
	}

	if ticker := getenv("CHECK_TICKER", ""); ticker != "" {
		market, err := client.Market(ctx, ticker)
		if err != nil {
			log.Printf("[MARKET] %s: %v", ticker, err)
		} else {
			log.Printf("[MARKET] %s trades on %s", ticker, market)
		}
	}

	balance, err := client.Balance(ctx)
	if err != nil {
		log.Printf("[BALANCE] failed: %v", err)
	} else {
		log.Printf("[BALANCE] orderable %s KRW", balance.StringFixed(0))
	}

	holdings, err := client.Holdings(ctx)
	if err != nil {
		log.Printf("[HOLDINGS] failed: %v", err)
	} else {
		log.Printf("[HOLDINGS] %d rows", len(holdings))
		for _, h := range holdings {
			log.Printf("  %s %-20s qty=%d avg=%s", h.Ticker, h.Name, h.Qty, h.AvgPrice.StringFixed(0))
		}
	}

	if watch := getenv("CHECK_WATCH_ORDERS", ""); watch != "" {
		d, err := time.ParseDuration(watch)
		if err != nil {
			log.Fatalf("CHECK_WATCH_ORDERS: %v", err)
		}
		watchOrders(client, d)
	}

	log.Println("=== LS-SEC API check finished ===")
}

func watchOrders(client *lssec.Client, d time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	evs, err := client.ConnectOrderEvents(ctx)
	if err != nil {
		log.Printf("[ORDERS] connect failed: %v", err)
		return
	}
	log.Printf("[ORDERS] watching order events for %v", d)
	for ev := range evs {
		log.Printf("[ORDERS] %s order=%s exec_qty=%d exec_price=%s", ev.Kind, ev.ID, ev.ExecQty, ev.ExecPrice)
	}
	log.Println("[ORDERS] stream closed")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
