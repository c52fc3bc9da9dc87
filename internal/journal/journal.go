// Package journal mirrors order lifecycle events into Redis.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"equity-core/internal/events"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const defaultMaxLen = 100_000

// Journal appends every lifecycle event to a stream (XADD) and announces it
// on a pub/sub channel.
type Journal struct {
	rdb     *redis.Client
	stream  string
	channel string
	maxLen  int64
	log     zerolog.Logger
}

// Entry is the JSON form published on the channel.
type Entry struct {
	Event   events.Event    `json:"event"`
	TsMs    int64           `json:"ts_ms"`
	Payload json.RawMessage `json:"payload"`
}

func New(rdb *redis.Client, prefix string) *Journal {
	if strings.TrimSpace(prefix) == "" {
		prefix = "equity"
	}
	return &Journal{
		rdb:     rdb,
		stream:  prefix + ":orders",
		channel: prefix + ":orders:pub",
		maxLen:  defaultMaxLen,
		log:     log.With().Str("component", "journal").Logger(),
	}
}

// Connect dials Redis and verifies the connection.
func Connect(ctx context.Context, addr, password string, db int, prefix string) (*Journal, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return New(rdb, prefix), nil
}

func newEntry(e events.Event, payload any, at time.Time) (Entry, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Entry{}, fmt.Errorf("encode %s payload: %w", e, err)
	}
	return Entry{Event: e, TsMs: at.UnixMilli(), Payload: raw}, nil
}

// Record writes one event.
func (j *Journal) Record(ctx context.Context, e events.Event, payload any) error {
	entry, err := newEntry(e, payload, time.Now())
	if err != nil {
		return err
	}

	_, err = j.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: j.stream,
		MaxLen: j.maxLen,
		Approx: true,
		Values: map[string]any{
			"event":   string(entry.Event),
			"ts_ms":   entry.TsMs,
			"payload": string(entry.Payload),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", j.stream, err)
	}

	msg, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return j.rdb.Publish(ctx, j.channel, msg).Err()
}

// Run forwards every lifecycle topic of bus until ctx is done.
func (j *Journal) Run(ctx context.Context, bus *events.Bus) {
	var wg sync.WaitGroup
	for _, topic := range events.AllOrderEvents {
		ch, unsub := bus.Subscribe(topic, 256)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer unsub()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-ch:
					if !ok {
						return
					}
					wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
					if err := j.Record(wctx, topic, msg); err != nil {
						j.log.Warn().Err(err).Str("event", string(topic)).Msg("journal write failed")
					}
					cancel()
				}
			}
		}()
	}
	j.log.Info().Str("stream", j.stream).Str("channel", j.channel).Msg("journal started")
	wg.Wait()
}

func (j *Journal) Close() error {
	return j.rdb.Close()
}
