package order

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"equity-core/internal/model"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	actionIntent   = "INTENT"
	actionComplete = "COMPLETE"
	actionAbandon  = "ABANDON"
)

// Outbox is an append-only JSON-lines log of order intents. An intent is
// written and synced before the order goes to the exchange and resolved once
// the order is persisted locally (or the submission failed). Intents left
// unresolved after a crash may be live exchange orders with no local row.
type Outbox struct {
	path string
	log  zerolog.Logger

	mu      sync.Mutex
	file    *os.File
	open    map[string]Intent
	metrics OutboxMetrics
	closed  bool
}

// OutboxMetrics tracks outbox statistics.
type OutboxMetrics struct {
	Written   uint64
	Completed uint64
	Abandoned uint64
	Failed    uint64
}

// Intent is an order about to be submitted.
type Intent struct {
	Key        string      `json:"key"`
	Order      model.Order `json:"order"`
	ExchangeID string      `json:"exchange_id,omitempty"`
	Reason     string      `json:"reason,omitempty"`
	At         time.Time   `json:"at"`
}

type outboxEntry struct {
	Action string `json:"action"`
	Intent
}

// OpenOutbox opens (or creates) the outbox under dir and loads unresolved intents.
func OpenOutbox(dir string) (*Outbox, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create outbox directory: %w", err)
	}
	ob := &Outbox{
		path: filepath.Join(dir, "order_intents.jsonl"),
		log:  log.With().Str("component", "outbox").Logger(),
		open: make(map[string]Intent),
	}
	if err := ob.load(); err != nil {
		return nil, err
	}
	if err := ob.compact(); err != nil {
		return nil, err
	}
	return ob, nil
}

func (ob *Outbox) load() error {
	file, err := os.Open(ob.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open outbox: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var e outboxEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			ob.log.Warn().Err(err).Msg("outbox parse error, skipping line")
			continue
		}
		switch e.Action {
		case actionIntent:
			ob.open[e.Key] = e.Intent
		case actionComplete, actionAbandon:
			delete(ob.open, e.Key)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan outbox: %w", err)
	}
	return nil
}

// compact rewrites the log with only the unresolved intents and reopens it for append.
func (ob *Outbox) compact() error {
	tmp := ob.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("compact outbox: %w", err)
	}
	enc := json.NewEncoder(f)
	for _, in := range ob.sortedOpen() {
		if err := enc.Encode(outboxEntry{Action: actionIntent, Intent: in}); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("compact outbox: %w", err)
		}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("compact outbox: %w", err)
	}
	f.Close()
	if err := os.Rename(tmp, ob.path); err != nil {
		return fmt.Errorf("compact outbox: %w", err)
	}

	ob.file, err = os.OpenFile(ob.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("reopen outbox: %w", err)
	}
	return nil
}

func (ob *Outbox) sortedOpen() []Intent {
	out := make([]Intent, 0, len(ob.open))
	for _, in := range ob.open {
		out = append(out, in)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}

func (ob *Outbox) append(e outboxEntry, sync bool) error {
	if ob.closed {
		return fmt.Errorf("outbox closed")
	}
	data, err := json.Marshal(e)
	if err != nil {
		atomic.AddUint64(&ob.metrics.Failed, 1)
		return fmt.Errorf("outbox marshal: %w", err)
	}
	if _, err := ob.file.Write(append(data, '\n')); err != nil {
		atomic.AddUint64(&ob.metrics.Failed, 1)
		return fmt.Errorf("outbox write: %w", err)
	}
	if sync {
		if err := ob.file.Sync(); err != nil {
			atomic.AddUint64(&ob.metrics.Failed, 1)
			return fmt.Errorf("outbox sync: %w", err)
		}
	}
	return nil
}

// Record writes and syncs an intent for o and returns its key.
func (ob *Outbox) Record(o model.Order) (string, error) {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	in := Intent{Key: uuid.NewString(), Order: o, At: time.Now()}
	if err := ob.append(outboxEntry{Action: actionIntent, Intent: in}, true); err != nil {
		return "", err
	}
	ob.open[in.Key] = in
	atomic.AddUint64(&ob.metrics.Written, 1)
	return in.Key, nil
}

// Complete resolves an intent whose order is now persisted locally.
func (ob *Outbox) Complete(key, exchangeID string) error {
	return ob.resolve(key, outboxEntry{Action: actionComplete, Intent: Intent{Key: key, ExchangeID: exchangeID, At: time.Now()}}, &ob.metrics.Completed)
}

// Abandon resolves an intent whose submission failed, so no exchange order exists.
func (ob *Outbox) Abandon(key, reason string) error {
	return ob.resolve(key, outboxEntry{Action: actionAbandon, Intent: Intent{Key: key, Reason: reason, At: time.Now()}}, &ob.metrics.Abandoned)
}

func (ob *Outbox) resolve(key string, e outboxEntry, counter *uint64) error {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	if _, ok := ob.open[key]; !ok {
		return nil
	}
	// Resolutions are not synced; a crash replays at most a duplicate intent.
	if err := ob.append(e, false); err != nil {
		return err
	}
	delete(ob.open, key)
	atomic.AddUint64(counter, 1)
	return nil
}

// Unresolved returns intents without a completion, oldest first.
func (ob *Outbox) Unresolved() []Intent {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	return ob.sortedOpen()
}

// Metrics returns outbox counters.
func (ob *Outbox) Metrics() OutboxMetrics {
	return OutboxMetrics{
		Written:   atomic.LoadUint64(&ob.metrics.Written),
		Completed: atomic.LoadUint64(&ob.metrics.Completed),
		Abandoned: atomic.LoadUint64(&ob.metrics.Abandoned),
		Failed:    atomic.LoadUint64(&ob.metrics.Failed),
	}
}

// Close syncs and closes the log.
func (ob *Outbox) Close() error {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	if ob.closed {
		return nil
	}
	ob.closed = true
	ob.file.Sync()
	return ob.file.Close()
}
