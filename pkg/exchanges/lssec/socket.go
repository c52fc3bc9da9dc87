package lssec

import (
	"context"
	"sync"
	"time"

	"equity-core/pkg/exchanges/common"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const writeTimeout = 5 * time.Second

// socket is one reconnecting websocket. All writes go through writeMu.
type socket struct {
	url          string
	pingInterval time.Duration
	backoff      Backoff
	log          zerolog.Logger

	writeMu sync.Mutex

	mu   sync.RWMutex
	conn *websocket.Conn
}

func newSocket(url string, ping time.Duration, backoff Backoff, logger zerolog.Logger) *socket {
	return &socket{url: url, pingInterval: ping, backoff: backoff, log: logger}
}

func (s *socket) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return nil, &common.NetworkError{Op: "dial " + s.url, Err: err}
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.log.Debug().Str("url", s.url).Msg("websocket connected")
	return conn, nil
}

func (s *socket) release(conn *websocket.Conn) {
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.mu.Unlock()
	conn.Close()
}

func (s *socket) writeJSON(v any) error {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return common.ErrNotConnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(v); err != nil {
		return &common.NetworkError{Op: "write frame", Err: err}
	}
	return nil
}

// run reads from conn until ctx is done, reconnecting with backoff whenever the
// connection drops. onConnect replays subscriptions on each new connection.
func (s *socket) run(ctx context.Context, conn *websocket.Conn, onConnect func(context.Context) error, handle func([]byte, time.Time)) {
	for {
		s.read(ctx, conn, handle)
		s.release(conn)
		if ctx.Err() != nil {
			return
		}

		next, ok := s.reconnect(ctx, onConnect)
		if !ok {
			return
		}
		conn = next
	}
}

func (s *socket) reconnect(ctx context.Context, onConnect func(context.Context) error) (*websocket.Conn, bool) {
	for attempt := 1; ; attempt++ {
		wait := s.backoff.Next(attempt)
		s.log.Warn().Int("attempt", attempt).Dur("wait", wait).Msg("websocket disconnected, reconnecting")
		select {
		case <-ctx.Done():
			return nil, false
		case <-time.After(wait):
		}

		conn, err := s.dial(ctx)
		if err != nil {
			s.log.Warn().Err(err).Msg("reconnect dial failed")
			continue
		}
		if err := onConnect(ctx); err != nil {
			s.log.Warn().Err(err).Msg("resubscribe failed")
			s.release(conn)
			continue
		}
		s.log.Info().Int("attempt", attempt).Msg("websocket reconnected")
		return conn, true
	}
}

func (s *socket) read(ctx context.Context, conn *websocket.Conn, handle func([]byte, time.Time)) {
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			s.writeMu.Lock()
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			s.writeMu.Unlock()
			conn.Close()
		case <-done:
		}
	}()
	go s.pingLoop(conn, done)

	for {
		_, data, err := conn.ReadMessage()
		receivedAt := time.Now()
		if err != nil {
			if ctx.Err() == nil {
				s.log.Warn().Err(err).Msg("websocket read failed")
			}
			return
		}
		handle(data, receivedAt)
	}
}

func (s *socket) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, []byte("keepalive"), time.Now().Add(writeTimeout))
			s.writeMu.Unlock()
			if err != nil {
				s.log.Debug().Err(err).Msg("ping failed")
				return
			}
		}
	}
}
