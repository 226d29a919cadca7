package market

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/dexgate/dexgate/internal/model"
	"github.com/dexgate/dexgate/internal/pkg/logger"
	"github.com/dexgate/dexgate/internal/rpc"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

const (
	reconnectDelay    = 1 * time.Second
	maxReconnectDelay = 30 * time.Second
	readTimeout       = 60 * time.Second
	writeTimeout      = 10 * time.Second
	pingInterval      = 30 * time.Second

	bucketWidth = 60 * time.Second
	maxBuckets  = 10
)

// tick is one trade/price update pushed by the provider stream.
type tick struct {
	TokenID string          `json:"token_id"`
	Price   decimal.Decimal `json:"price"`
	Volume  decimal.Decimal `json:"volume"`
	Unix    int64           `json:"ts"`
}

type tokenWindow struct {
	lastPrice decimal.Decimal
	updatedAt time.Time
	buckets   []rpc.VolumeBucket
}

// Sampler maintains rolling per-token volume buckets from a provider's
// websocket stream. The VWAP scheduler reads these to weight slices; when
// the stream is down it degrades to the buckets carried on quotes.
type Sampler struct {
	provider model.Provider
	tokens   []string

	mu      sync.RWMutex
	windows map[string]*tokenWindow

	cancel context.CancelFunc
	done   chan struct{}
}

func NewSampler(p model.Provider, tokens []string) *Sampler {
	return &Sampler{
		provider: p,
		tokens:   tokens,
		windows:  make(map[string]*tokenWindow),
	}
}

func (s *Sampler) Start() {
	if s.provider.WSEndpoint == "" {
		logger.Warn("market sampler disabled: provider has no ws endpoint", "provider", s.provider.ID)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx)
}

func (s *Sampler) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

// Subscribe adds tokens to the live subscription set on next (re)connect.
func (s *Sampler) Subscribe(tokens []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	known := make(map[string]bool, len(s.tokens))
	for _, t := range s.tokens {
		known[t] = true
	}
	for _, t := range tokens {
		if !known[t] {
			s.tokens = append(s.tokens, t)
		}
	}
}

// LastPrice returns the most recent streamed price, if fresh.
func (s *Sampler) LastPrice(tokenID string) (decimal.Decimal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.windows[tokenID]
	if !ok || time.Since(w.updatedAt) > 30*time.Second {
		return decimal.Zero, false
	}
	return w.lastPrice, true
}

// VolumeBuckets returns up to maxBuckets most recent volume sub-windows.
func (s *Sampler) VolumeBuckets(tokenID string) []rpc.VolumeBucket {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.windows[tokenID]
	if !ok {
		return nil
	}
	out := make([]rpc.VolumeBucket, len(w.buckets))
	copy(out, w.buckets)
	return out
}

func (s *Sampler) run(ctx context.Context) {
	defer close(s.done)

	delay := reconnectDelay
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		err := s.connectAndRead(ctx)
		if ctx.Err() != nil {
			return
		}
		logger.Warn("market stream disconnected, reconnecting", "provider", s.provider.ID, "delay", delay, "error", err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (s *Sampler) connectAndRead(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.provider.WSEndpoint, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	s.mu.RLock()
	tokens := make([]string, len(s.tokens))
	copy(tokens, s.tokens)
	s.mu.RUnlock()

	sub := map[string]any{"op": "subscribe", "channel": "trades", "tokens": tokens}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}

	// Ping keepalive; provider streams drop idle connections.
	pingDone := make(chan struct{})
	defer close(pingDone)
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pingDone:
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var t tick
		if err := json.Unmarshal(raw, &t); err != nil || t.TokenID == "" {
			continue
		}
		s.record(t)
	}
}

func (s *Sampler) record(t tick) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[t.TokenID]
	if !ok {
		w = &tokenWindow{}
		s.windows[t.TokenID] = w
	}
	w.lastPrice = t.Price
	w.updatedAt = time.Now()

	bucketStart := t.Unix - t.Unix%int64(bucketWidth.Seconds())
	n := len(w.buckets)
	if n > 0 && w.buckets[n-1].StartUnix == bucketStart {
		w.buckets[n-1].Volume = w.buckets[n-1].Volume.Add(t.Volume)
		return
	}
	w.buckets = append(w.buckets, rpc.VolumeBucket{StartUnix: bucketStart, Volume: t.Volume})
	if len(w.buckets) > maxBuckets {
		w.buckets = w.buckets[len(w.buckets)-maxBuckets:]
	}
}
