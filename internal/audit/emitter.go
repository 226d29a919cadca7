package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/dexgate/dexgate/internal/model"
	"github.com/dexgate/dexgate/internal/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// Emitter is a fire-and-forget audit channel. Emit never blocks the trade
// path: when the buffer is full the event is counted as dropped and
// discarded. Events always go to the structured log; with redis configured
// they are also pushed onto a capped list for external consumers.
type Emitter struct {
	ch      chan model.AuditEvent
	rdb     *redis.Client
	listKey string
	listMax int64

	wg      sync.WaitGroup
	stop    chan struct{}
	dropped int64
	mu      sync.Mutex
}

type Options struct {
	BufferSize int
	Redis      *redis.Client
	ListKey    string
	ListMax    int
}

func NewEmitter(opts Options) *Emitter {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 1024
	}
	if opts.ListKey == "" {
		opts.ListKey = "dexgate:audit"
	}
	if opts.ListMax <= 0 {
		opts.ListMax = 10000
	}
	return &Emitter{
		ch:      make(chan model.AuditEvent, opts.BufferSize),
		rdb:     opts.Redis,
		listKey: opts.ListKey,
		listMax: int64(opts.ListMax),
		stop:    make(chan struct{}),
	}
}

func (e *Emitter) Start() {
	e.wg.Add(1)
	go e.loop()
}

// Stop drains whatever is already buffered, then returns.
func (e *Emitter) Stop() {
	close(e.stop)
	e.wg.Wait()
}

// Emit queues an event. Non-blocking; drops when the buffer is full.
func (e *Emitter) Emit(ev model.AuditEvent) {
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().Unix()
	}
	select {
	case e.ch <- ev:
	default:
		e.mu.Lock()
		e.dropped++
		n := e.dropped
		e.mu.Unlock()
		if n%100 == 1 {
			logger.Warn("audit buffer full, dropping events", "dropped_total", n)
		}
	}
}

// Dropped reports how many events were discarded due to a full buffer.
func (e *Emitter) Dropped() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dropped
}

func (e *Emitter) loop() {
	defer e.wg.Done()
	for {
		select {
		case ev := <-e.ch:
			e.sink(ev)
		case <-e.stop:
			for {
				select {
				case ev := <-e.ch:
					e.sink(ev)
				default:
					return
				}
			}
		}
	}
}

func (e *Emitter) sink(ev model.AuditEvent) {
	logger.Info("audit",
		"kind", ev.Kind,
		"order_id", ev.OrderID,
		"position_id", ev.Position,
		"token_id", ev.TokenID,
		"detail", ev.Detail,
	)

	if e.rdb == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	pipe := e.rdb.Pipeline()
	pipe.LPush(ctx, e.listKey, payload)
	pipe.LTrim(ctx, e.listKey, 0, e.listMax-1)
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Debug("audit redis push failed", "error", err)
	}
}
