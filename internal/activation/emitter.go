package activation

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/straja-ai/apiguard/internal/redact"
)

// Sink consumes analysis events (file, webhook, audit store).
type Sink interface {
	Name() string
	Deliver(context.Context, *Event) error
	Close(context.Context) error
}

// Stats is a point-in-time copy of the emitter counters.
type Stats struct {
	Enqueued  uint64
	Dropped   uint64
	Delivered map[string]uint64
	Failed    map[string]uint64
}

type sinkCounters struct {
	delivered atomic.Uint64
	failed    atomic.Uint64
}

// EmitterConfig controls worker and queue sizing.
type EmitterConfig struct {
	QueueSize       int
	Workers         int
	ShutdownTimeout time.Duration
	DeliveryTimeout time.Duration // per sink, per event
}

// Emitter fans analysis events out to sinks on background workers. Emit
// never blocks the request path; a full queue drops the event.
type Emitter struct {
	cfg   EmitterConfig
	queue chan *Event
	sinks []Sink
	names []string
	stats []*sinkCounters
	log   *zap.Logger

	enqueued atomic.Uint64
	dropped  atomic.Uint64

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewEmitter starts cfg.Workers goroutines draining a queue of cfg.QueueSize.
func NewEmitter(cfg EmitterConfig, sinks []Sink, log *zap.Logger) *Emitter {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 2 * time.Second
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = 5 * time.Second
	}

	e := &Emitter{
		cfg:   cfg,
		queue: make(chan *Event, cfg.QueueSize),
		sinks: sinks,
		names: make([]string, len(sinks)),
		stats: make([]*sinkCounters, len(sinks)),
		log:   log.Named("activation"),
	}
	for i, s := range sinks {
		e.names[i] = s.Name()
		e.stats[i] = &sinkCounters{}
	}

	e.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go func() {
			defer e.wg.Done()
			for ev := range e.queue {
				e.fanOut(ev)
			}
		}()
	}
	return e
}

// Emit enqueues ev, or counts it as dropped when the queue is full or the
// emitter is closed.
func (e *Emitter) Emit(_ context.Context, ev *Event) {
	if e == nil || ev == nil {
		return
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		e.dropped.Add(1)
		return
	}
	select {
	case e.queue <- ev:
		e.enqueued.Add(1)
	default:
		e.dropped.Add(1)
	}
}

// Close stops intake, waits up to ShutdownTimeout for queued events, then
// closes every sink. Safe to call more than once.
func (e *Emitter) Close(ctx context.Context) {
	if e == nil {
		return
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	close(e.queue)
	e.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, e.cfg.ShutdownTimeout)
	defer cancel()

	drained := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		e.log.Warn("activation queue not drained before shutdown", zap.Int("pending", len(e.queue)))
	}

	for i, s := range e.sinks {
		if err := s.Close(ctx); err != nil {
			e.log.Warn("sink close failed", zap.String("sink", redact.String(e.names[i])), zap.String("error", redact.String(err.Error())))
		}
	}
}

// Stats copies the current counters.
func (e *Emitter) Stats() Stats {
	if e == nil {
		return Stats{Delivered: map[string]uint64{}, Failed: map[string]uint64{}}
	}
	out := Stats{
		Enqueued:  e.enqueued.Load(),
		Dropped:   e.dropped.Load(),
		Delivered: make(map[string]uint64, len(e.sinks)),
		Failed:    make(map[string]uint64, len(e.sinks)),
	}
	for i, name := range e.names {
		out.Delivered[name] += e.stats[i].delivered.Load()
		out.Failed[name] += e.stats[i].failed.Load()
	}
	return out
}

func (e *Emitter) fanOut(ev *Event) {
	for i, s := range e.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.DeliveryTimeout)
		err := deliverSafely(ctx, s, ev)
		cancel()
		if err != nil {
			e.stats[i].failed.Add(1)
			e.log.Warn("sink delivery failed",
				zap.String("sink", redact.String(e.names[i])),
				zap.String("request_id", ev.RequestID),
				zap.String("error", redact.String(err.Error())),
			)
			continue
		}
		e.stats[i].delivered.Add(1)
	}
}

func deliverSafely(ctx context.Context, s Sink, ev *Event) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("sink panic: %v", rec)
		}
	}()
	return s.Deliver(ctx, ev)
}
