package events

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/pawdentify/internal/logger"
)

// Config holds event bus configuration
type Config struct {
	BufferSize int
	Workers    int
	// Dedup suppresses repeated failure events; nil disables it
	Dedup *DeduplicationConfig
}

// DefaultConfig returns the default event bus configuration
func DefaultConfig() *Config {
	return &Config{
		BufferSize: 1000,
		Workers:    2,
		Dedup:      DefaultDeduplicationConfig(),
	}
}

// EventBus provides asynchronous event processing with non-blocking publish
type EventBus struct {
	eventChan chan CacheEvent
	workers   int

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool
	closed  atomic.Bool
	mu      sync.Mutex

	consumers []EventConsumer
	dedup     *FailureDeduplicator
	counters  busCounters

	logger logger.Logger
}

type busCounters struct {
	received, suppressed, processed, dropped atomic.Uint64
	consumerErrors, subscriberDrops          atomic.Uint64
}

// NewEventBus creates an event bus. Workers start with the first consumer.
func NewEventBus(cfg *Config, log logger.Logger) *EventBus {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if log == nil {
		log = logger.NewSlogLogger(nil, logger.LogLevelInfo, nil)
	}

	ctx, cancel := context.WithCancel(context.Background())
	eb := &EventBus{
		eventChan: make(chan CacheEvent, cfg.BufferSize),
		workers:   cfg.Workers,
		ctx:       ctx,
		cancel:    cancel,
		logger:    log.Module("events"),
	}
	if cfg.Dedup != nil && cfg.Dedup.Enabled {
		eb.dedup = NewFailureDeduplicator(cfg.Dedup)
	}

	eb.logger.Debug("event bus created",
		logger.Int("buffer_size", cfg.BufferSize),
		logger.Int("workers", cfg.Workers))

	return eb
}

// RegisterConsumer adds a new event consumer
func (eb *EventBus) RegisterConsumer(consumer EventConsumer) error {
	if eb == nil {
		return fmt.Errorf("event bus not initialized")
	}
	if eb.closed.Load() {
		return fmt.Errorf("event bus is shut down")
	}

	eb.mu.Lock()
	defer eb.mu.Unlock()

	for _, existing := range eb.consumers {
		if existing.Name() == consumer.Name() {
			return fmt.Errorf("consumer %s already registered", consumer.Name())
		}
	}

	eb.consumers = append(eb.consumers, consumer)
	eb.logger.Debug("registered event consumer", logger.String("consumer", consumer.Name()))

	if !eb.running.Load() {
		eb.start()
	}

	return nil
}

func (eb *EventBus) unregisterConsumer(name string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.consumers = slices.DeleteFunc(eb.consumers, func(c EventConsumer) bool {
		return c.Name() == name
	})
}

// HasConsumers reports whether anything is listening
func (eb *EventBus) HasConsumers() bool {
	if eb == nil {
		return false
	}
	eb.mu.Lock()
	defer eb.mu.Unlock()
	return len(eb.consumers) > 0
}

// TryPublish attempts to publish an event without blocking.
// Returns true if the event was accepted, false if dropped or suppressed.
func (eb *EventBus) TryPublish(event CacheEvent) bool {
	if eb == nil || !eb.running.Load() {
		return false
	}
	if !eb.HasConsumers() {
		return false
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if eb.dedup != nil && event.Kind.IsFailure() && !eb.dedup.ShouldProcess(event) {
		eb.counters.suppressed.Add(1)
		return false
	}

	select {
	case eb.eventChan <- event:
		eb.counters.received.Add(1)
		return true
	default:
		eb.counters.dropped.Add(1)
		eb.logger.Debug("event dropped due to full buffer",
			logger.String("kind", string(event.Kind)),
			logger.String("key", event.Key))
		return false
	}
}

// start launches the worker goroutines; caller holds eb.mu
func (eb *EventBus) start() {
	if eb.running.Swap(true) {
		return
	}

	for i := range eb.workers {
		eb.wg.Add(1)
		go eb.worker(i)
	}
}

func (eb *EventBus) worker(id int) {
	defer eb.wg.Done()

	log := eb.logger.With(logger.Int("worker_id", id))
	log.Trace("worker started")

	for {
		select {
		case <-eb.ctx.Done():
			eb.drain(log)
			return
		case event := <-eb.eventChan:
			eb.processEvent(event, log)
		}
	}
}

// drain delivers whatever is still buffered at shutdown
func (eb *EventBus) drain(log logger.Logger) {
	for {
		select {
		case event := <-eb.eventChan:
			eb.processEvent(event, log)
		default:
			return
		}
	}
}

func (eb *EventBus) processEvent(event CacheEvent, log logger.Logger) {
	eb.mu.Lock()
	consumers := slices.Clone(eb.consumers)
	eb.mu.Unlock()

	for _, consumer := range consumers {
		if err := eb.deliver(consumer, event); err != nil {
			eb.counters.consumerErrors.Add(1)
			log.Warn("consumer failed",
				logger.String("consumer", consumer.Name()),
				logger.String("kind", string(event.Kind)),
				logger.Error(err))
			continue
		}
		eb.counters.processed.Add(1)
	}
}

// deliver turns a consumer panic into an error so one bad consumer cannot
// take down a worker.
func (eb *EventBus) deliver(consumer EventConsumer, event CacheEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return consumer.ProcessEvent(event)
}

// Shutdown stops the workers after delivering buffered events
func (eb *EventBus) Shutdown(timeout time.Duration) error {
	if eb == nil || eb.closed.Swap(true) {
		return nil
	}

	eb.running.Store(false)
	eb.cancel()

	done := make(chan struct{})
	go func() {
		eb.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		err = fmt.Errorf("event bus shutdown timeout exceeded")
		eb.logger.Warn("event bus shutdown timeout exceeded", logger.Duration("timeout", timeout))
	}

	eb.mu.Lock()
	for _, consumer := range eb.consumers {
		if sub, ok := consumer.(*subscription); ok {
			sub.close()
		}
	}
	eb.consumers = nil
	eb.mu.Unlock()

	return err
}

// Stats returns current event bus statistics
func (eb *EventBus) Stats() EventBusStats {
	if eb == nil {
		return EventBusStats{}
	}
	c := &eb.counters
	return EventBusStats{
		EventsReceived:   c.received.Load(),
		EventsSuppressed: c.suppressed.Load(),
		EventsProcessed:  c.processed.Load(),
		EventsDropped:    c.dropped.Load(),
		ConsumerErrors:   c.consumerErrors.Load(),
		SubscriberDrops:  c.subscriberDrops.Load(),
	}
}
