package notify

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

// Config sizes the dispatcher worker pool.
type Config struct {
	Workers        int
	Buffer         int
	PublishTimeout time.Duration
	HandoffTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.Buffer <= 0 {
		c.Buffer = 256
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 10 * time.Second
	}
	if c.HandoffTimeout < 0 {
		c.HandoffTimeout = 0
	}
	return c
}

// Dispatcher hands board changes to publishers on background workers so a
// slow broker never holds up a mutation. When the buffer is saturated the
// event is published inline.
type Dispatcher struct {
	cfg        Config
	publishers []Publisher
	log        *log.Logger

	mu     sync.RWMutex
	jobs   chan domain.Event
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher starts cfg.Workers goroutines feeding publishers.
func NewDispatcher(cfg Config, logger *log.Logger, publishers ...Publisher) *Dispatcher {
	if logger == nil {
		panic("Logger is not initialized")
	}
	cfg = cfg.withDefaults()
	d := &Dispatcher{
		cfg:        cfg,
		publishers: publishers,
		log:        logger,
		jobs:       make(chan domain.Event, cfg.Buffer),
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	logger.Infof("change dispatcher started, workers: %d, buffer: %d, publishers: %d", cfg.Workers, cfg.Buffer, len(publishers))
	return d
}

// TaskChanged queues ev for every publisher.
func (d *Dispatcher) TaskChanged(_ context.Context, ev domain.Event) {
	if len(d.publishers) == 0 {
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	select {
	case d.jobs <- ev:
		return
	default:
	}
	if d.cfg.HandoffTimeout > 0 {
		timer := time.NewTimer(d.cfg.HandoffTimeout)
		defer timer.Stop()
		select {
		case d.jobs <- ev:
			return
		case <-timer.C:
		}
	}

	d.log.Warn("dispatch buffer saturated; publishing inline")
	d.publish(-1, ev)
}

// Close stops accepting events and waits for queued ones to be published.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.jobs)
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()
	for ev := range d.jobs {
		d.publish(id, ev)
	}
}

func (d *Dispatcher) publish(worker int, ev domain.Event) {
	for _, p := range d.publishers {
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.PublishTimeout)
		err := p.Publish(ctx, ev)
		cancel()
		if err != nil {
			d.log.WithError(err).WithFields(log.Fields{
				"board":  ev.Board,
				"task":   ev.TaskID,
				"type":   ev.Type,
				"worker": worker,
			}).Error("publish failed")
		}
	}
}
