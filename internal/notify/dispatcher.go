package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Config holds the dispatcher settings.
type Config struct {
	// Workers is the number of concurrent deliveries.
	Workers int
	// Timeout bounds a single delivery.
	Timeout time.Duration
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		Workers: 4,
		Timeout: 10 * time.Second,
	}
}

// Result counts the outcome of one batch.
type Result struct {
	Recipients int
	Succeeded  int
	Failed     int
}

type job struct {
	ctx     context.Context
	msg     Message
	results chan<- error
}

// Dispatcher runs deliveries on a fixed pool of workers.
type Dispatcher struct {
	notifier Notifier
	config   Config
	logger   *slog.Logger

	jobs      chan job
	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewDispatcher creates a dispatcher. Workers start on Start or on the first
// Dispatch.
func NewDispatcher(notifier Notifier, cfg Config, logger *slog.Logger) *Dispatcher {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &Dispatcher{
		notifier: notifier,
		config:   cfg,
		logger:   logger,
		jobs:     make(chan job),
		done:     make(chan struct{}),
	}
}

// Start launches the workers. Calling it more than once has no effect.
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		d.logger.Info("starting notification dispatcher", slog.Int("workers", d.config.Workers))
		for i := 0; i < d.config.Workers; i++ {
			d.wg.Add(1)
			go d.worker()
		}
	})
}

// Stop waits for in-flight deliveries and shuts the workers down.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.logger.Info("shutting down notification dispatcher")
		close(d.done)
		d.wg.Wait()
	})
}

// Dispatch delivers every message and blocks until all have finished.
// Messages that could not be handed to a worker, because ctx ended or the
// dispatcher stopped, count as failures.
func (d *Dispatcher) Dispatch(ctx context.Context, msgs []Message) Result {
	d.Start()

	res := Result{Recipients: len(msgs)}
	results := make(chan error, len(msgs))
	submitted := 0

submit:
	for _, msg := range msgs {
		select {
		case d.jobs <- job{ctx: ctx, msg: msg, results: results}:
			submitted++
		case <-ctx.Done():
			break submit
		case <-d.done:
			break submit
		}
	}

	for i := 0; i < submitted; i++ {
		if err := <-results; err != nil {
			res.Failed++
		} else {
			res.Succeeded++
		}
	}
	res.Failed += len(msgs) - submitted

	return res
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for {
		select {
		case <-d.done:
			return
		case j := <-d.jobs:
			j.results <- d.deliver(j)
		}
	}
}

func (d *Dispatcher) deliver(j job) error {
	if j.msg.To == "" {
		return ErrNoAddress
	}

	ctx, cancel := context.WithTimeout(j.ctx, d.config.Timeout)
	defer cancel()

	if err := d.notifier.Notify(ctx, j.msg); err != nil {
		d.logger.Warn("notification delivery failed",
			slog.String("to", j.msg.To),
			slog.String("error", err.Error()),
		)
		return err
	}
	return nil
}
