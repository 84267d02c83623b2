package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// errBackoff is how long the loop pauses after a dequeue or processing
// error before polling again.
const errBackoff = 100 * time.Millisecond

// Processor handles one raw queue message.
type Processor interface {
	Process(ctx context.Context, payload []byte) error
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, payload []byte) error

func (f ProcessorFunc) Process(ctx context.Context, payload []byte) error {
	return f(ctx, payload)
}

// Worker drains a queue one message at a time.
type Worker struct {
	queue     *Queue
	processor Processor
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup

	mu        sync.RWMutex
	processed int
}

// NewWorker creates a worker bound to a queue and processor.
func NewWorker(queue *Queue, processor Processor) *Worker {
	return &Worker{
		queue:     queue,
		processor: processor,
		stopCh:    make(chan struct{}),
	}
}

// Start begins the polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for the loop to exit. Safe to
// call multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Processed returns how many messages the worker has handled.
func (w *Worker) Processed() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.processed
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("queue", w.queue.Name())
	log.Info("Worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("Worker shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, worker shutting down")
			return
		default:
			payload, err := w.queue.Dequeue(ctx)
			if err != nil {
				log.Error("Dequeue failed", "error", err)
				w.sleep(errBackoff)
				continue
			}
			if payload == nil {
				continue
			}

			if err := w.processor.Process(ctx, payload); err != nil {
				log.Error("Message processing failed", "error", err)
				w.sleep(errBackoff)
				continue
			}

			w.mu.Lock()
			w.processed++
			w.mu.Unlock()
		}
	}
}

// sleep waits for the duration or until stop is signalled.
func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}
