package notify

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/rl1809/apparatus-check/internal/core/domain"
)

// Deliverer hands one event to its recipient.
type Deliverer interface {
	Deliver(event domain.LockEvent) error
}

// Dispatcher is a LockNotifier that queues events for a pool of delivery
// workers. Notify never blocks: events arriving while the queue is full or
// after Close are dropped.
type Dispatcher struct {
	mu       sync.RWMutex
	closed   bool
	queue    chan domain.LockEvent
	delivery Deliverer
	logger   *zap.Logger
	wg       sync.WaitGroup
}

func NewDispatcher(delivery Deliverer, queueSize, workers int, logger *zap.Logger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 1
	}
	if workers <= 0 {
		workers = 1
	}

	d := &Dispatcher{
		queue:    make(chan domain.LockEvent, queueSize),
		delivery: delivery,
		logger:   logger,
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go func(id int) {
			defer d.wg.Done()
			d.workerLoop(id)
		}(i)
	}
	return d
}

func (d *Dispatcher) Notify(ctx context.Context, event domain.LockEvent) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.logger.Warn("lock event dropped, dispatcher closed", eventFields(event)...)
		return
	}
	select {
	case d.queue <- event:
	default:
		d.logger.Warn("lock event dropped, queue full", eventFields(event)...)
	}
}

// Close stops accepting events and waits for queued ones to be delivered.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
}

func (d *Dispatcher) workerLoop(id int) {
	for event := range d.queue {
		if err := d.delivery.Deliver(event); err != nil {
			d.logger.Error("lock event delivery failed",
				append(eventFields(event), zap.Int("worker", id), zap.Error(err))...)
		}
	}
}

func eventFields(event domain.LockEvent) []zap.Field {
	return []zap.Field{
		zap.String("type", string(event.Type)),
		zap.String("check_id", event.CheckID),
		zap.String("compartment_id", event.CompartmentID),
		zap.String("recipient", event.Recipient),
	}
}
