package device

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/anicoll/harvia-integration/internal/pkg/contxt"
	"github.com/anicoll/harvia-integration/internal/pkg/harvia"
	"github.com/anicoll/harvia-integration/internal/pkg/model"
)

const (
	defaultWorkers   = 2
	defaultQueueSize = 32
	mutationTimeout  = time.Minute
)

type mutator interface {
	Mutate(ctx context.Context, deviceID string, payload model.PartialUpdate) harvia.MutationResult
}

// Dispatcher applies desired changes to the store optimistically and submits
// the matching mutation from a small worker pool. The bounded queue gives
// backpressure instead of a goroutine per command. A mutation that exhausts
// its retries is logged and abandoned; the optimistic local state stands and
// a later poll or push reconciles it.
type Dispatcher struct {
	store    *Store
	client   mutator
	deviceID string
	logger   *zap.Logger

	queue chan model.PartialUpdate
	wg    sync.WaitGroup

	mu      sync.Mutex
	started bool
	closed  bool
}

func NewDispatcher(store *Store, client mutator, deviceID string) *Dispatcher {
	return &Dispatcher{
		store:    store,
		client:   client,
		deviceID: deviceID,
		logger:   zap.L().With(zap.String("device_id", deviceID)),
		queue:    make(chan model.PartialUpdate, defaultQueueSize),
	}
}

// Start launches the worker pool. Workers drain the queue even after Stop so
// accepted commands are never abandoned mid-flight.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true
	for i := 0; i < defaultWorkers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for payload := range d.queue {
		// Detached context: a caller-initiated shutdown should not cancel an
		// outbound mutation already accepted.
		ctx := contxt.Detached(mutationTimeout)
		result := d.client.Mutate(ctx, d.deviceID, payload)
		if !result.OK {
			d.logger.Error("mutation abandoned after retries",
				zap.Int("attempts", result.Attempts),
				zap.Error(result.Err))
			continue
		}
		d.logger.Debug("mutation confirmed", zap.Int("attempts", result.Attempts))
	}
}

// Dispatch applies the change to the store immediately and queues the
// mutation. The caller is never blocked on network I/O; a full queue blocks
// only until a worker frees a slot.
func (d *Dispatcher) Dispatch(payload model.PartialUpdate) {
	d.store.ApplyUpdate(payload, model.SourceLocal)

	// Held across the send so Stop cannot close the queue underneath us.
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.logger.Warn("dispatcher stopped, dropping command")
		return
	}
	d.queue <- payload
}

// Stop accepts no further commands and waits for queued and in-flight
// mutations to complete.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	close(d.queue)
	d.wg.Wait()
}
