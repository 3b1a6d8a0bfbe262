package notification

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"healthcare-auth/internal/models"
	"healthcare-auth/internal/util"
)

var ErrQueueFull = errors.New("notification queue full")

// Dispatcher hands messages to a Sender from a fixed pool of workers.
// Dispatch never blocks and never reports delivery errors to the caller.
type Dispatcher struct {
	sender  Sender
	queue   chan models.EmailMessage
	timeout time.Duration
	logger  *zap.Logger

	wg        sync.WaitGroup
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

func NewDispatcher(sender Sender, queueSize, workers int, timeout time.Duration, logger *zap.Logger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 1
	}
	if workers <= 0 {
		workers = 1
	}
	d := &Dispatcher{
		sender:  sender,
		queue:   make(chan models.EmailMessage, queueSize),
		timeout: timeout,
		logger:  logger,
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Dispatch enqueues msg, dropping it with a warning when the queue is full
// or the dispatcher is closed.
func (d *Dispatcher) Dispatch(msg models.EmailMessage) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.logger.Warn("notification dropped after shutdown", zap.String("purpose", msg.Purpose))
		return ErrQueueFull
	}
	select {
	case d.queue <- msg:
		return nil
	default:
		d.logger.Warn("notification queue full, message dropped",
			zap.String("to", util.MaskEmail(msg.To)),
			zap.String("purpose", msg.Purpose))
		return ErrQueueFull
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for msg := range d.queue {
		d.deliver(msg)
	}
}

func (d *Dispatcher) deliver(msg models.EmailMessage) {
	ctx := context.Background()
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("notification sender panicked", zap.Any("panic", r), zap.String("purpose", msg.Purpose))
		}
	}()

	if err := d.sender.Send(ctx, msg); err != nil {
		d.logger.Warn("notification delivery failed",
			zap.String("to", util.MaskEmail(msg.To)),
			zap.String("purpose", msg.Purpose),
			zap.Error(err))
		return
	}
	d.logger.Debug("notification delivered",
		zap.String("to", util.MaskEmail(msg.To)),
		zap.String("purpose", msg.Purpose))
}

// Close stops accepting messages and waits for queued ones until ctx ends
func (d *Dispatcher) Close(ctx context.Context) error {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
