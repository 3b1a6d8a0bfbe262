// Package audit records security events (logins, OTP challenges, password
// changes) without slowing the request that produced them.
package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"healthcare-auth/internal/models"
)

type Recorder interface {
	Record(event models.SecurityEvent)
	Close(ctx context.Context) error
}

// LogRecorder writes events to the structured log
type LogRecorder struct {
	logger *zap.Logger
}

func NewLogRecorder(logger *zap.Logger) *LogRecorder {
	return &LogRecorder{logger: logger}
}

func (r *LogRecorder) Record(e models.SecurityEvent) {
	r.logger.Info("security event",
		zap.String("event_type", string(e.EventType)),
		zap.String("account_id", e.AccountID),
		zap.String("ip", e.IPAddress),
		zap.String("request_id", e.RequestID),
		zap.Bool("success", e.Success),
		zap.String("reason", e.Reason))
}

func (r *LogRecorder) Close(context.Context) error { return nil }

// BatchWriter is the subset of the ClickHouse client the recorder needs
type BatchWriter interface {
	Exec(ctx context.Context, query string, args ...any) error
	BatchInsert(ctx context.Context, query string, rows [][]any) error
}

const createEventsTable = `
CREATE TABLE IF NOT EXISTS security_events (
	event_time  DateTime64(3, 'UTC'),
	event_type  LowCardinality(String),
	account_id  String,
	email       String,
	ip_address  String,
	user_agent  String,
	request_id  String,
	success     Bool,
	reason      String
) ENGINE = MergeTree
ORDER BY (event_type, event_time)
TTL toDateTime(event_time) + INTERVAL 365 DAY`

const insertEvents = `INSERT INTO security_events
	(event_time, event_type, account_id, email, ip_address, user_agent, request_id, success, reason)`

// ClickHouseRecorder buffers events and flushes them in batches, either when
// batchSize is reached or every flushInterval.
type ClickHouseRecorder struct {
	writer        BatchWriter
	events        chan models.SecurityEvent
	batchSize     int
	flushInterval time.Duration
	logger        *zap.Logger

	done      chan struct{}
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

func NewClickHouseRecorder(writer BatchWriter, batchSize int, flushInterval time.Duration, logger *zap.Logger) *ClickHouseRecorder {
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 2 * time.Second
	}
	r := &ClickHouseRecorder{
		writer:        writer,
		events:        make(chan models.SecurityEvent, batchSize*4),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        logger,
		done:          make(chan struct{}),
	}
	go r.run()
	return r
}

// EnsureTable creates security_events when missing
func EnsureTable(ctx context.Context, writer BatchWriter) error {
	if err := writer.Exec(ctx, createEventsTable); err != nil {
		return fmt.Errorf("create security_events: %w", err)
	}
	return nil
}

// Record never blocks; events are dropped with a warning when the buffer is full
func (r *ClickHouseRecorder) Record(e models.SecurityEvent) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.events <- e:
	default:
		r.logger.Warn("audit buffer full, event dropped", zap.String("event_type", string(e.EventType)))
	}
}

func (r *ClickHouseRecorder) run() {
	defer close(r.done)

	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	batch := make([]models.SecurityEvent, 0, r.batchSize)
	for {
		select {
		case e, ok := <-r.events:
			if !ok {
				r.flush(batch)
				return
			}
			batch = append(batch, e)
			if len(batch) >= r.batchSize {
				r.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				r.flush(batch)
				batch = batch[:0]
			}
		}
	}
}

func (r *ClickHouseRecorder) flush(batch []models.SecurityEvent) {
	if len(batch) == 0 {
		return
	}
	rows := make([][]any, 0, len(batch))
	for _, e := range batch {
		rows = append(rows, []any{
			e.EventTime.UTC(), string(e.EventType), e.AccountID, e.Email,
			e.IPAddress, e.UserAgent, e.RequestID, e.Success, e.Reason,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.writer.BatchInsert(ctx, insertEvents, rows); err != nil {
		r.logger.Error("failed to write security events", zap.Int("count", len(rows)), zap.Error(err))
	}
}

// Close flushes buffered events and stops the flusher
func (r *ClickHouseRecorder) Close(ctx context.Context) error {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.events)
		r.mu.Unlock()
	})
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return errors.Join(errors.New("audit flush interrupted"), ctx.Err())
	}
}
