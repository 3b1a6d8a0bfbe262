package notification

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"healthcare-auth/internal/models"
	"healthcare-auth/internal/util"
)

// MessageSource is the consumer side of the notification topic
type MessageSource interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessage(ctx context.Context, msg kafka.Message) error
}

// Relay drains queued emails from Kafka into a Sender. A message is
// committed once it was sent or retries ran out, so one bad address never
// stalls the partition.
type Relay struct {
	source   MessageSource
	sender   Sender
	attempts int
	backoff  time.Duration
	timeout  time.Duration
	logger   *zap.Logger
}

func NewRelay(source MessageSource, sender Sender, attempts int, backoff, timeout time.Duration, logger *zap.Logger) *Relay {
	if attempts <= 0 {
		attempts = 1
	}
	return &Relay{
		source:   source,
		sender:   sender,
		attempts: attempts,
		backoff:  backoff,
		timeout:  timeout,
		logger:   logger,
	}
}

// Run blocks until ctx is cancelled or the source fails
func (r *Relay) Run(ctx context.Context) error {
	for {
		msg, err := r.source.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		r.handle(ctx, msg)

		if err := r.source.CommitMessage(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (r *Relay) handle(ctx context.Context, raw kafka.Message) {
	var msg models.EmailMessage
	if err := json.Unmarshal(raw.Value, &msg); err != nil {
		r.logger.Error("discarding undecodable notification",
			zap.Int64("offset", raw.Offset),
			zap.Int("partition", raw.Partition),
			zap.Error(err))
		return
	}

	var err error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		if err = r.send(ctx, msg); err == nil {
			r.logger.Info("email delivered",
				zap.String("to", util.MaskEmail(msg.To)),
				zap.String("purpose", msg.Purpose),
				zap.Int("attempt", attempt))
			return
		}
		if ctx.Err() != nil || attempt == r.attempts {
			break
		}
		select {
		case <-ctx.Done():
		case <-time.After(r.backoff * time.Duration(attempt)):
		}
	}
	r.logger.Error("email delivery failed",
		zap.String("to", util.MaskEmail(msg.To)),
		zap.String("purpose", msg.Purpose),
		zap.Int("attempts", r.attempts),
		zap.Error(err))
}

func (r *Relay) send(ctx context.Context, msg models.EmailMessage) error {
	if r.timeout <= 0 {
		return r.sender.Send(ctx, msg)
	}
	sendCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	err := r.sender.Send(sendCtx, msg)
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		r.logger.Warn("email send timed out", zap.Duration("timeout", r.timeout))
	}
	return err
}
