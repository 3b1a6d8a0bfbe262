// Package notification delivers account emails off the request path.
package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"healthcare-auth/internal/client"
	"healthcare-auth/internal/models"
	"healthcare-auth/internal/util"
)

// Sender delivers one message or reports why it could not
type Sender interface {
	Send(ctx context.Context, msg models.EmailMessage) error
}

// LogSender writes the message to the log instead of delivering it, so
// codes can be read in development without a mail transport.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, msg models.EmailMessage) error {
	s.logger.Info("email (not delivered)",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("purpose", msg.Purpose),
		zap.String("body", msg.Body))
	return nil
}

// KafkaSender publishes the message for cmd/notifier to deliver
type KafkaSender struct {
	producer *client.KafkaProducer
}

func NewKafkaSender(producer *client.KafkaProducer) *KafkaSender {
	return &KafkaSender{producer: producer}
}

func (s *KafkaSender) Send(ctx context.Context, msg models.EmailMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode email message: %w", err)
	}
	headers := map[string]string{"purpose": msg.Purpose}
	if err := s.producer.ProduceMessage(ctx, []byte(msg.To), payload, headers); err != nil {
		return err
	}
	util.Debug("email queued", util.String("to", util.MaskEmail(msg.To)), util.String("purpose", msg.Purpose))
	return nil
}
