package events

import (
	"context"

	"go.uber.org/zap"
)

const EventSecurityAlertCreated = "security.alert.created"

type Publisher interface {
	Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error
	Close() error
}

// LogPublisher is used when no broker is configured; events only reach the log.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.Named("LogPublisher")}
}

func (p *LogPublisher) Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error {
	p.logger.Info("Event published",
		zap.String("event_type", eventType),
		zap.String("partition_key", partitionKey),
		zap.ByteString("payload", payload),
	)
	return nil
}

func (p *LogPublisher) Close() error { return nil }
