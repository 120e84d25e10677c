package dlq

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/vigilo-sec/vigilo/internal/metrics"
)

const dlqStreamName = "VIGILO_DLQ"

// JetStreamQueue spools failed records to NATS JetStream so multiple
// service instances share one DLQ.
type JetStreamQueue struct {
	nc *nats.Conn
	js jetstream.JetStream
}

// NewJetStreamQueue connects to NATS and ensures the DLQ stream exists.
func NewJetStreamQueue(ctx context.Context, natsURL string) (*JetStreamQueue, error) {
	nc, err := nats.Connect(natsURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create jetstream context: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     dlqStreamName,
		Subjects: []string{"vigilo.dlq.>"},
		Storage:  jetstream.FileStorage,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create dlq stream: %w", err)
	}

	return &JetStreamQueue{nc: nc, js: js}, nil
}

func (q *JetStreamQueue) Write(ctx context.Context, rec *FailedRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal dlq record: %w", err)
	}

	subject := fmt.Sprintf("vigilo.dlq.%s", rec.Reason)
	if _, err := q.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("failed to publish dlq record: %w", err)
	}

	metrics.DLQWrites.WithLabelValues(rec.Reason).Inc()
	return nil
}

func (q *JetStreamQueue) Close() error {
	q.nc.Close()
	return nil
}
