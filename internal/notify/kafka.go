package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes run reports to a topic, keyed by run id.
type KafkaPublisher struct {
	writer messageWriter
	log    *zap.Logger
}

func NewKafkaPublisher(broker, topic string, log *zap.Logger) *KafkaPublisher {
	return NewKafkaPublisherWithWriter(&kafka.Writer{
		Addr:                   kafka.TCP(broker),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}, log)
}

func NewKafkaPublisherWithWriter(w messageWriter, log *zap.Logger) *KafkaPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &KafkaPublisher{writer: w, log: log}
}

func (p *KafkaPublisher) Notify(ctx context.Context, r Report) error {
	value, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("Notify(): %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(r.Run.ID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(r.Kind())},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("Notify(): kafka write: %w", err)
	}
	p.log.Info("run report published to kafka", zap.String("run_id", r.Run.ID))
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
