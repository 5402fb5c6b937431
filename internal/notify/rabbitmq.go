package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// amqpChannel is the part of *amqp.Channel the publisher uses.
type amqpChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type amqpConnection interface {
	Close() error
}

// RabbitPublisher publishes run reports as persistent JSON messages to a durable queue.
type RabbitPublisher struct {
	conn  amqpConnection
	ch    amqpChannel
	queue string
	log   *zap.Logger
}

func NewRabbitPublisher(url, queue string, log *zap.Logger) (*RabbitPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("NewRabbitPublisher(): failed to connect: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("NewRabbitPublisher(): failed to open channel: %w", err)
	}
	p, err := newRabbitPublisher(ch, queue, log)
	if err != nil {
		conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

func newRabbitPublisher(ch amqpChannel, queue string, log *zap.Logger) (*RabbitPublisher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	_, err := ch.QueueDeclare(
		queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("newRabbitPublisher(): failed to declare queue %s: %w", queue, err)
	}
	return &RabbitPublisher{ch: ch, queue: queue, log: log}, nil
}

func (p *RabbitPublisher) Notify(ctx context.Context, r Report) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("Notify(): %w", err)
	}
	err = p.ch.PublishWithContext(ctx,
		"",      // default exchange
		p.queue, // routing key
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    r.Run.ID,
			Type:         string(r.Kind()),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("Notify(): rabbitmq publish: %w", err)
	}
	p.log.Info("run report published", zap.String("queue", p.queue), zap.String("run_id", r.Run.ID))
	return nil
}

// Close closes the channel and then the connection, even if the channel close fails.
func (p *RabbitPublisher) Close() error {
	err := p.ch.Close()
	if p.conn != nil {
		err = errors.Join(err, p.conn.Close())
	}
	if err != nil {
		return fmt.Errorf("Close(): %w", err)
	}
	return nil
}
