package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const publishTimeout = 5 * time.Second

// RabbitMQPublisher publishes events as persistent JSON messages to a durable queue.
type RabbitMQPublisher struct {
	queueName string

	conn *amqp.Connection
	ch   *amqp.Channel
	// amqp channels are not safe for concurrent publishing
	mu sync.Mutex

	logger zerolog.Logger
}

// NewRabbitMQPublisher dials url and declares queueName (idempotent).
func NewRabbitMQPublisher(url, queueName string, l zerolog.Logger) (*RabbitMQPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, errors.Wrap(err, "dial rabbitmq")
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "open rabbitmq channel")
	}

	_, err = ch.QueueDeclare(
		queueName,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, errors.Wrap(err, "declare queue")
	}

	p := &RabbitMQPublisher{
		queueName: queueName,
		conn:      conn,
		ch:        ch,
		logger:    l.With().Str("component", "events").Str("queue", queueName).Logger(),
	}
	p.logger.Info().Msg("rabbitmq publisher ready")
	return p, nil
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.ch.PublishWithContext(
		ctx,
		"",          // default exchange
		p.queueName, // routing key
		false,       // mandatory
		false,       // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			MessageId:    ev.JobID,
			Body:         body,
			Timestamp:    ev.At,
		},
	)
	if err != nil {
		return errors.Wrap(err, "publish event")
	}
	return nil
}

func (p *RabbitMQPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch != nil {
		p.ch.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
	p.logger.Info().Msg("rabbitmq publisher closed")
	return nil
}
