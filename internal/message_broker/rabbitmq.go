package message_broker

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/RezaEskandarii/firequeue/types/config"
)

const defaultContentType = "application/json"

type RabbitMQ struct {
	conn        *amqp.Connection
	channel     *amqp.Channel
	queueName   string
	exchange    string
	routingKey  string
	contentType string
}

// NewRabbitMQ dials the broker and declares a durable direct exchange bound to
// a durable queue. prefetch caps unacknowledged deliveries per consumer.
func NewRabbitMQ(cfg config.RabbitMQConfig, prefetch int) (*RabbitMQ, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	exchange := cfg.Exchange
	routingKey := cfg.RoutingKey
	if routingKey == "" {
		routingKey = cfg.Queue
	}

	cleanup := func(err error) (*RabbitMQ, error) {
		ch.Close()
		conn.Close()
		return nil, err
	}

	// the default exchange cannot be declared or bound
	if exchange != "" {
		if err := ch.ExchangeDeclare(exchange, "direct", true, false, false, false, nil); err != nil {
			return cleanup(err)
		}
	}

	if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil); err != nil {
		return cleanup(err)
	}

	if exchange != "" {
		if err := ch.QueueBind(cfg.Queue, routingKey, exchange, false, nil); err != nil {
			return cleanup(err)
		}
	}

	if prefetch > 0 {
		if err := ch.Qos(prefetch, 0, false); err != nil {
			return cleanup(err)
		}
	}

	contentType := cfg.ContentType
	if contentType == "" {
		contentType = defaultContentType
	}

	return &RabbitMQ{
		conn:        conn,
		channel:     ch,
		queueName:   cfg.Queue,
		exchange:    exchange,
		routingKey:  routingKey,
		contentType: contentType,
	}, nil
}

func (r *RabbitMQ) Publish(ctx context.Context, message []byte) error {
	return r.channel.PublishWithContext(
		ctx,
		r.exchange,
		r.routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  r.contentType,
			DeliveryMode: amqp.Persistent,
			Body:         message,
		},
	)
}

func (r *RabbitMQ) Consume(ctx context.Context) (<-chan Delivery, error) {
	msgs, err := r.channel.Consume(
		r.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, err
	}

	out := make(chan Delivery)

	go func() {
		defer close(out)

		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- toDelivery(msg):
				case <-ctx.Done():
					_ = msg.Nack(false, true)
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func (r *RabbitMQ) Close() error {
	if err := r.channel.Close(); err != nil {
		_ = r.conn.Close()
		return err
	}
	return r.conn.Close()
}

func toDelivery(msg amqp.Delivery) Delivery {
	return Delivery{
		Body: msg.Body,
		Ack: func() error {
			return msg.Ack(false)
		},
		Nack: func(requeue bool) error {
			return msg.Nack(false, requeue)
		},
	}
}
