package events

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPPublisher publishes events to a durable fanout exchange. The routing
// key is the event type so topic-bound consumers can filter if the exchange
// is redeclared as a topic exchange.
type AMQPPublisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

// NewAMQPPublisher dials the broker and declares the exchange.
func NewAMQPPublisher(rawURL, exchange string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(rawURL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if err := channel.ExchangeDeclare(exchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %q: %w", exchange, err)
	}
	return &AMQPPublisher{conn: conn, channel: channel, exchange: exchange}, nil
}

func (p *AMQPPublisher) Name() string { return "amqp" }

// Send publishes evt as a persistent JSON message.
func (p *AMQPPublisher) Send(ctx context.Context, evt Event) error {
	msg, err := amqpMessage(evt)
	if err != nil {
		return err
	}
	return p.channel.PublishWithContext(ctx, p.exchange, string(evt.Type), false, false, msg)
}

func (p *AMQPPublisher) Close() error {
	chErr := p.channel.Close()
	connErr := p.conn.Close()
	if chErr != nil {
		return chErr
	}
	return connErr
}

func amqpMessage(evt Event) (amqp.Publishing, error) {
	payload, err := Encode(evt)
	if err != nil {
		return amqp.Publishing{}, err
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    evt.Timestamp,
		Type:         string(evt.Type),
		Body:         payload,
	}, nil
}
