package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPAlerter публикует алерты в topic-exchange RabbitMQ с ключом alert.<kind>.
type AMQPAlerter struct {
	mu       sync.Mutex
	url      string
	exchange string
	conn     *amqp.Connection
	channel  *amqp.Channel
}

func NewAMQPAlerter(url, exchange string) (*AMQPAlerter, error) {
	a := &AMQPAlerter{url: url, exchange: exchange}
	if err := a.connect(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *AMQPAlerter) connect() error {
	conn, err := amqp.Dial(a.url)
	if err != nil {
		return fmt.Errorf("alert: dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("alert: open channel: %w", err)
	}
	err = ch.ExchangeDeclare(
		a.exchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("alert: declare exchange: %w", err)
	}
	a.conn = conn
	a.channel = ch
	return nil
}

func (a *AMQPAlerter) ensureConnection() error {
	if a.conn == nil || a.conn.IsClosed() || a.channel == nil || a.channel.IsClosed() {
		return a.connect()
	}
	return nil
}

func (a *AMQPAlerter) Alert(ctx context.Context, al Alert) error {
	body, err := json.Marshal(al)
	if err != nil {
		return fmt.Errorf("alert: marshal: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.ensureConnection(); err != nil {
		return err
	}

	err = a.channel.PublishWithContext(ctx,
		a.exchange,
		"alert."+al.Kind,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    al.At,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("alert: publish %s: %w", al.Kind, err)
	}
	return nil
}

func (a *AMQPAlerter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.channel != nil {
		a.channel.Close()
	}
	if a.conn != nil {
		return a.conn.Close()
	}
	return nil
}
