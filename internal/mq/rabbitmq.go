package mq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/recipebook/apiserver/config"
)

const contentTypeJSON = "application/json"

// RabbitMQClient maps each channel to a fanout exchange of the same name.
// Publishers only touch the exchange; every subscriber binds a queue to it,
// so independent subscribers each receive every event.
type RabbitMQClient struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	cfg     config.RabbitMQConfig

	mu       sync.Mutex
	declared map[string]bool
}

// NewRabbitMQClient dials the broker and opens a channel.
func NewRabbitMQClient(cfg config.RabbitMQConfig) (*RabbitMQClient, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("rabbitmq url is required")
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}

	if cfg.PrefetchCount > 0 {
		if err := ch.Qos(cfg.PrefetchCount, 0, false); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, fmt.Errorf("set rabbitmq prefetch: %w", err)
		}
	}

	return &RabbitMQClient{
		conn:     conn,
		channel:  ch,
		cfg:      cfg,
		declared: map[string]bool{},
	}, nil
}

// Publish sends data to the exchange named by channel. The "type"
// attribute, when present, becomes the routing key.
func (r *RabbitMQClient) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if err := r.declareExchange(channel); err != nil {
		return "", err
	}

	headers := make(amqp.Table, len(attrs))
	for key, value := range attrs {
		headers[key] = value
	}

	msg := amqp.Publishing{
		ContentType:  contentTypeJSON,
		DeliveryMode: r.deliveryMode(),
		MessageId:    uuid.NewString(),
		Headers:      headers,
		Body:         data,
	}
	if err := r.channel.PublishWithContext(ctx, channel, attrs["type"], false, false, msg); err != nil {
		return "", fmt.Errorf("publish to %s: %w", channel, err)
	}
	return msg.MessageId, nil
}

// Subscribe binds a queue to the channel's exchange and hands each delivery
// to handler until ctx is done. Handler errors requeue the delivery.
func (r *RabbitMQClient) Subscribe(ctx context.Context, channel string, handler Handler) error {
	if err := r.declareExchange(channel); err != nil {
		return err
	}

	spec := subscriberQueue(r.cfg)
	queue, err := r.channel.QueueDeclare(spec.name, spec.durable, spec.autoDelete, spec.exclusive, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue for %s: %w", channel, err)
	}
	if err := r.channel.QueueBind(queue.Name, "", channel, false, nil); err != nil {
		return fmt.Errorf("bind %s to %s: %w", queue.Name, channel, err)
	}

	consumerTag := "recipebook-" + uuid.NewString()
	deliveries, err := r.channel.Consume(queue.Name, consumerTag, false, spec.exclusive, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", queue.Name, err)
	}
	defer func() {
		_ = r.channel.Cancel(consumerTag, false)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return errors.New("rabbitmq delivery channel closed")
			}
			msg := Message{
				ID:         delivery.MessageId,
				Data:       delivery.Body,
				Attributes: headersToAttributes(delivery.Headers),
			}
			if err := handler(ctx, msg); err != nil {
				_ = delivery.Nack(false, true)
				continue
			}
			_ = delivery.Ack(false)
		}
	}
}

// Close closes the channel and then the connection.
func (r *RabbitMQClient) Close() error {
	if r.channel != nil {
		_ = r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}

func (r *RabbitMQClient) declareExchange(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("rabbitmq channel is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.declared[name] {
		return nil
	}
	if err := r.channel.ExchangeDeclare(name, amqp.ExchangeFanout, r.cfg.QueueDurable, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", name, err)
	}
	r.declared[name] = true
	return nil
}

func (r *RabbitMQClient) deliveryMode() uint8 {
	if r.cfg.QueueDurable {
		return amqp.Persistent
	}
	return amqp.Transient
}

type queueSpec struct {
	name       string
	durable    bool
	autoDelete bool
	exclusive  bool
}

// subscriberQueue describes the queue a subscriber binds. Without a
// configured name the broker picks one and the queue dies with the consumer.
func subscriberQueue(cfg config.RabbitMQConfig) queueSpec {
	name := strings.TrimSpace(cfg.Queue)
	if name == "" {
		return queueSpec{autoDelete: true, exclusive: true}
	}
	return queueSpec{
		name:       name,
		durable:    cfg.QueueDurable,
		autoDelete: cfg.QueueAutoDelete,
	}
}

func headersToAttributes(headers amqp.Table) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	attrs := make(map[string]string, len(headers))
	for key, value := range headers {
		switch typed := value.(type) {
		case string:
			attrs[key] = typed
		case []byte:
			attrs[key] = string(typed)
		default:
			attrs[key] = fmt.Sprint(value)
		}
	}
	return attrs
}
