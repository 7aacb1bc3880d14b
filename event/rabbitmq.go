package event

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const RabbitMQActionHeader string = "x-action"

const publishTimeout = 5 * time.Second

// EventChannelData is one consumed delivery. Exactly one of Ack or Nack must
// be called.
type EventChannelData struct {
	Action string
	Data   []byte

	delivery amqp.Delivery
}

func (d EventChannelData) Ack() error {
	return d.delivery.Ack(false)
}

func (d EventChannelData) Nack(requeue bool) error {
	return d.delivery.Nack(false, requeue)
}

// Broker owns one AMQP connection and channel. Consumers read from Subscribe;
// Publish sends committed domain events to the outbound queue.
type Broker struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	mu     sync.Mutex
	queues map[string]amqp.Queue
	out    string
	log    zerolog.Logger
}

// Connect dials the server and declares every queue. Published events go to
// outQueue.
func Connect(url string, outQueue string, queues []string, log zerolog.Logger) (*Broker, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}
	log.Info().Msg("connection opened to RabbitMQ server")

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}

	b := &Broker{
		conn:   conn,
		ch:     ch,
		queues: make(map[string]amqp.Queue),
		out:    outQueue,
		log:    log.With().Str("component", "broker").Logger(),
	}
	for _, name := range append([]string{outQueue}, queues...) {
		if _, ok := b.queues[name]; ok {
			continue
		}
		queue, err := ch.QueueDeclare(
			name,  // name
			true,  // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			nil,   // arguments
		)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("rabbitmq declare %s: %w", name, err)
		}
		b.queues[name] = queue
		b.log.Info().Str("queue", name).Msg("declared queue")
	}
	return b, nil
}

// Subscribe starts consuming queue. The returned channel closes when ctx is
// done or the server closes the consumer.
func (b *Broker) Subscribe(ctx context.Context, queue string) (<-chan EventChannelData, error) {
	b.mu.Lock()
	msgs, err := b.ch.Consume(
		queue, // queue
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	b.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("rabbitmq consume %s: %w", queue, err)
	}
	b.log.Info().Str("queue", queue).Msg("subscribed")

	out := make(chan EventChannelData)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				action, _ := msg.Headers[RabbitMQActionHeader].(string)
				select {
				case out <- EventChannelData{Action: action, Data: msg.Body, delivery: msg}:
				case <-ctx.Done():
					msg.Nack(false, true)
					return
				}
			}
		}
	}()
	return out, nil
}

// Publish marshals payload and sends it to the outbound queue with the
// action header set.
func (b *Broker) Publish(ctx context.Context, action string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", action, err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	b.mu.Lock()
	defer b.mu.Unlock()
	err = b.ch.PublishWithContext(
		ctx,
		"",    // exchange
		b.out, // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Timestamp:    time.Now(),
			Headers: amqp.Table{
				RabbitMQActionHeader: action,
			},
			Body: body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish %s: %w", action, err)
	}
	return nil
}

func (b *Broker) Close() error {
	if b.ch != nil {
		b.ch.Close()
	}
	return b.conn.Close()
}
