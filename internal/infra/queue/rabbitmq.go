package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"smm-planner/internal/domain"
	"smm-planner/internal/infra/metrics"
)

// RabbitPublishQueue реализует очередь задач публикации поверх AMQP.
type RabbitPublishQueue struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	queue      string
	deliveries <-chan amqp.Delivery
}

// NewRabbitPublishQueue подключается к брокеру и объявляет долговечную очередь.
func NewRabbitPublishQueue(amqpURL, queue string) (*RabbitPublishQueue, error) {
	if amqpURL == "" {
		return nil, errors.New("amqp url is empty")
	}
	if queue == "" {
		return nil, errors.New("queue name is empty")
	}
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("подключение к amqp: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("открытие канала: %w", err)
	}
	if _, err := channel.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("объявление очереди: %w", err)
	}
	return &RabbitPublishQueue{conn: conn, channel: channel, queue: queue}, nil
}

// Enqueue публикует задачу в очередь.
func (q *RabbitPublishQueue) Enqueue(ctx context.Context, job domain.PublishJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	start := time.Now()
	err = q.channel.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         payload,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", q.queue, start, err)
	if err != nil {
		return fmt.Errorf("постановка задачи в очередь: %w", err)
	}
	return nil
}

// Pop блокирующе читает задачу из очереди.
func (q *RabbitPublishQueue) Pop(ctx context.Context) (domain.PublishJob, error) {
	if q.deliveries == nil {
		deliveries, err := q.channel.Consume(q.queue, "", false, false, false, false, nil)
		if err != nil {
			return domain.PublishJob{}, fmt.Errorf("подписка на очередь: %w", err)
		}
		q.deliveries = deliveries
	}
	select {
	case <-ctx.Done():
		return domain.PublishJob{}, ctx.Err()
	case delivery, ok := <-q.deliveries:
		if !ok {
			return domain.PublishJob{}, errors.New("канал доставки закрыт")
		}
		var job domain.PublishJob
		if err := json.Unmarshal(delivery.Body, &job); err != nil {
			_ = delivery.Nack(false, false)
			return domain.PublishJob{}, fmt.Errorf("decode job: %w", err)
		}
		if err := delivery.Ack(false); err != nil {
			return domain.PublishJob{}, fmt.Errorf("подтверждение задачи: %w", err)
		}
		return job, nil
	}
}

// Close освобождает канал и соединение.
func (q *RabbitPublishQueue) Close() error {
	if err := q.channel.Close(); err != nil {
		_ = q.conn.Close()
		return err
	}
	return q.conn.Close()
}
