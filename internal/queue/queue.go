package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/linkgraph/internal/util"
	"github.com/OFFIS-RIT/linkgraph/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

const (
	IngestQueue = "ingest_queue"
	DeriveQueue = "derive_queue"
	ImportQueue = "import_queue"

	maxRetries = 10
	retryDelay = 10 * time.Second
)

// Queues lists every work queue the worker consumes.
var Queues = []string{IngestQueue, DeriveQueue, ImportQueue}

func Init() *amqp091.Connection {
	user := util.GetEnvString("RABBITMQ_USER", "guest")
	pass := util.GetEnvString("RABBITMQ_PASSWORD", "guest")
	host := util.GetEnvString("RABBITMQ_HOST", "localhost")
	port := util.GetEnvString("RABBITMQ_PORT", "5672")

	connURL := fmt.Sprintf(
		"amqp://%s:%s@%s:%s/",
		user,
		pass,
		host,
		port,
	)

	conn, err := amqp091.Dial(connURL)
	if err != nil {
		logger.Fatal("Failed to connect to RabbitMQ", "err", err)
	}

	return conn
}

// Declarer is the part of *amqp091.Channel used to declare queues.
type Declarer interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error)
}

// SetupQueues declares each queue with its dead-letter queue and a retry
// queue whose messages expire back into the work queue.
func SetupQueues(ch Declarer, queueNames []string) error {
	for _, name := range queueNames {
		decls := []struct {
			name string
			args amqp091.Table
		}{
			{name, nil},
			{name + "_dlq", nil},
			{name + "_retry", amqp091.Table{
				"x-message-ttl":             int32(retryDelay.Milliseconds()),
				"x-dead-letter-exchange":    "",
				"x-dead-letter-routing-key": name,
			}},
		}
		for _, d := range decls {
			_, err := ch.QueueDeclare(
				d.name,
				true,  // durable
				false, // autoDelete
				false, // exclusive
				false, // noWait
				d.args,
			)
			if err != nil {
				return fmt.Errorf("declare queue %s: %w", d.name, err)
			}
		}
	}

	return nil
}

// Publisher sends a message body to a named queue.
type Publisher interface {
	PublishFIFO(ctx context.Context, queueName string, data []byte) error
}

// ChannelPublisher publishes persistent messages on an AMQP channel through
// the default exchange.
type ChannelPublisher struct {
	Ch *amqp091.Channel
}

func (p ChannelPublisher) PublishFIFO(ctx context.Context, queueName string, data []byte) error {
	return publish(ctx, p.Ch, queueName, data, nil)
}

type channelPublish interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

func publish(ctx context.Context, ch channelPublish, queueName string, data []byte, headers amqp091.Table) error {
	publishing := amqp091.Publishing{
		ContentType:  "application/json",
		Body:         data,
		Headers:      headers,
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
	}

	return ch.PublishWithContext(
		ctx,
		"",
		queueName,
		false,
		false,
		publishing,
	)
}

// HandleFailure routes a failed delivery to the retry queue, or to the
// dead-letter queue once it has been retried maxRetries times. It returns
// the queue the message went to; when publishing fails the delivery is
// requeued and queueName itself is returned.
func HandleFailure(ctx context.Context, ch channelPublish, msg amqp091.Delivery, queueName string) string {
	retries := 0
	if val, ok := msg.Headers["x-retries"]; ok {
		switch v := val.(type) {
		case int32:
			retries = int(v)
		case int64:
			retries = int(v)
		case int:
			retries = v
		}
	}

	target := queueName + "_retry"
	headers := amqp091.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	if retries >= maxRetries {
		target = queueName + "_dlq"
		logger.Warn("[Queue] Sending message to DLQ", "queue", queueName, "retries", retries)
	} else {
		headers["x-retries"] = int32(retries + 1)
	}

	if err := publish(ctx, ch, target, msg.Body, headers); err != nil {
		logger.Error("[Queue] Failed to publish failed message", "target", target, "err", err)
		_ = msg.Nack(false, true)
		return queueName
	}
	_ = msg.Ack(false)
	return target
}

// FailureStatus maps the queue returned by HandleFailure to the status
// label of the queue message counter.
func FailureStatus(queueName, target string) string {
	switch target {
	case queueName + "_dlq":
		return "dlq"
	case queueName:
		return "requeued"
	default:
		return "retry"
	}
}
