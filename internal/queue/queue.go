package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/OFFIS-RIT/kinship/internal/util"
	"github.com/OFFIS-RIT/kinship/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

const (
	BuildQueue      = "build_queue"
	ScoreQueue      = "score_queue"
	CentralityQueue = "centrality_queue"
	CommunityQueue  = "community_queue"
	FeatureQueue    = "feature_queue"
)

// Queues lists every work queue the worker consumes.
var Queues = []string{BuildQueue, ScoreQueue, CentralityQueue, CommunityQueue, FeatureQueue}

type Config struct {
	User     string
	Password string
	Host     string
	Port     string
	// RetryDelay is how long a failed message waits in the retry queue.
	RetryDelay time.Duration
}

// ConfigFromEnv reads RABBITMQ_USER, RABBITMQ_PASSWORD, RABBITMQ_HOST,
// RABBITMQ_PORT and RABBITMQ_RETRY_DELAY.
func ConfigFromEnv() Config {
	return Config{
		User:       util.GetEnvString("RABBITMQ_USER", "guest"),
		Password:   util.GetEnvString("RABBITMQ_PASSWORD", "guest"),
		Host:       util.GetEnvString("RABBITMQ_HOST", "localhost"),
		Port:       util.GetEnvString("RABBITMQ_PORT", "5672"),
		RetryDelay: util.GetEnvDuration("RABBITMQ_RETRY_DELAY", 10*time.Second),
	}
}

func (c Config) URL() string {
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(c.User, c.Password),
		Host:   c.Host + ":" + c.Port,
		Path:   "/",
	}
	return u.String()
}

func Dial(c Config) (*amqp091.Connection, error) {
	conn, err := amqp091.Dial(c.URL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	return conn, nil
}

// Declarer is the part of an AMQP channel used to declare queues.
type Declarer interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error)
}

// SetupQueues declares every queue with its _dlq and a _retry queue that
// dead-letters back into the work queue after retryDelay.
func SetupQueues(ch Declarer, queueNames []string, retryDelay time.Duration) error {
	for _, name := range queueNames {
		_, err := ch.QueueDeclare(
			name,
			true,  // durable
			false, // autoDelete
			false, // exclusive
			false, // noWait
			nil,   // args
		)
		if err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", name, err)
		}

		dlqName := name + "_dlq"
		_, err = ch.QueueDeclare(
			dlqName,
			true,
			false,
			false,
			false,
			nil,
		)
		if err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", dlqName, err)
		}

		retryName := name + "_retry"
		_, err = ch.QueueDeclare(
			retryName,
			true,
			false,
			false,
			false,
			amqp091.Table{
				"x-message-ttl":             int32(retryDelay.Milliseconds()),
				"x-dead-letter-exchange":    "",
				"x-dead-letter-routing-key": name,
			},
		)
		if err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", retryName, err)
		}
		logger.Debug("[Queue] Declared queue", "queue", name)
	}

	return nil
}

// Publisher is the part of an AMQP channel used to publish.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

// PublishFIFO sends data to queueName through the default exchange.
func PublishFIFO(ctx context.Context, ch Publisher, queueName string, data []byte) error {
	publishing := amqp091.Publishing{
		ContentType:  "application/json",
		Body:         data,
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
	}

	if err := ch.PublishWithContext(ctx, "", queueName, false, false, publishing); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", queueName, err)
	}
	return nil
}

// PublishJSON encodes msg and publishes it to queueName.
func PublishJSON(ctx context.Context, ch Publisher, queueName string, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	return PublishFIFO(ctx, ch, queueName, data)
}
