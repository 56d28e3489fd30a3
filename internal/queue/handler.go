package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/kinship/pkg/common"
	"github.com/OFFIS-RIT/kinship/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

// MaxRetries is how often a message is retried before it is moved to the
// dead-letter queue.
const MaxRetries = 10

// ErrPermanent marks failures that retrying cannot fix.
var ErrPermanent = errors.New("permanent failure")

func permanent(err error) error {
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// IsPermanent reports whether err should skip the retry queue.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent) ||
		errors.Is(err, common.ErrInvalidParameter) ||
		errors.Is(err, common.ErrOverloaded)
}

func retriesOf(headers amqp091.Table) int {
	switch v := headers["x-retries"].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

// HandleFailure moves a failed delivery to the retry queue of queueName, or
// to its dead-letter queue once MaxRetries is reached or the failure is
// permanent. The delivery is acked after the move and requeued when the
// move itself fails.
func HandleFailure(ctx context.Context, ch Publisher, msg amqp091.Delivery, queueName string, cause error) {
	retries := retriesOf(msg.Headers)
	headers := amqp091.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers["x-error"] = cause.Error()

	target := queueName + "_retry"
	if retries >= MaxRetries || IsPermanent(cause) {
		target = queueName + "_dlq"
		logger.Warn("[Queue] Sending message to DLQ", "dlq", target, "retries", retries, "err", cause)
	} else {
		headers["x-retries"] = int32(retries + 1)
	}

	pubErr := ch.PublishWithContext(ctx,
		"",
		target,
		false,
		false,
		amqp091.Publishing{
			ContentType:  msg.ContentType,
			Body:         msg.Body,
			Headers:      headers,
			DeliveryMode: amqp091.Persistent,
		},
	)
	if pubErr != nil {
		logger.Error("[Queue] Failed to move message", "queue", target, "err", pubErr)
		if err := msg.Nack(false, true); err != nil {
			logger.Error("[Queue] Failed to nack message", "err", err)
		}
		return
	}
	if err := msg.Ack(false); err != nil {
		logger.Error("[Queue] Failed to ack message", "err", err)
	}
}
