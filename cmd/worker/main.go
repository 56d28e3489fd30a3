package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OFFIS-RIT/kinship/internal/queue"
	"github.com/OFFIS-RIT/kinship/internal/services"
	"github.com/OFFIS-RIT/kinship/internal/util"
	"github.com/OFFIS-RIT/kinship/pkg/logger"
	"github.com/OFFIS-RIT/kinship/pkg/logger/console"

	amqp "github.com/rabbitmq/amqp091-go"
)

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// logger
	debug := util.GetEnvBool("DEBUG", false)
	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: debug,
		JSON:  util.GetEnvString("LOG_FORMAT", "text") == "json",
	})
	logger.Init(consoleLogger)

	svc, err := services.Open(ctx, services.ConfigFromEnv())
	if err != nil {
		logger.Fatal("Failed to open services", "err", err)
	}
	defer svc.Close()

	processor := &queue.Processor{
		Builder:   svc.Builder,
		Scoring:   svc.Scoring,
		Reasoning: svc.Reasoning,
		Timings:   svc.Pool,
	}

	// Init rabbitmq
	qcfg := queue.ConfigFromEnv()
	conn, err := queue.Dial(qcfg)
	if err != nil {
		logger.Fatal("Failed to connect to RabbitMQ", "err", err)
	}
	defer conn.Close()

	// Init rabbitmq queues if not exist
	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()

	if err := queue.SetupQueues(ch, queue.Queues, qcfg.RetryDelay); err != nil {
		logger.Fatal("Failed to setup queues", "err", err)
	}
	processor.Queue = ch

	// One consumer channel with prefetch=1 so the worker runs a single
	// computation at a time across all queues.
	consumerCh, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open consumer channel", "err", err)
	}
	defer consumerCh.Close()

	if err := consumerCh.Qos(1, 0, true); err != nil {
		logger.Fatal("Failed to set QoS", "err", err)
	}

	type queuedMessage struct {
		msg       amqp.Delivery
		queueName string
	}

	messageChan := make(chan queuedMessage)

	for _, queueName := range queue.Queues {
		go func(qName string) {
			msgs, err := consumerCh.Consume(
				qName,
				fmt.Sprintf("%s_consumer", qName),
				false, // autoAck
				false, // exclusive
				false, // noLocal
				false, // noWait
				nil,   // args
			)
			if err != nil {
				logger.Fatal("Failed to start consuming", "queue", qName, "err", err)
			}

			for {
				select {
				case <-ctx.Done():
					logger.Info("Stopping consumer", "queue", qName)
					return
				case msg, ok := <-msgs:
					if !ok {
						logger.Info("Message channel closed", "queue", qName)
						return
					}
					select {
					case messageChan <- queuedMessage{msg: msg, queueName: qName}:
					case <-ctx.Done():
						return
					}
				}
			}
		}(queueName)
	}

	logger.Info("Listening for messages", "queues", queue.Queues)

	go func() {
		for {
			select {
			case <-ctx.Done():
				logger.Info("Stopping message processor")
				return
			case qm := <-messageChan:
				startTime := time.Now()
				logger.Info("Received message", "queue", qm.queueName)

				if err := processor.Process(ctx, qm.queueName, qm.msg.Body); err != nil {
					logger.Error("Error processing message", "queue", qm.queueName, "err", err)
					queue.HandleFailure(ctx, consumerCh, qm.msg, qm.queueName, err)
				} else {
					if err := qm.msg.Ack(false); err != nil {
						logger.Error("Failed to ack message", "err", err)
					}
					logger.Info("Message processed successfully", "queue", qm.queueName)
				}

				logger.Info("Processing time", "duration", time.Since(startTime).Round(time.Second).String())
				logger.Info("Waiting for next message")
			}
		}
	}()

	<-ctx.Done()
	logger.Info("Shutdown signal received, exiting...")
}
