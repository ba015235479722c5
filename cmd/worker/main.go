package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OFFIS-RIT/linkgraph/internal/bootstrap"
	"github.com/OFFIS-RIT/linkgraph/internal/importer"
	"github.com/OFFIS-RIT/linkgraph/internal/metrics"
	"github.com/OFFIS-RIT/linkgraph/internal/queue"
	"github.com/OFFIS-RIT/linkgraph/internal/storage"
	"github.com/OFFIS-RIT/linkgraph/internal/util"
	"github.com/OFFIS-RIT/linkgraph/pkg/leaselock"
	"github.com/OFFIS-RIT/linkgraph/pkg/logger"

	_ "github.com/lib/pq"
	amqp "github.com/rabbitmq/amqp091-go"
)

func main() {
	util.LoadEnv()
	bootstrap.InitLogger("worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := bootstrap.OpenStore(ctx)
	if err != nil {
		logger.Fatal("Failed to open graph store", "err", err)
	}
	defer st.Graph.Close(context.Background())

	graphClient, err := bootstrap.NewGraphClient(st.Graph)
	if err != nil {
		logger.Fatal("Failed to create graph client", "err", err)
	}

	// Init rabbitmq
	conn := queue.Init()
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()

	if err := queue.SetupQueues(ch, queue.Queues); err != nil {
		logger.Fatal("Failed to declare queues", "err", err)
	}

	// Imports are serialized per dataset through Postgres leases when the
	// pgx adapter is in use.
	var locker importer.Locker
	if st.Pool != nil {
		locker = leaselock.New(st.Pool)
	}
	imp, err := importer.NewImporter(importer.NewImporterParams{
		Graph:    graphClient,
		Locker:   locker,
		Parallel: util.GetEnvInt("IMPORT_PARALLEL", 4),
		Retries:  util.GetEnvInt("IMPORT_RETRIES", 3),
		Backoff:  util.GetEnvDuration("IMPORT_BACKOFF", 500*time.Millisecond),
	})
	if err != nil {
		logger.Fatal("Failed to create importer", "err", err)
	}

	handler := &queue.Handler{
		Graph:     graphClient,
		Importer:  imp,
		Publisher: queue.ChannelPublisher{Ch: ch},
	}
	imp.OnPartial = handler.RequestDerive

	bucket, err := storage.NewBucketFromEnv(ctx)
	if err != nil {
		logger.Fatal("Failed to create S3 client", "err", err)
	}
	switch dir := util.GetEnv("IMPORT_DIR"); {
	case bucket != nil:
		handler.Source = bucket
	case dir != "":
		handler.Source = importer.DirSource{Root: dir}
	default:
		logger.Warn("Neither AWS_BUCKET nor IMPORT_DIR is set, import messages will be retried until dead-lettered")
	}

	// Create a single consumer channel with prefetch=1
	// This ensures only ONE message is delivered at a time across all queues
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

	logger.Info("Listening for messages", "adapter", st.Adapter)

	go func() {
		for {
			select {
			case <-ctx.Done():
				logger.Info("Stopping message processor")
				return
			case qm := <-messageChan:
				start := time.Now()
				logger.Debug("Received message", "queue", qm.queueName)

				if err := handler.Process(ctx, qm.queueName, qm.msg.Body); err != nil {
					logger.Error("Error processing message", "queue", qm.queueName, "err", err)
					target := queue.HandleFailure(ctx, ch, qm.msg, qm.queueName)
					metrics.QueueMessages.WithLabelValues(qm.queueName, queue.FailureStatus(qm.queueName, target)).Inc()
					continue
				}

				if err := qm.msg.Ack(false); err != nil {
					logger.Error("Failed to ack message", "err", err)
				}
				metrics.QueueMessages.WithLabelValues(qm.queueName, "ok").Inc()
				logger.Info("Message processed", "queue", qm.queueName, "duration", time.Since(start))
			}
		}
	}()

	<-ctx.Done()
	logger.Info("Shutdown signal received, exiting...")
}
