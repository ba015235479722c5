package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/OFFIS-RIT/linkgraph/internal/bootstrap"
	"github.com/OFFIS-RIT/linkgraph/internal/queue"
	"github.com/OFFIS-RIT/linkgraph/internal/server"
	"github.com/OFFIS-RIT/linkgraph/internal/server/middleware"
	"github.com/OFFIS-RIT/linkgraph/internal/storage"
	"github.com/OFFIS-RIT/linkgraph/internal/util"
	"github.com/OFFIS-RIT/linkgraph/pkg/logger"

	_ "github.com/lib/pq"
)

func main() {
	util.LoadEnv()
	bootstrap.InitLogger("server")

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

	app := &middleware.App{Graph: graphClient}

	// RabbitMQ is optional; without it re-derivation and imports are not queued.
	if util.GetEnv("RABBITMQ_HOST") != "" {
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
		app.Queue = queue.ChannelPublisher{Ch: ch}
	}

	bucket, err := storage.NewBucketFromEnv(ctx)
	if err != nil {
		logger.Fatal("Failed to create S3 client", "err", err)
	}
	app.Bucket = bucket

	logger.Info("Graph store ready", "adapter", st.Adapter)
	server.Init(ctx, app, util.GetEnvString("PORT", "8080"))
}
