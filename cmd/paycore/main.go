// Command paycore runs the payment-intake and settlement core: the
// snapshot poller, the refund and withdrawal workers, the outbox relay
// and the withdrawal confirmer, all against PostgreSQL, Redis and
// RabbitMQ.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"github.com/quantaflow/paycore/config"
	"github.com/quantaflow/paycore/gateway"
	"github.com/quantaflow/paycore/intent"
	intentpg "github.com/quantaflow/paycore/intent/postgres"
	"github.com/quantaflow/paycore/ledger"
	ledgerpg "github.com/quantaflow/paycore/ledger/postgres"
	"github.com/quantaflow/paycore/log"
	"github.com/quantaflow/paycore/outbox"
	outboxpg "github.com/quantaflow/paycore/outbox/postgres"
	"github.com/quantaflow/paycore/postgres"
	"github.com/quantaflow/paycore/queue"
	"github.com/quantaflow/paycore/snapshot"
	"github.com/quantaflow/paycore/withdrawal"
	withdrawalpg "github.com/quantaflow/paycore/withdrawal/postgres"
	zaplog "github.com/quantaflow/paycore/zap"
)

const outboxExchange = "paycore.events"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "paycore: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}

	logger, err := zaplog.New(level)
	if err != nil {
		return err
	}

	defer func() { _ = logger.Sync(context.Background()) }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage.
	pgClient := &postgres.Client{
		ConnectionStringPrimary: cfg.PostgresPrimaryDSN,
		ConnectionStringReplica: cfg.PostgresReplicaDSN,
		MigrationsPath:          cfg.MigrationsPath,
		Logger:                  logger,
	}
	if err := pgClient.Connect(ctx); err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}

	defer pgClient.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})

	defer func() { _ = redisClient.Close() }()

	// Broker.
	amqpConn, err := amqp.Dial(cfg.AMQPURL)
	if err != nil {
		return fmt.Errorf("connect rabbitmq: %w", err)
	}

	defer func() { _ = amqpConn.Close() }()

	jobChannel, err := amqpConn.Channel()
	if err != nil {
		return fmt.Errorf("open job channel: %w", err)
	}

	relayChannel, err := amqpConn.Channel()
	if err != nil {
		return fmt.Errorf("open relay channel: %w", err)
	}

	// Repositories.
	outboxRepo, err := outboxpg.NewRepository(pgClient)
	if err != nil {
		return err
	}

	receipts, err := outboxpg.NewReceiptStore(pgClient)
	if err != nil {
		return err
	}

	intentRepo, err := intentpg.NewRepository(pgClient)
	if err != nil {
		return err
	}

	ledgerRepo, err := ledgerpg.NewRepository(pgClient)
	if err != nil {
		return err
	}

	withdrawalRepo, err := withdrawalpg.NewRepository(pgClient, outboxRepo)
	if err != nil {
		return err
	}

	// External collaborators.
	feedClient, err := gateway.NewClient(cfg.FeedBaseURL)
	if err != nil {
		return err
	}

	walletClient, err := gateway.NewClient(cfg.WalletBaseURL)
	if err != nil {
		return err
	}

	feed := gateway.NewSnapshotFeed(feedClient)
	wallet := gateway.NewWalletConnector(walletClient)

	// Jobs.
	jobs, err := queue.NewAMQP(jobChannel, receipts, logger,
		queue.WithPrefetch(cfg.QueueWorkers))
	if err != nil {
		return fmt.Errorf("build job queue: %w", err)
	}

	// Services.
	refunder := snapshot.NewQueueRefunder(jobs)
	ledgerSvc := ledger.NewService(ledgerRepo, logger)
	intentSvc := intent.NewService(intentRepo, jobs, refunder, logger)
	processor := withdrawal.NewProcessor(withdrawalRepo, ledgerSvc, wallet, wallet, logger)

	cursors := snapshot.NewRedisCursorStore(redisClient)

	poller, err := snapshot.NewPoller(feed, cursors, refunder, intentSvc, logger,
		snapshot.WithPollInterval(cfg.PollInterval))
	if err != nil {
		return fmt.Errorf("build poller: %w", err)
	}

	if err := relayChannel.ExchangeDeclare(outboxExchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare outbox exchange: %w", err)
	}

	publisher, err := outbox.NewAMQPPublisher(relayChannel, outboxExchange)
	if err != nil {
		return fmt.Errorf("build outbox publisher: %w", err)
	}

	relay, err := outbox.NewRelay(outboxRepo, publisher, logger,
		outbox.WithInterval(cfg.RelayInterval))
	if err != nil {
		return fmt.Errorf("build outbox relay: %w", err)
	}

	confirmer := withdrawal.NewConfirmer(withdrawalRepo, wallet, logger,
		withdrawal.WithConfirmInterval(cfg.ConfirmInterval),
		withdrawal.WithMinConfirmations(cfg.MinConfirmations))

	// Consumers.
	if err := jobs.Consume(snapshot.RefundJobType, snapshot.NewRefundHandler(wallet)); err != nil {
		return fmt.Errorf("consume refund jobs: %w", err)
	}

	if err := jobs.Consume(withdrawal.ProcessJobType, processor.HandleJob); err != nil {
		return fmt.Errorf("consume withdrawal jobs: %w", err)
	}

	// Loops.
	if err := poller.Start(ctx); err != nil {
		return fmt.Errorf("start poller: %w", err)
	}

	if err := relay.Start(ctx); err != nil {
		return fmt.Errorf("start relay: %w", err)
	}

	if err := confirmer.Start(ctx); err != nil {
		return fmt.Errorf("start confirmer: %w", err)
	}

	logger.Log(ctx, log.LevelInfo, "paycore started",
		log.String("feed", cfg.FeedBaseURL),
		log.String("wallet", cfg.WalletBaseURL))

	<-ctx.Done()

	logger.Log(context.Background(), log.LevelInfo, "shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	var shutdownErr error

	for _, stopFn := range []func(context.Context) error{
		poller.Shutdown,
		relay.Shutdown,
		confirmer.Shutdown,
	} {
		if err := stopFn(shutdownCtx); err != nil && shutdownErr == nil {
			shutdownErr = err
		}
	}

	return shutdownErr
}
