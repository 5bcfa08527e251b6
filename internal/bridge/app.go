// Package bridge initializes and runs the event-bridge daemon: the upload
// relay, the cascading delete consumer, the upload ingest consumer, and the
// trash purge scheduler, each on its own goroutine over shared broker,
// catalog, and object-store clients.
package bridge

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mstolbov/cloudfiles/internal/bridge/broker"
	"github.com/mstolbov/cloudfiles/internal/bridge/config"
	"github.com/mstolbov/cloudfiles/internal/bridge/deletion"
	"github.com/mstolbov/cloudfiles/internal/bridge/ingest"
	"github.com/mstolbov/cloudfiles/internal/bridge/migrations"
	"github.com/mstolbov/cloudfiles/internal/bridge/objstore"
	"github.com/mstolbov/cloudfiles/internal/bridge/purge"
	"github.com/mstolbov/cloudfiles/internal/bridge/relay"
	"github.com/mstolbov/cloudfiles/internal/bridge/repositories/nodes"
	"github.com/mstolbov/cloudfiles/internal/dbx"
	"github.com/mstolbov/cloudfiles/internal/logging"
)

type App struct {
	config    *config.Config
	logger    logging.Logger
	db        *sql.DB
	publisher *broker.KafkaPublisher

	relay     *relay.Relay
	deletions *deletion.Consumer
	ingests   *ingest.Consumer
	purges    *purge.Scheduler

	delMessages    *broker.KafkaConsumer
	ingestMessages *broker.KafkaConsumer
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := logging.NewJSONLogger()

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if err := runMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}

	txdb := dbx.NewDB(db)
	repo := nodes.NewPostgresRepository()

	objects, err := objstore.NewClient(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	queue, err := newQueueClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	publisher := broker.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaClientID)

	delMessages := broker.NewKafkaConsumer(cfg.KafkaBrokers, broker.GroupDeletion, broker.TopicDeletionRoot)
	ingestMessages := broker.NewKafkaConsumer(cfg.KafkaBrokers, broker.GroupIngest, broker.TopicFileUploaded)

	sweeper := deletion.NewSweeper(txdb, repo, deletion.DefaultBatchSize, logger)

	return &App{
		config:         cfg,
		logger:         logger,
		db:             db,
		publisher:      publisher,
		relay:          relay.New(queue, publisher, cfg.QueueURL, cfg.S3Bucket, logger),
		deletions:      deletion.NewConsumer(delMessages, publisher, sweeper, cfg.RetryThreshold, logger),
		ingests:        ingest.NewConsumer(ingestMessages, publisher, objects, txdb, repo, logger),
		purges:         purge.NewScheduler(db, repo, objects, cfg.PurgeCronSpec, cfg.RetentionWindow, logger),
		delMessages:    delMessages,
		ingestMessages: ingestMessages,
	}, nil
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, ".")
}

func newQueueClient(ctx context.Context, cfg *config.Config) (*sqs.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.AWSRegion),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AWSAccessKeyID,
			cfg.AWSSecretAccessKey,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}

	return sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.AWSEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.AWSEndpoint)
		}
	}), nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "starting bridge...")
	app.initSignalHandler(cancelFunc)

	if err := broker.WaitForBroker(ctx, app.logger, app.config.KafkaBrokers); err != nil {
		return err
	}

	if err := app.purges.Start(ctx); err != nil {
		return err
	}

	var wg sync.WaitGroup

	wg.Add(3)
	go func() {
		defer wg.Done()
		app.relay.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		app.deletions.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		app.ingests.Run(ctx)
	}()

	wg.Wait()

	app.purges.Stop()
	app.close(ctx)
	return nil
}

func (app *App) close(ctx context.Context) {
	for name, c := range map[string]interface{ Close() error }{
		"deletion consumer": app.delMessages,
		"ingest consumer":   app.ingestMessages,
		"publisher":         app.publisher,
		"db":                app.db,
	} {
		if err := c.Close(); err != nil {
			app.logger.Error(ctx, "close failed", "what", name, "error", err.Error())
		}
	}
}
