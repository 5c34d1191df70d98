package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/dispatch-engine/internal/audience"
	"github.com/ignite/dispatch-engine/internal/audit"
	"github.com/ignite/dispatch-engine/internal/config"
	"github.com/ignite/dispatch-engine/internal/dispatch"
	"github.com/ignite/dispatch-engine/internal/events"
	"github.com/ignite/dispatch-engine/internal/metrics"
	"github.com/ignite/dispatch-engine/internal/personalize"
	"github.com/ignite/dispatch-engine/internal/pkg/logger"
	"github.com/ignite/dispatch-engine/internal/ratelimit"
	"github.com/ignite/dispatch-engine/internal/scheduler"
	"github.com/ignite/dispatch-engine/internal/store/postgres"
	"github.com/ignite/dispatch-engine/internal/tracking"
	"github.com/ignite/dispatch-engine/internal/transport"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		logger.Error("config load failed", "error", err.Error())
		os.Exit(1)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	if cfg.Logging.RedactEmail != nil {
		logger.SetRedact(*cfg.Logging.RedactEmail)
	}
	log := logger.With("dispatcher")

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Error("database open failed", "error", err.Error())
		os.Exit(1)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	defer db.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	campaigns := postgres.NewCampaignStore(db)
	recipients := postgres.NewRecipientStore(db)
	lists := postgres.NewListStore(db)
	identities := postgres.NewIdentityStore(db)
	records := postgres.NewSendRecordStore(db)

	codec := tracking.NewTokenCodec(cfg.Tracking.SigningKey)
	links := tracking.NewURLBuilder(codec, cfg.Tracking.BaseURL)
	renderer := personalize.NewEngine(links)
	resolver := audience.NewResolver(recipients, lists)
	limiter := ratelimit.NewLimiter(redisClient)
	aggregator := metrics.NewAggregator(campaigns, records)
	auditRec := audit.NewPostgresRecorder(db)

	var sesSender *transport.SESSender
	if cfg.SES.AccessKey != "" && cfg.SES.SecretKey != "" {
		sesSender, err = transport.NewSESSender(cfg.SES)
		if err != nil {
			log.Error("SES sender init failed", "error", err.Error())
			os.Exit(1)
		}
	}
	var platformSender *transport.SMTPSender
	if cfg.Platform.SMTPHost != "" {
		platformSender = transport.NewPlatformSender(cfg.Platform)
	}
	senders := transport.NewFactory(sesSender, platformSender)

	engine := dispatch.NewEngine(campaigns, recipients, identities, records,
		resolver, renderer, links, limiter, senders, aggregator, auditRec, cfg.Dispatch)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.SQS.Enabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.SQS.Region))
		if err != nil {
			log.Error("aws config load failed", "error", err.Error())
			os.Exit(1)
		}
		processor := events.NewProcessor(campaigns, recipients, records, auditRec)
		consumer := tracking.NewSQSConsumer(sqs.NewFromConfig(awsCfg), cfg.SQS, processor)
		go consumer.Run(ctx)
	}

	sched := scheduler.New(campaigns, engine, cfg.Dispatch.SchedulerTick())
	log.Info("dispatcher started")
	sched.Run(ctx)
	log.Info("dispatcher stopped")
}
