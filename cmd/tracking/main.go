package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	_ "github.com/lib/pq"

	"github.com/ignite/dispatch-engine/internal/audit"
	"github.com/ignite/dispatch-engine/internal/config"
	"github.com/ignite/dispatch-engine/internal/events"
	"github.com/ignite/dispatch-engine/internal/pkg/logger"
	"github.com/ignite/dispatch-engine/internal/store/postgres"
	"github.com/ignite/dispatch-engine/internal/tracking"
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
	log := logger.With("tracking-service")

	codec := tracking.NewTokenCodec(cfg.Tracking.SigningKey)

	var pub tracking.Publisher
	var db *sql.DB
	if cfg.SQS.Enabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(cfg.SQS.Region))
		if err != nil {
			log.Error("aws config load failed", "error", err.Error())
			os.Exit(1)
		}
		pub = tracking.NewSQSPublisher(sqs.NewFromConfig(awsCfg), cfg.SQS.QueueURL)
	} else {
		// Without a queue the endpoints apply events directly
		db, err = sql.Open("postgres", cfg.Database.URL)
		if err != nil {
			log.Error("database open failed", "error", err.Error())
			os.Exit(1)
		}
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		defer db.Close()

		processor := events.NewProcessor(
			postgres.NewCampaignStore(db),
			postgres.NewRecipientStore(db),
			postgres.NewSendRecordStore(db),
			audit.NewPostgresRecorder(db),
		)
		pub = tracking.NewInProcPublisher(processor)
	}

	handler := tracking.NewHandler(codec, pub, cfg.Tracking.HomeURL)
	addr := fmt.Sprintf("%s:%d", cfg.Server.GetHost(), cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler.Routes(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("tracking service listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("listen failed", "error", err.Error())
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down tracking service")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn("shutdown error", "error", err.Error())
	}
}
