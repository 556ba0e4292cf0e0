package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/sgunadhya/oxidesk/internal/blob"
	"github.com/sgunadhya/oxidesk/internal/bus"
	"github.com/sgunadhya/oxidesk/internal/config"
	"github.com/sgunadhya/oxidesk/internal/email/deliver"
	"github.com/sgunadhya/oxidesk/internal/email/ingest"
	"github.com/sgunadhya/oxidesk/internal/email/provider"
	"github.com/sgunadhya/oxidesk/internal/jobs"
	"github.com/sgunadhya/oxidesk/internal/notify"
	"github.com/sgunadhya/oxidesk/internal/pkg/crypto"
	"github.com/sgunadhya/oxidesk/internal/pkg/distlock"
	"github.com/sgunadhya/oxidesk/internal/pkg/logger"
	"github.com/sgunadhya/oxidesk/internal/service/automation"
	"github.com/sgunadhya/oxidesk/internal/service/availability"
	"github.com/sgunadhya/oxidesk/internal/service/contact"
	"github.com/sgunadhya/oxidesk/internal/service/conversation"
	"github.com/sgunadhya/oxidesk/internal/service/message"
	"github.com/sgunadhya/oxidesk/internal/service/sla"
	"github.com/sgunadhya/oxidesk/internal/store"
	"github.com/sgunadhya/oxidesk/internal/store/memory"
	"github.com/sgunadhya/oxidesk/internal/store/postgres"
	"github.com/sgunadhya/oxidesk/internal/webhook"
)

func openStore(cfg *config.Config) (store.Store, error) {
	if cfg.Database.URL == "" {
		logger.Warn("no database url configured, using in-memory store")
		return memory.New(), nil
	}
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return postgres.New(db), nil
}

func openBlobs(cfg *config.Config) (blob.Store, error) {
	if cfg.Blob.Type == "s3" {
		return blob.NewS3(context.Background(), cfg.Blob.S3Bucket, cfg.Blob.S3Region, cfg.Blob.AWSProfile)
	}
	return blob.NewLocal(cfg.Blob.LocalPath)
}

func main() {
	cfg, err := config.LoadFromEnv("")
	if err != nil {
		logger.Error("load config failed", "error", err)
		os.Exit(1)
	}

	st, err := openStore(cfg)
	if err != nil {
		logger.Error("open store failed", "error", err)
		os.Exit(1)
	}
	blobs, err := openBlobs(cfg)
	if err != nil {
		logger.Error("open blob store failed", "error", err)
		os.Exit(1)
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB,
		})
		defer redisClient.Close()
	} else {
		logger.Warn("no redis configured, sweep locks fall back to store leases")
	}

	var sealer *crypto.Sealer
	if cfg.Security.EncryptionSecret != "" {
		sealer, err = crypto.NewSealer(cfg.Security.EncryptionSecret)
		if err != nil {
			logger.Error("init sealer failed", "error", err)
			os.Exit(1)
		}
	} else {
		logger.Warn("no encryption secret configured, inbox credentials cannot be decrypted")
	}

	b := bus.New()
	defer b.Close()
	q := jobs.NewQueue(st)

	hub := notify.NewHub()
	notifier := notify.NewNotifier(st, hub)
	notifier.Attach(b)

	convs := conversation.New(st, b)
	msgs := message.New(st, b, q, hub)
	contacts := contact.New(st)

	eng := automation.NewEngine(st, convs)
	eng.Attach(b)
	slas := sla.New(st, b)
	slas.Attach(b)
	disp := webhook.NewDispatcher(st, q)
	disp.Attach(b)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := jobs.NewRunner(st, cfg.Jobs.Workers, time.Duration(cfg.Jobs.PollIntervalSeconds)*time.Second)

	var override provider.Provider
	if cfg.Email.Provider == "ses" {
		ses, err := provider.NewSES(ctx, cfg.Email.SESRegion)
		if err != nil {
			logger.Error("init ses provider failed", "error", err)
			os.Exit(1)
		}
		override = ses
	}
	deliver.New(st, msgs, sealer, override).Register(runner)
	webhook.NewDeliverer(st, q, nil).Register(runner)

	if err := runner.Start(ctx); err != nil {
		logger.Error("start job runner failed", "error", err)
		os.Exit(1)
	}
	recovery := jobs.NewRecovery(st, time.Duration(cfg.Jobs.RecoveryIntervalSeconds)*time.Second)
	recovery.Start(ctx)

	proc := ingest.NewProcessor(st, contacts, convs, msgs, blobs)
	poller := ingest.NewPoller(st, proc, sealer, redisClient, cfg.Email.PollInterval())
	poller.Start(ctx)

	slaInterval := time.Duration(cfg.Sweeps.SLAIntervalSeconds) * time.Second
	slaSweep := sla.NewSweeper(st, b, distlock.NewLock(redisClient, st, "sla-sweep", 2*slaInterval), slaInterval)
	slaSweep.Start(ctx)

	availSvc := availability.New(st, b)
	availInterval := time.Duration(cfg.Sweeps.AvailabilityIntervalSeconds) * time.Second
	availSweep := availability.NewSweeper(availSvc, distlock.NewLock(redisClient, st, "availability-sweep", 2*availInterval), availInterval)
	availSweep.Start(ctx)

	logger.Info("worker started",
		"workers", cfg.Jobs.Workers,
		"email_poll_interval", cfg.Email.PollInterval().String())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())

	cancel()
	availSweep.Stop()
	slaSweep.Stop()
	poller.Stop()
	recovery.Stop()
	runner.Stop()

	processed, failed := runner.Stats()
	logger.Info("worker stopped", "jobs_processed", processed, "jobs_failed", failed)
}
