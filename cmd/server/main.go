package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/sgunadhya/oxidesk/internal/api"
	"github.com/sgunadhya/oxidesk/internal/blob"
	"github.com/sgunadhya/oxidesk/internal/bus"
	"github.com/sgunadhya/oxidesk/internal/config"
	"github.com/sgunadhya/oxidesk/internal/jobs"
	"github.com/sgunadhya/oxidesk/internal/notify"
	"github.com/sgunadhya/oxidesk/internal/pkg/logger"
	"github.com/sgunadhya/oxidesk/internal/service/agentsvc"
	"github.com/sgunadhya/oxidesk/internal/service/automation"
	"github.com/sgunadhya/oxidesk/internal/service/availability"
	"github.com/sgunadhya/oxidesk/internal/service/conversation"
	"github.com/sgunadhya/oxidesk/internal/service/message"
	"github.com/sgunadhya/oxidesk/internal/service/sla"
	"github.com/sgunadhya/oxidesk/internal/store"
	"github.com/sgunadhya/oxidesk/internal/store/memory"
	"github.com/sgunadhya/oxidesk/internal/store/postgres"
	"github.com/sgunadhya/oxidesk/internal/webhook"
)

// checkPortAvailable fails fast when a stale process still holds the port.
func checkPortAvailable(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("address %s is already in use: %w", addr, err)
	}
	ln.Close()
	return nil
}

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

	addr := cfg.Server.Addr()
	if err := checkPortAvailable(addr); err != nil {
		logger.Error("startup check failed", "error", err)
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
	if cfg.Redis.Addr != "" {
		// The server takes no locks; the ping only surfaces a bad address
		// at startup instead of later in the worker.
		rc := redis.NewClient(&redis.Options{
			Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := rc.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, continuing without it", "addr", cfg.Redis.Addr, "error", err)
		}
		cancel()
		rc.Close()
	}

	b := bus.New()
	defer b.Close()
	q := jobs.NewQueue(st)

	hub := notify.NewHub()
	notifier := notify.NewNotifier(st, hub)
	notifier.Attach(b)

	convs := conversation.New(st, b)
	msgs := message.New(st, b, q, hub)
	avail := availability.New(st, b)
	agents := agentsvc.New(st, b, avail)

	eng := automation.NewEngine(st, convs)
	eng.Attach(b)
	slas := sla.New(st, b)
	slas.Attach(b)
	disp := webhook.NewDispatcher(st, q)
	disp.Attach(b)

	srv := api.NewServer(api.Services{
		Conversations: convs,
		Messages:      msgs,
		Agents:        agents,
		Availability:  avail,
		Automation:    eng,
		SLA:           slas,
		Webhooks:      disp,
		Deliverer:     webhook.NewDeliverer(st, q, nil),
		Notifier:      notifier,
		Hub:           hub,
		Blobs:         blobs,
	}, cfg.Server.CORSOrigins)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", addr)
		errCh <- srv.ListenAndServe(addr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown failed", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}
