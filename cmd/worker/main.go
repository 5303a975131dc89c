package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/email-verifier/internal/config"
	"github.com/ignite/email-verifier/internal/dnsx"
	"github.com/ignite/email-verifier/internal/infra"
	"github.com/ignite/email-verifier/internal/pkg/distlock"
	"github.com/ignite/email-verifier/internal/queue"
	"github.com/ignite/email-verifier/internal/ratelimit"
	"github.com/ignite/email-verifier/internal/repository/postgres"
	"github.com/ignite/email-verifier/internal/reputation"
	"github.com/ignite/email-verifier/internal/service/verification"
	"github.com/ignite/email-verifier/internal/smtppool"
	"github.com/ignite/email-verifier/internal/smtpprobe"
	"github.com/ignite/email-verifier/internal/worker"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	log.Println("Starting verification worker...")

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Database.URL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer pingCancel()
	if err := db.PingContext(pingCtx); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}
	log.Println("Connected to database")

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		log.Fatalf("Failed to parse Redis URL: %v", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		log.Fatalf("Failed to ping Redis: %v", err)
	}
	log.Println("Connected to Redis")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Persistence and services.
	jobs := postgres.NewJobRepo(db)
	results := postgres.NewResultRepo(db)
	history := postgres.NewHistoryRepo(db)
	repRepo := postgres.NewReputationRepo(db)

	jobQueue := queue.New(redisClient)
	svc := verification.NewService(jobs, results, history, jobQueue)

	repStore := reputation.NewStore(redisClient)
	snapLock := distlock.NewRedisLock(redisClient, "verifier:lock:reputation-flush", time.Minute)
	snapshotter := reputation.NewSnapshotter(repStore, repRepo, snapLock, 5*time.Minute)
	go snapshotter.Run(ctx)

	// Probe plumbing.
	poolCfg := smtppool.Config{
		ConnectTimeout: cfg.SMTP.ConnectTimeout(),
		CommandTimeout: cfg.SMTP.CommandTimeout(),
		MaxPerHost:     cfg.SMTP.MaxConnsPerHost,
		IdleTimeout:    cfg.SMTP.IdleTimeout(),
	}
	if cfg.SMTP.ProxyURL != "" {
		dial, err := smtppool.DialerFromProxy(cfg.SMTP.ProxyURL)
		if err != nil {
			log.Fatalf("Failed to configure SMTP proxy: %v", err)
		}
		poolCfg.Dial = dial
		log.Println("SMTP egress via SOCKS5 proxy")
	}
	connPool := smtppool.New(poolCfg)
	defer connPool.Close()

	prober := smtpprobe.New(connPool, smtpprobe.Config{
		HeloDomain: cfg.SMTP.HeloDomain,
		MailFrom:   cfg.SMTP.MailFrom,
		Ports:      cfg.SMTP.Ports,
	})

	limiter := ratelimit.New(redisClient, ratelimit.Config{
		Capacity:         cfg.RateLimit.Capacity,
		RefillRate:       cfg.RateLimit.RefillPerSecond,
		BreakerWindow:    cfg.RateLimit.BreakerWindow(),
		BreakerThreshold: cfg.RateLimit.BreakerThreshold,
		BreakerOpenFor:   cfg.RateLimit.BreakerOpenFor(),
		GlobalRPS:        cfg.RateLimit.GlobalRequestsPerSecond,
	})

	dispatcher := worker.NewDispatcher(prober, limiter, worker.DispatcherConfig{
		BatchSize:    cfg.Worker.BatchSize,
		BatchMaxWait: cfg.Worker.BatchMaxWait(),
	})
	dispatcher.Start(ctx)

	// Pipeline stages.
	resolver := dnsx.NewResolver(
		dnsx.WithTimeout(cfg.DNS.Timeout()),
		dnsx.WithCacheSize(cfg.DNS.CacheSize),
	)
	infraProber := infra.NewProber(
		infra.WithWebTimeout(cfg.Infra.WebTimeout()),
		infra.WithTLSTimeout(cfg.Infra.TLSTimeout()),
	)
	fingerprinter := infra.NewFingerprinter(
		infra.WithFingerprintTimeout(cfg.Infra.FingerprintTimeout()),
	)

	pipeline := worker.NewPipeline(
		resolver, infraProber, fingerprinter, dispatcher,
		svc, repStore, jobQueue,
		worker.PipelineConfig{
			GreylistRetries: cfg.Worker.GreylistRetries,
			GreylistDelay:   cfg.Worker.GreylistDelay(),
			AddressBudget:   cfg.Worker.AddressBudget(),
		},
	)

	pool := worker.New(jobQueue, pipeline, svc, worker.Config{
		Concurrency: cfg.Worker.Concurrency,
		SleepEmpty:  cfg.Worker.SleepEmpty(),
	})
	pool.Start(ctx)
	log.Printf("Worker %s running", pool.WorkerID())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down worker...")
	cancel()
	pool.Stop()
	dispatcher.Stop()

	// Flush reputation counters touched since the last tick.
	flushCtx, flushCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer flushCancel()
	if err := snapshotter.Flush(flushCtx); err != nil {
		log.Printf("Final reputation flush: %v", err)
	}

	log.Println("Worker stopped")
}
