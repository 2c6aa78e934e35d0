package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"fraud_scorer/internal/advisory"
	"fraud_scorer/internal/api"
	"fraud_scorer/internal/config"
	"fraud_scorer/internal/discovery"
	"fraud_scorer/internal/logging"
	"fraud_scorer/internal/processor"
	"fraud_scorer/internal/repository"
	"fraud_scorer/internal/repository/memory"
	"fraud_scorer/internal/repository/postgres"
	"fraud_scorer/internal/repository/redis"
	"fraud_scorer/internal/service"
	"fraud_scorer/internal/stream"
	"fraud_scorer/internal/traces"
	"fraud_scorer/pkg/crypto"
	"fraud_scorer/pkg/metrics"
	"fraud_scorer/pkg/validator"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
)

const (
	appName              = "fraud-scorer"
	shutdownStageTimeout = 10 * time.Second
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "score" {
		os.Exit(runScore(os.Args[2:], os.Stdout))
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	logger.Info("Starting application", slog.String("name", appName))

	if err := run(cfg, logger); err != nil {
		logger.Error("Application failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Application shutdown complete")
}

// runScore scores a single event and prints the verdict, using in-process
// stores only.
func runScore(args []string, out io.Writer) int {
	fs := flag.NewFlagSet("score", flag.ContinueOnError)
	event := fs.String("event", "", "transaction JSON to score")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *event == "" {
		fmt.Fprintln(os.Stderr, "usage: scorer score -event '<json>'")
		return 2
	}

	logger := logging.New("warn", "text")
	tx, err := validator.NewTransactionValidator().DecodeBytes([]byte(*event), time.Now())
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid event: %v\n", err)
		return 1
	}

	pipeline := processor.NewScoringPipeline(
		processor.NewVelocityTracker(memory.NewVelocityStore(), 0, 0, logger),
		processor.NewRuleEvaluator(),
		processor.NewHeuristicScorer(nil, nil, 0, logger),
		processor.NewBlender(processor.DefaultPolicy()),
		nil,
		logger,
	)
	verdict := pipeline.ScoreTransaction(context.Background(), tx)

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(api.NewAnalyzeResponse(verdict)); err != nil {
		return 1
	}
	return 0
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := traces.Init(ctx, cfg.OTLPEndpoint, cfg.ServiceName, logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	metricsCollector := metrics.NewMetricsCollector(logger)

	velocityStore, velocityBackend, err := setupVelocityStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	verdicts, verdictBackend, closeVerdicts, err := setupVerdictRepository(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeVerdicts()

	advisor := advisory.NewHTTPAdvisor(advisory.Config{
		Endpoint:         cfg.AdvisoryEndpoint,
		BearerToken:      cfg.AdvisoryToken,
		Timeout:          cfg.AdvisoryTimeout,
		FailureThreshold: cfg.AdvisoryBreakerThreshold,
		OpenDuration:     cfg.AdvisoryBreakerOpen,
	}, logger)
	advisor.Breaker().OnTransition(func(from, to advisory.State) {
		metricsCollector.RecordBreakerTransition(to.String())
		logger.Warn("Advisory circuit state changed",
			slog.String("from", from.String()),
			slog.String("to", to.String()))
	})

	var jitter processor.JitterSource
	if cfg.JitterSeed != 0 {
		jitter = processor.NewSeededJitter(cfg.JitterSeed)
	}

	velocity := processor.NewVelocityTracker(velocityStore, cfg.VelocityWindow, cfg.IdleTTL, logger)
	pipeline := processor.NewScoringPipeline(
		velocity,
		processor.NewRuleEvaluator(),
		processor.NewHeuristicScorer(advisor, jitter, cfg.AdvisoryTimeout, logger),
		processor.NewBlender(cfg.Policy),
		metricsCollector,
		logger,
	)

	hub := service.NewHub(service.DefaultRecentInsights, logger)
	sinks := []service.InsightSink{hub}
	var producer *stream.InsightProducer
	if cfg.KafkaOutputTopic != "" {
		producer = stream.NewInsightProducer(cfg.KafkaBrokers, cfg.KafkaOutputTopic)
		sinks = append(sinks, producer)
	}
	insights := service.NewInsightService(sinks, cfg.InsightWorkers, cfg.InsightQueueSize, logger)
	insights.OnDrop(metricsCollector.RecordInsightDropped)
	scoring := service.NewScoringService(pipeline, verdicts, insights, logger)

	var consumer *stream.Consumer
	var inputTopics []string
	if cfg.KafkaEnabled() {
		topic, err := resolveInputTopic(ctx, cfg, logger)
		if err != nil {
			return err
		}
		inputTopics = []string{topic}
		consumer = stream.NewConsumer(stream.ConsumerConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   topic,
			GroupID: cfg.KafkaGroupID,
		}, stream.NewScoringHandler(validator.NewTransactionValidator(), scoring, logger), logger)

		go func() {
			if err := consumer.Run(ctx); err != nil {
				logger.Error("Consumer stopped", slog.String("error", err.Error()))
			}
		}()
	}

	go velocity.RunSweeper(ctx, cfg.SweepInterval, func(removed int) {
		metricsCollector.RecordSweep(removed)
		if counter, ok := velocityStore.(interface{ Len() int }); ok {
			metricsCollector.SetTrackedFingerprints(counter.Len())
		}
	})

	apiHandler := api.NewAPIHandler(scoring, verdicts, hub, advisor, api.Settings{
		ServiceName:     cfg.ServiceName,
		VelocityWindow:  cfg.VelocityWindow,
		IdleTTL:         cfg.IdleTTL,
		Policy:          cfg.Policy,
		VelocityBackend: velocityBackend,
		VerdictBackend:  verdictBackend,
		AdvisoryTimeout: cfg.AdvisoryTimeout,
		KafkaTopics:     inputTopics,
	}, crypto.NewSigner(cfg.SigningSecret, logger), logger)

	metricsServer := metricsCollector.StartMetricsServer(cfg.MetricsAddr)
	httpServer := startHTTPServer(cfg.HTTPAddr, apiHandler, logger)
	httpServer.RegisterOnShutdown(hub.Close)

	<-ctx.Done()
	logger.Info("Shutdown signal received")

	// Each stage gets its own budget so a slow one cannot starve the rest.
	stage := func(name string, fn func(context.Context) error) {
		stageCtx, cancel := context.WithTimeout(context.Background(), shutdownStageTimeout)
		defer cancel()
		if err := fn(stageCtx); err != nil {
			logger.Error(name+" shutdown failed", slog.String("error", err.Error()))
		}
	}

	stage("HTTP server", httpServer.Shutdown)
	stage("Metrics server", metricsServer.Shutdown)
	if consumer != nil {
		stage("Consumer", func(context.Context) error { return consumer.Close() })
	}
	stage("Insight service", insights.Shutdown)
	if producer != nil {
		stage("Producer", func(context.Context) error { return producer.Close() })
	}
	stage("Metrics collector", metricsCollector.Shutdown)
	stage("Tracing", shutdownTracing)

	return nil
}

func setupVelocityStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repository.VelocityStore, string, error) {
	if len(cfg.RedisAddrs) == 0 {
		return memory.NewVelocityStore(), "memory", nil
	}

	store := redis.NewVelocityStore(redis.NewClient(cfg.RedisAddrs, cfg.RedisPassword), cfg.IdleTTL)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		return nil, "", fmt.Errorf("connect redis %s: %w", strings.Join(cfg.RedisAddrs, ","), err)
	}

	logger.Info("Velocity state in redis", slog.String("addrs", strings.Join(cfg.RedisAddrs, ",")))
	return store, "redis", nil
}

func setupVerdictRepository(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repository.VerdictRepository, string, func(), error) {
	if cfg.DatabaseURL == "" {
		return memory.NewVerdictRepository(), "memory", func() {}, nil
	}

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, "", nil, err
	}
	repo := postgres.NewVerdictRepository(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, "", nil, err
	}

	logger.Info("Verdicts stored in postgres")
	return repo, "postgres", pool.Close, nil
}

func resolveInputTopic(ctx context.Context, cfg *config.Config, logger *slog.Logger) (string, error) {
	if cfg.KafkaInputTopic != "" {
		return cfg.KafkaInputTopic, nil
	}

	stats, err := discovery.NewLister(cfg.KafkaBrokers, logger).ListTopics(ctx)
	if err != nil {
		return "", fmt.Errorf("discover input topic: %w", err)
	}
	top := discovery.TopTopics(stats, 1)
	if len(top) == 0 {
		return "", fmt.Errorf("discover input topic: no fraud-relevant topic among %d", len(stats))
	}

	logger.Info("Input topic discovered", slog.String("topic", top[0]))
	return top[0], nil
}

func startHTTPServer(addr string, apiHandler *api.APIHandler, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()

	apiHandler.RegisterRoutes(mux)

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"name": "%s", "status": "ok"}`, appName)
	})

	server := &http.Server{
		Addr:        addr,
		Handler:     mux,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	return server
}
