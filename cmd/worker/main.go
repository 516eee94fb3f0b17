package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"podforge/internal/config"
	"podforge/internal/gateway"
	"podforge/internal/pipeline"
	"podforge/internal/queue"
	"podforge/internal/realtime"
	"podforge/internal/speech"
	"podforge/internal/storage"
	"podforge/internal/store"
	"podforge/internal/telemetry"
	workerproc "podforge/internal/worker"
)

func main() {
	cfg := config.Load()

	logger, closeLog := config.SetupLogger(cfg.LogFile, config.ParseLevel(cfg.LogLevel))
	defer func() { _ = closeLog() }()
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		logger.Error("migrations", "error", err)
		os.Exit(1)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	st.SetNotifier(realtime.NewPublisher(rdb))

	q := queue.NewRedisQueue(rdb, queue.Options{
		VisibilityTimeout: cfg.VisibilityTimeout,
		DLQName:           cfg.DLQName,
	})

	gw, err := gateway.New(ctx, cfg)
	if err != nil {
		logger.Error("init gateway", "error", err)
		os.Exit(1)
	}
	defer func() { _ = gw.Close() }()
	tts := gateway.NewTTSClient(cfg)
	images := gateway.NewImageClient(cfg)

	uploader, err := storage.NewUploader(ctx, cfg)
	if err != nil {
		logger.Error("init uploader", "error", err)
		os.Exit(1)
	}
	synth := speech.NewSynthesizer(tts, uploader, cfg.SpeechChunkSize, cfg.SpeechMaxScriptSize, cfg.SpeechBytesPerSec, logger)

	curator := pipeline.NewCurator(gw, logger)
	writer := pipeline.NewWriter(gw)
	orch := pipeline.NewOrchestrator(st, st, curator, writer, q, logger)
	classifier := pipeline.NewClassifier(gw, st, logger)

	processor := workerproc.NewProcessor(cfg, q, logger)
	processor.RegisterHandler(queue.TaskPodCreate, workerproc.NewCreateHandler(orch, logger).Handle)
	processor.RegisterHandler(queue.TaskPodAudio, workerproc.NewAudioHandler(st, synth, logger).Handle)
	processor.RegisterHandler(queue.TaskPodCover, workerproc.NewCoverHandler(st, images, uploader, logger).Handle)
	processor.RegisterHandler(queue.TaskPodEmbed, workerproc.NewEmbedHandler(st, gw, logger).Handle)
	processor.RegisterHandler(queue.TaskDraftClassify, workerproc.NewClassifyHandler(classifier, logger).Handle)

	// Exhausted audio and cover tasks leave an explicit failed marker so the
	// record does not look like it is rendering forever.
	processor.OnDeadLetter(func(ctx context.Context, task queue.Task) {
		if task.PodID == "" {
			return
		}
		if task.Type == queue.TaskPodAudio || task.Type == queue.TaskPodCover {
			if err := st.MarkPodProcessingFailed(ctx, task.PodID); err != nil {
				logger.Error("mark pod failed", "pod_id", task.PodID, "error", err)
			}
		}
	})

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()

	logger.Info("worker started",
		"visibility", cfg.VisibilityTimeout,
		"backoff_initial", cfg.BackoffInitial,
		"max_attempts", cfg.MaxAttempts)
	if err := processor.Run(ctx); err != nil {
		logger.Info("worker stopped", "reason", err)
	}
}
