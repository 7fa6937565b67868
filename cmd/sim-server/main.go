package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"housesim/internal/capability"
	"housesim/internal/config"
	"housesim/internal/db"
	"housesim/internal/httpapi"
	"housesim/internal/llm"
	"housesim/internal/mqtt"
	"housesim/internal/planner"
	"housesim/internal/rng"
	"housesim/internal/scenario"
	"housesim/internal/scheduler"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	cfg, err := config.LoadSimServerConfig()
	if err != nil {
		logger.Error("load config failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	doc, err := scenario.LoadOrDefault(cfg.ScenarioPath)
	if err != nil {
		logger.Error("load scenario failed", "path", cfg.ScenarioPath, "error", err)
		os.Exit(1)
	}
	seed := doc.Seed
	if seed == 0 {
		seed = rng.DefaultSeed
	}
	if cfg.SeedSet {
		seed = cfg.Seed
	}
	src := rng.New(seed)
	world, err := scenario.Build(doc, src, cfg.Phases)
	if err != nil {
		logger.Error("build world failed", "error", err)
		os.Exit(1)
	}
	logger.Info("scenario loaded", "name", doc.Name, "seed", seed, "rooms", len(world.Rooms), "devices", len(world.Devices))

	var provider llm.Provider
	if cfg.PlannerEnabled {
		provider, err = llm.NewProvider(llm.Config{
			Provider:         strings.ToLower(cfg.LLMProvider),
			OllamaBaseURL:    cfg.OllamaBaseURL,
			OpenAIBaseURL:    cfg.OpenAIBaseURL,
			OpenAIAPIKey:     cfg.OpenAIAPIKey,
			AnthropicBaseURL: cfg.AnthropicBaseURL,
			AnthropicAPIKey:  cfg.AnthropicAPIKey,
		})
		if err != nil {
			logger.Error("init llm provider failed", "error", err)
			os.Exit(1)
		}
	}
	plan := planner.New(planner.Config{
		Enabled:     cfg.PlannerEnabled,
		Model:       cfg.LLMModel,
		Temperature: cfg.LLMTemperature,
		NumPredict:  cfg.LLMNumPredict,
		Timeout:     cfg.LLMTimeout,
		MaxRetries:  cfg.LLMMaxRetries,
		Backoff:     cfg.LLMBackoff,
	}, provider, logger)
	logger.Info("planner ready",
		"enabled", cfg.PlannerEnabled,
		"provider", cfg.LLMProvider,
		"model", cfg.LLMModel,
		"worst_case_latency", plan.WorstCaseLatency(),
	)

	schedCfg := scheduler.DefaultConfig()
	schedCfg.Interval = cfg.TickInterval
	schedCfg.TickSeconds = cfg.TickSeconds
	schedCfg.PlanningPhases = cfg.Phases
	schedCfg.MaxEvents = cfg.MaxEvents
	sched := scheduler.New(schedCfg, world, src, plan, logger)

	stream := httpapi.NewEventStream(logger)
	sched.AddSink(stream)

	eventLog, closeLog, err := openEventLog(ctx, cfg)
	if err != nil {
		logger.Error("open event log failed", "error", err)
		os.Exit(1)
	}
	defer closeLog()
	var runID string
	if eventLog != nil {
		run, err := eventLog.CreateRun(ctx, doc.Name, seed)
		if err != nil {
			logger.Error("create run failed", "error", err)
			os.Exit(1)
		}
		runID = run.ID
		sched.AddSink(db.Recorder{Log: eventLog, RunID: runID})
		logger.Info("recording run", "run_id", runID)
	}

	var directory *capability.Directory
	if cfg.MQTTEnabled {
		directory = capability.NewDirectory(cfg.CapabilityTTL)
		hub := mqtt.NewHub(mqtt.HubConfig{
			BrokerURL:   cfg.MQTTBrokerURL,
			ClientID:    cfg.MQTTClientID,
			Username:    cfg.MQTTUsername,
			Password:    cfg.MQTTPassword,
			TopicPrefix: cfg.MQTTTopicPrefix,
		}, directory, sched, logger)
		if err := hub.Start(ctx); err != nil {
			logger.Error("start mqtt hub failed", "error", err)
			os.Exit(1)
		}
		sched.SetCatalog(directory)
		sched.AddSink(hub)
	}

	if cfg.RulePackDir != "" {
		watcher := scenario.NewRuleWatcher(cfg.RulePackDir, sched.SetRulePacks, logger)
		go func() {
			if err := watcher.Run(ctx); err != nil {
				logger.Error("rule watcher stopped", "dir", cfg.RulePackDir, "error", err)
			}
		}()
	}

	go sched.Run(ctx)
	if cfg.AutoStart {
		sched.Start()
	}

	api := httpapi.New(httpapi.Options{
		Sim:       sched,
		Planner:   plan,
		Directory: directory,
		EventLog:  eventLog,
		RunID:     runID,
		Stream:    stream,
		Logger:    logger,
	})
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("sim server started", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("received shutdown signal")
	case <-ctx.Done():
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
}

// openEventLog returns a nil log when no persistence is configured.
func openEventLog(ctx context.Context, cfg config.SimServerConfig) (db.EventLog, func(), error) {
	switch {
	case cfg.DBDSN != "":
		store, err := db.New(ctx, cfg.DBDSN)
		if err != nil {
			return nil, nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, nil, err
		}
		return store, store.Close, nil
	case cfg.SQLitePath != "":
		store, err := db.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return nil, func() {}, nil
	}
}
