package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/NikhilOO7/llm-bias-analyzer/config"
	"github.com/NikhilOO7/llm-bias-analyzer/internal/analysis"
	"github.com/NikhilOO7/llm-bias-analyzer/internal/bias"
	"github.com/NikhilOO7/llm-bias-analyzer/internal/clients"
	"github.com/NikhilOO7/llm-bias-analyzer/internal/dashboard"
	"github.com/NikhilOO7/llm-bias-analyzer/internal/db"
	"github.com/NikhilOO7/llm-bias-analyzer/internal/finetune"
	"github.com/NikhilOO7/llm-bias-analyzer/internal/httpserver"
	"github.com/NikhilOO7/llm-bias-analyzer/internal/monitoring"
	"github.com/NikhilOO7/llm-bias-analyzer/internal/prediction"
	"github.com/NikhilOO7/llm-bias-analyzer/internal/registry"
	"github.com/NikhilOO7/llm-bias-analyzer/internal/report"
	"github.com/NikhilOO7/llm-bias-analyzer/internal/sentiment"
	"github.com/NikhilOO7/llm-bias-analyzer/internal/storage"
)

// App owns every long lived component of the analyzer. Build it once per
// process and Close it on the way out.
type App struct {
	Config     config.Config
	HF         *clients.HuggingFaceClient
	Registry   *registry.Registry
	Logs       db.LogStore
	Analyzer   *analysis.Orchestrator
	Dashboard  *dashboard.Aggregator
	FineTune   *finetune.Runner
	Evaluator  *finetune.Evaluator
	Reports    *report.Generator
	Alerts     *monitoring.AlertHub
	AlertWatch *monitoring.BiasAlertMonitor
	Healthy    *atomic.Bool

	closers []func(ctx context.Context) error
	once    sync.Once
}

func Build(ctx context.Context, cfg config.Config) (*App, error) {
	a := &App{Config: cfg, Healthy: &atomic.Bool{}}
	a.Healthy.Store(true)

	if err := a.build(ctx); err != nil {
		if closeErr := a.Close(context.Background()); closeErr != nil {
			slog.Warn("[App] Cleanup after failed build", slog.String("error", closeErr.Error()))
		}
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Config
	a.HF = clients.NewHuggingFaceClient(cfg.HuggingFace)

	var openAI *clients.OpenAIClient
	if cfg.OpenAIKey != "" {
		c, err := clients.NewOpenAIClient(cfg.OpenAIKey)
		if err != nil {
			return err
		}
		openAI = c
	}

	specs, err := modelSpecs(cfg.ModelsFile)
	if err != nil {
		return err
	}
	a.Registry, err = registry.New(specs, prediction.NewBackendFactory(a.HF, openAI))
	if err != nil {
		return err
	}

	a.Logs, err = a.openLogStore(ctx)
	if err != nil {
		return err
	}

	artifacts, err := a.openArtifactStore(ctx)
	if err != nil {
		return err
	}

	jobs, err := a.openJobStore()
	if err != nil {
		return err
	}

	engineOpts, err := a.toxicityOptions()
	if err != nil {
		return err
	}
	detector := bias.NewEngine(sentiment.NewVaderScorer(), engineOpts...)
	adapter := prediction.NewAdapter()

	a.Analyzer = analysis.NewOrchestrator(a.Registry, adapter, detector, a.Logs)
	a.Dashboard = dashboard.NewAggregator(a.Logs)
	a.Reports = report.NewGenerator(a.Logs, artifacts)

	reference := finetune.NewDatasetSampler(a.HF, cfg.ReferenceDataset, cfg.ReferenceConfig)
	a.FineTune = finetune.NewRunner(a.Registry, a.Logs, reference, artifacts, jobs, finetune.RunnerConfig{
		Train:         finetune.DefaultTrainConfig(),
		ReferenceSize: cfg.ReferenceSampleSize,
	})
	a.closers = append(a.closers, a.FineTune.Shutdown)
	a.Evaluator = finetune.NewEvaluator(a.Registry, adapter, detector, artifacts)

	a.Alerts = monitoring.NewAlertHub()
	a.AlertWatch = monitoring.NewBiasAlertMonitor(a.Logs, a.Alerts)

	slog.Info("[App] Components ready",
		slog.Int("models", len(a.Registry.Names())),
		slog.String("log_store", cfg.LogStore),
		slog.String("job_store", cfg.JobStore),
		slog.String("artifact_store", cfg.ArtifactStore),
		slog.String("toxicity", cfg.Toxicity.Backend))
	return nil
}

func modelSpecs(path string) ([]registry.ModelSpec, error) {
	if path == "" {
		return registry.DefaultSpecs(), nil
	}
	return registry.LoadSpecs(path)
}

func (a *App) openLogStore(ctx context.Context) (db.LogStore, error) {
	store, err := OpenLogStore(ctx, a.Config)
	if err != nil {
		return nil, err
	}

	if a.Config.Kafka.Broker != "" {
		publisher, err := clients.NewAuditPublisher(a.Config.Kafka)
		if err != nil {
			store.Close(ctx)
			return nil, err
		}
		store = db.NewPublishingStore(store, publisher)
	}

	a.closers = append(a.closers, store.Close)
	return store, nil
}

// OpenLogStore connects the audit log backend named by cfg.LogStore.
func OpenLogStore(ctx context.Context, cfg config.Config) (db.LogStore, error) {
	switch cfg.LogStore {
	case "memory":
		return db.NewMemoryStore(), nil
	case "dynamodb":
		client, err := clients.NewDynamoDBClient(ctx, cfg.AWS)
		if err != nil {
			return nil, err
		}
		dynamo := db.NewDynamoDBStore(client, cfg.AWS.Table)
		if err := dynamo.EnsureTable(ctx); err != nil {
			return nil, err
		}
		return dynamo, nil
	case "mongo":
		database, err := clients.NewMongoDatabase(ctx, cfg.Mongo)
		if err != nil {
			return nil, err
		}
		return db.NewMongoStore(database), nil
	case "sqlite", "mysql":
		gdb, err := db.OpenSQL(cfg.SQLDSN)
		if err != nil {
			return nil, err
		}
		return db.NewSQLStore(gdb)
	default:
		return nil, fmt.Errorf("unknown LOG_STORE %q", cfg.LogStore)
	}
}

func (a *App) openArtifactStore(ctx context.Context) (storage.ArtifactStore, error) {
	switch a.Config.ArtifactStore {
	case "local":
		return storage.NewLocalStore(a.Config.ArtifactDir), nil
	case "minio":
		return storage.NewMinioStore(ctx, a.Config.Minio)
	default:
		return nil, fmt.Errorf("unknown ARTIFACT_STORE %q", a.Config.ArtifactStore)
	}
}

func (a *App) openJobStore() (finetune.JobStore, error) {
	switch a.Config.JobStore {
	case "memory":
		return finetune.NewMemoryJobStore(), nil
	case "valkey":
		client, err := clients.NewValkeyClient(a.Config.Valkey)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error {
			client.Close()
			return nil
		})
		return finetune.NewValkeyJobStore(client), nil
	default:
		return nil, fmt.Errorf("unknown JOB_STORE %q", a.Config.JobStore)
	}
}

func (a *App) toxicityOptions() ([]bias.Option, error) {
	cfg := a.Config.Toxicity

	switch cfg.Backend {
	case "", "none":
		return nil, nil
	case "huggingface":
		classifier := bias.NewHuggingFaceToxicity(a.HF, cfg.Model)
		return []bias.Option{bias.WithToxicityClassifier(classifier, cfg.Threshold)}, nil
	case "hugot":
		classifier, err := bias.NewHugotToxicity(cfg.Model, cfg.ModelDir)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error {
			return classifier.Close()
		})
		return []bias.Option{bias.WithToxicityClassifier(classifier, cfg.Threshold)}, nil
	default:
		return nil, fmt.Errorf("unknown TOXICITY_BACKEND %q", cfg.Backend)
	}
}

// Start launches the background loops. They stop when ctx is cancelled.
func (a *App) Start(ctx context.Context) {
	go a.AlertWatch.Run(ctx, a.Config.AlertPollInterval)

	// The status endpoint only knows Hugging Face models.
	h, ok := a.Registry.FirstByProvider(registry.ProviderHuggingFace)
	if !ok {
		slog.Info("[App] No Hugging Face model registered, skipping backend health poll")
		return
	}
	go monitoring.MonitorBackendHealth(ctx, "huggingface", func(ctx context.Context) error {
		return a.HF.ModelStatus(ctx, h.Path)
	}, a.Healthy, monitoring.HEALTHCHECK_TIMER)
}

func (a *App) Services() httpserver.Services {
	return httpserver.Services{
		Models:    a.Registry,
		Analyzer:  a.Analyzer,
		Dashboard: a.Dashboard,
		FineTune:  a.FineTune,
		Evaluator: a.Evaluator,
		Reports:   a.Reports,
		Alerts:    a.Alerts,
		Healthy:   a.Healthy,
	}
}

// Close releases components in reverse construction order.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	a.once.Do(func() {
		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := a.closers[i](ctx); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}
