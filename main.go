// Command dealgraphd runs the deal room service: the REST API, the background
// worker pool, and the maintenance scheduler, all in one process.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dealgraph.org/agent"
	"dealgraph.org/api"
	"dealgraph.org/cache"
	"dealgraph.org/checkpoint"
	"dealgraph.org/common"
	"dealgraph.org/config"
	"dealgraph.org/db"
	"dealgraph.org/db/repository"
	"dealgraph.org/embed"
	"dealgraph.org/graphiti"
	dhttp "dealgraph.org/http"
	"dealgraph.org/ingest"
	"dealgraph.org/llm"
	"dealgraph.org/parse"
	"dealgraph.org/queue"
	"dealgraph.org/retrieval"
	"dealgraph.org/storage"
	"dealgraph.org/usage"
	"dealgraph.org/worker"
)

const serviceVersion = "0.1.0"

func main() {
	configFile := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		common.Logger.WithError(err).Fatal("failed to load configuration")
	}
	common.ConfigureLogger(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Relational stores: pgx pool for the queue and checkpoints, GORM for
	// the metadata models.
	pg, err := db.NewPostgresDB(ctx, cfg.Database.URL, cfg.Database.MaxConnections)
	if err != nil {
		common.Logger.WithError(err).Fatal("failed to connect to postgres")
	}
	defer pg.Close()

	gdb, err := db.NewGormDB(cfg.Database.URL)
	if err != nil {
		common.Logger.WithError(err).Fatal("failed to open gorm connection")
	}
	if err := db.Migrate(gdb); err != nil {
		common.Logger.WithError(err).Fatal("migration failed")
	}
	store := repository.NewStore(gdb)

	jobQueue := queue.NewJobQueue(pg, cfg.Jobs.VisibilityTimeout, cfg.Jobs.MaxRetries)
	if err := jobQueue.EnsureSchema(ctx); err != nil {
		common.Logger.WithError(err).Fatal("failed to prepare job schema")
	}

	checkpoints := checkpoint.NewStore(pg)
	if err := checkpoints.EnsureSchema(ctx); err != nil {
		common.Logger.WithError(err).Fatal("failed to prepare checkpoint schema")
	}

	sharedCache := cache.New(ctx, cfg.Cache.URL, cfg.Cache.Token)

	blobs, err := storage.NewBlobStore(ctx, cfg.Blob)
	if err != nil {
		common.Logger.WithError(err).Fatal("failed to connect to object store")
	}

	graph, err := graphiti.NewGraphStore(ctx, cfg.Graph.URL, cfg.Graph.Username,
		cfg.Graph.Password, cfg.Graph.MergeThreshold)
	if err != nil {
		common.Logger.WithError(err).Fatal("failed to connect to graph store")
	}
	defer graph.Close(ctx)
	if err := graph.EnsureIndexes(ctx); err != nil {
		common.Logger.WithError(err).Fatal("failed to prepare graph indexes")
	}

	recorder := usage.NewRecorder(gdb, cfg.Alerts)

	embedPrimary, err := embed.NewGenAIProvider(ctx, cfg.Embed.APIKey, cfg.Embed.Model, "RETRIEVAL_DOCUMENT")
	if err != nil {
		common.Logger.WithError(err).Fatal("failed to create embedding provider")
	}
	embedder := embed.NewClient(cfg.Embed, embedPrimary, nil, recorder)

	provider, err := llm.NewGeminiProvider(ctx, cfg.LLM.APIKey, cfg.LLM.CallTimeout)
	if err != nil {
		common.Logger.WithError(err).Fatal("failed to create model provider")
	}
	reranker := llm.NewReranker(provider, cfg.Rerank.Model)

	var fanout queue.StatusPublisher
	if cfg.Jobs.FanoutURL != "" {
		f, err := queue.NewStatusFanout(cfg.Jobs.FanoutURL, cfg.Jobs.FanoutQueue)
		if err != nil {
			common.Logger.WithError(err).Warn("status fan-out unavailable, continuing without it")
		} else {
			fanout = f
			defer f.Close()
		}
	}

	parser := parse.NewParser()
	orchestrator := ingest.NewOrchestrator(store, jobQueue, blobs, parser, embedder, graph, provider, fanout)

	registry := worker.NewRegistry()
	orchestrator.RegisterHandlers(registry, cfg.Jobs.MaxConcurrency, cfg.Jobs.AnalysisConcurrency)
	ingest.RegisterMaintenance(registry, checkpoints, recorder)
	pool := worker.NewPool(jobQueue, registry, cfg.Jobs.MaxConcurrency)
	go func() {
		if err := pool.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			common.Logger.WithError(err).Error("worker pool exited")
		}
	}()
	go maintenanceScheduler(ctx, jobQueue)

	retriever := retrieval.NewRetriever(graph, embedder, reranker, sharedCache)

	classifier := agent.NewClassifier(provider, sharedCache)
	toolbox := agent.NewToolbox(sharedCache)
	agent.RegisterDealTools(toolbox, store, retriever, orchestrator)
	runner := agent.NewRunner(store, classifier, toolbox, provider, retriever, sharedCache, recorder)

	e := dhttp.NewEchoServer(cfg.Server)
	e.GET("/health", dhttp.HealthCheckHandler("dealgraph", serviceVersion, nil))

	api.SetupRoutes(e, &api.Handlers{
		Store:         store,
		Orchestrator:  orchestrator,
		Retriever:     retriever,
		Runner:        runner,
		Blobs:         blobs,
		Graph:         graph,
		Checkpoints:   checkpoints,
		Recorder:      recorder,
		JWT:           api.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL),
		WebhookSecret: cfg.Server.WebhookSecret,
	})

	go func() {
		if err := dhttp.StartServer(e, cfg.Server); err != nil && !errors.Is(err, http.ErrServerClosed) {
			common.Logger.WithError(err).Fatal("server failed")
		}
	}()

	<-ctx.Done()
	if err := dhttp.GracefulShutdown(e, cfg.Server.ShutdownTimeout); err != nil {
		common.Logger.WithError(err).Error("shutdown incomplete")
		os.Exit(1)
	}
}

// maintenanceScheduler enqueues the periodic cleanup jobs. Singleton keys make
// this safe to run on every replica.
func maintenanceScheduler(ctx context.Context, q *queue.JobQueue) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	enqueue := func() {
		day := time.Now().UTC().Format("2006-01-02")
		jobs := []queue.EnqueueParams{
			{Kind: ingest.JobCheckpointCleanup, Payload: struct{}{}, SingletonKey: "checkpoint-cleanup-" + day},
			{Kind: ingest.JobUsageAlerts, Payload: struct{}{}, SingletonKey: "usage-alerts-" + day},
		}
		for _, params := range jobs {
			if _, err := q.Enqueue(ctx, params); err != nil && !errors.Is(err, queue.ErrDuplicate) {
				common.Logger.WithError(err).WithField("kind", params.Kind).
					Warn("failed to schedule maintenance job")
			}
		}
	}

	enqueue()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			enqueue()
		}
	}
}
