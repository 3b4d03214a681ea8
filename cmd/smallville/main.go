package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/nidhogg/smallville/internal/agent"
	"github.com/nidhogg/smallville/internal/api"
	"github.com/nidhogg/smallville/internal/chat"
	"github.com/nidhogg/smallville/internal/config"
	"github.com/nidhogg/smallville/internal/conversation"
	"github.com/nidhogg/smallville/internal/embedding"
	"github.com/nidhogg/smallville/internal/feed"
	"github.com/nidhogg/smallville/internal/memory"
	"github.com/nidhogg/smallville/internal/observe"
	"github.com/nidhogg/smallville/internal/orchestrator"
	"github.com/nidhogg/smallville/internal/pipeline"
	"github.com/nidhogg/smallville/internal/provider"
	pgstore "github.com/nidhogg/smallville/internal/store"
	"github.com/nidhogg/smallville/internal/vectorstore"
	"github.com/nidhogg/smallville/internal/world"
)

// Relation strength lost per clock tick and gained per conversation.
const (
	relationDecay = 0.002
	relationBoost = 0.2
)

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = config.DefaultPath
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config %s: %v\n", cfgPath, err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Server.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting Smallville...", zap.String("config", cfgPath))
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := observe.Default()
	sim := cfg.Simulation

	// Providers
	router := provider.NewRouter(logger)
	for _, pc := range cfg.Providers {
		p, err := provider.New(providerConfig(pc, cfg.Embedding))
		if err != nil {
			logger.Fatal("failed to build provider", zap.String("id", pc.ID), zap.Error(err))
		}
		router.Register(provider.Instrument(provider.WithTimeout(p, sim.GatewayTimeout.Duration()), metrics))
	}
	router.SetDefault(cfg.Routing.Default)
	router.SetFallbacks(cfg.Routing.Fallbacks)
	for name, id := range cfg.Routing.Bindings {
		router.Bind(name, id)
	}

	scoreCfg := memory.DefaultScoreConfig()
	scoreCfg.HalfLife = sim.MemoryHalfLife.Duration()

	town := world.NewTown(logger)
	agents := agent.NewRegistry(logger)
	convs := conversation.NewManager(logger)

	// PostgreSQL
	var pgStore *pgstore.Store
	if dsn := cfg.Database.Postgres.DSN; dsn != "" {
		ps, pgErr := pgstore.New(ctx, dsn, logger)
		if pgErr != nil {
			logger.Warn("PostgreSQL unavailable, running without persistence", zap.Error(pgErr))
		} else {
			if mErr := ps.Migrate(ctx, cfg.Database.Postgres.Migrations); mErr != nil {
				logger.Fatal("migration failed", zap.Error(mErr))
			}
			pgStore = ps
			restore(ctx, pgStore, town, agents, convs, scoreCfg, logger)
		}
	}

	// Neo4j
	var relations *world.RelationGraph
	if n := cfg.Database.Neo4j; n.URI != "" {
		neo, nErr := world.Connect(ctx, n.URI, n.User, n.Password)
		if nErr != nil {
			logger.Warn("Neo4j unavailable, running without relations", zap.Error(nErr))
		} else {
			relations = world.NewRelationGraph(neo, relationDecay, relationBoost, logger)
			defer neo.Close(context.Background())
		}
	}

	// Qdrant
	var archive *vectorstore.Archive
	if q := cfg.Database.Qdrant; q.Host != "" {
		a, qErr := vectorstore.NewArchive(vectorstore.QdrantConfig{Host: q.Host, Port: q.Port, Collection: q.Collection}, logger)
		if qErr != nil {
			logger.Warn("Qdrant unavailable, running without memory archive", zap.Error(qErr))
		} else {
			archive = a
			defer archive.Close()
		}
	}

	// Pipeline and driver
	chatSvc := chat.NewService(router, sim.Temperature, logger)
	deps := pipeline.Deps{Chat: chatSvc, Conversations: convs, Logger: logger}
	if relations != nil {
		deps.Relations = relations
	}
	if archive != nil {
		deps.Archive = archive
	}
	pipe := pipeline.New(pipeline.DefaultSteps(deps), metrics, logger)
	driver := orchestrator.NewDriver(town, agents, pipe, convs, orchestrator.Options{
		Parallelism:      sim.Parallelism,
		ConversationIdle: sim.ConversationIdle(),
	}, logger)
	driver.SetMetrics(metrics)
	if pgStore != nil {
		driver.SetPersister(pgStore)
	}

	// Redis
	if url := cfg.Database.Redis.URL; url != "" {
		bus, busErr := orchestrator.NewEventBus(ctx, url, logger)
		if busErr != nil {
			logger.Warn("Redis unavailable, running without event bus", zap.Error(busErr))
		} else {
			driver.AddPublisher(bus)
			defer bus.Close()
		}
	}

	// Feed
	broadcaster := newFeed(cfg.Feed, logger)
	if len(broadcaster.Platforms()) > 0 {
		driver.AddPublisher(broadcaster)
	}
	defer broadcaster.Close()

	// Clock
	startAt, _ := sim.Start()
	clock := world.NewWorldClock(startAt, sim.ClockInterval.Duration(), sim.Speed, logger)
	heartbeat := world.NewHeartbeat(sim.TickEvery.Duration(), sim.TickTimeout.Duration(), driver.Tick, logger)
	clock.AddListener(heartbeat)
	if relations != nil {
		clock.AddListener(relations)
	}
	clock.Start()
	logger.Info("World simulation started", zap.Time("world_time", clock.WorldTime()))

	apiDeps := api.Deps{
		Town:          town,
		Agents:        agents,
		Conversations: convs,
		Driver:        driver,
		Chat:          chatSvc,
		Clock:         clock,
		Heartbeat:     heartbeat,
		TimeStep:      sim.TimeStep.Duration(),
		Memory:        scoreCfg,
		Relations:     relations,
		Feed:          broadcaster,
	}
	if pgStore != nil {
		apiDeps.Store = pgStore
	}
	if archive != nil {
		apiDeps.Archive = archive
	}
	handler := api.NewHandler(apiDeps, logger)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("Smallville listening", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down Smallville...")
	clock.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if pgStore != nil {
		pgStore.Close()
	}
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	cfg.Level = lvl
	return cfg.Build()
}

func providerConfig(pc config.ProviderConfig, shared *config.EmbeddingConfig) provider.Config {
	c := provider.Config{
		ID:             pc.ID,
		Type:           pc.Type,
		Name:           pc.Name,
		Endpoint:       pc.Endpoint,
		APIKey:         pc.APIKey,
		Model:          pc.Model,
		EmbeddingModel: pc.EmbeddingModel,
		MaxTokens:      pc.MaxTokens,
		Timeout:        pc.Timeout.Duration(),
		Extra:          pc.Extra,
	}
	emb := pc.Embedding
	if emb == nil {
		emb = shared
	}
	if emb != nil {
		c.Embedding = &embedding.Config{
			Provider:  emb.Provider,
			Endpoint:  emb.Endpoint,
			Model:     emb.Model,
			APIKey:    emb.APIKey,
			Dimension: emb.Dimension,
		}
	}
	return c
}

// restore loads the persisted town, residents and conversations. Failures
// leave the in-memory town empty.
func restore(ctx context.Context, s *pgstore.Store, town *world.Town, agents *agent.Registry,
	convs *conversation.Manager, scoreCfg memory.ScoreConfig, logger *zap.Logger) {
	if err := s.LoadTown(ctx, town); err != nil {
		logger.Warn("failed to load town from DB", zap.Error(err))
	}
	loaded, err := s.LoadAgents(ctx, scoreCfg)
	if err != nil {
		logger.Warn("failed to load agents from DB", zap.Error(err))
	}
	for _, a := range loaded {
		if err := agents.Register(a); err != nil {
			logger.Warn("skipping stored agent", zap.String("agent", a.Name()), zap.Error(err))
		}
	}
	views, err := s.LoadConversations(ctx)
	if err != nil {
		logger.Warn("failed to load conversations from DB", zap.Error(err))
	}
	convs.Restore(views...)
	logger.Info("Loaded state from DB",
		zap.Int("locations", len(town.Locations())),
		zap.Int("agents", len(loaded)),
		zap.Int("conversations", len(views)))
}

func newFeed(fc config.FeedConfig, logger *zap.Logger) *feed.Broadcaster {
	kinds := make([]pipeline.EventKind, len(fc.Kinds))
	for i, k := range fc.Kinds {
		kinds[i] = pipeline.EventKind(k)
	}
	b := feed.NewBroadcaster(logger, kinds...)

	if fc.Slack.Enabled {
		s, err := feed.NewSlackSink(fc.Slack.BotToken, fc.Slack.Channel, logger)
		if err != nil {
			logger.Warn("Slack feed disabled", zap.Error(err))
		} else {
			b.Register(s)
		}
	}
	if fc.Discord.Enabled {
		d, err := feed.NewDiscordSink(fc.Discord.BotToken, fc.Discord.Channel, logger)
		if err != nil {
			logger.Warn("Discord feed disabled", zap.Error(err))
		} else {
			b.Register(d)
		}
	}
	return b
}
