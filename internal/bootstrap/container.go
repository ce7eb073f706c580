package bootstrap

import (
	"context"
	"fmt"
	"time"

	"agentic-retrieval-be/internal/config"
	"agentic-retrieval-be/internal/controller"
	"agentic-retrieval-be/internal/handler"
	"agentic-retrieval-be/internal/pkg/logger"
	"agentic-retrieval-be/internal/repository/cache"
	"agentic-retrieval-be/internal/repository/implementation"
	"agentic-retrieval-be/internal/repository/memory"
	"agentic-retrieval-be/internal/repository/unitofwork"
	"agentic-retrieval-be/internal/service"
	"agentic-retrieval-be/internal/websocket"
	"agentic-retrieval-be/pkg/embedding"
	"agentic-retrieval-be/pkg/events"
	"agentic-retrieval-be/pkg/llm/factory"
	"agentic-retrieval-be/pkg/llm/structured"
	"agentic-retrieval-be/pkg/mcpclient"
	pktNats "agentic-retrieval-be/pkg/nats"
	"agentic-retrieval-be/pkg/rag/executor"
	"agentic-retrieval-be/pkg/rag/history"
	"agentic-retrieval-be/pkg/rag/intent"
	"agentic-retrieval-be/pkg/rag/query"
	"agentic-retrieval-be/pkg/rag/response"
	"agentic-retrieval-be/pkg/rag/session"
	"agentic-retrieval-be/pkg/rag/synthesis"
	"agentic-retrieval-be/pkg/rag/tools"
	"agentic-retrieval-be/pkg/search"
	"agentic-retrieval-be/pkg/search/memindex"
	"agentic-retrieval-be/pkg/search/pgindex"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const (
	embeddingCacheSize = 2048
	verdictMemoSize    = 1024
	mcpDiscoverTimeout = 20 * time.Second
)

type Container struct {
	ChatController  controller.IChatController
	TurnFeedHandler *handler.TurnFeedHandler

	// Background services, run by main
	WebSocketHub *websocket.Hub
	TurnEvents   *service.TurnEventService

	Logger logger.ILogger

	closers []func() error
}

func NewContainer(ctx context.Context, db *gorm.DB, cfg *config.Config) (*Container, error) {
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.App.Environment == "production")
	c := &Container{Logger: sysLogger}

	rdb := connectRedis(ctx, cfg.App.RedisURL, sysLogger)
	if rdb != nil {
		c.closers = append(c.closers, rdb.Close)
	}

	// 1. Search backend and tools
	apps := parseApps(cfg.Agent.AvailableApps, sysLogger)
	backend, err := newSearchBackend(cfg, db, sysLogger)
	if err != nil {
		return nil, err
	}

	registry := tools.NewRegistry()
	if err := registry.Register(tools.Builtins(backend, apps, cfg.Agent.DefaultPageSize)...); err != nil {
		return nil, fmt.Errorf("failed to register builtin tools: %w", err)
	}

	catalogue, err := config.LoadToolCatalogue(cfg.Agent.ToolsFile)
	if err != nil {
		return nil, err
	}
	if len(catalogue.Servers) > 0 {
		discoverCtx, cancel := context.WithTimeout(ctx, mcpDiscoverTimeout)
		clients := tools.DiscoverMCP(discoverCtx, registry, mcpConfigs(catalogue), sysLogger)
		cancel()
		for _, client := range clients {
			c.closers = append(c.closers, client.Close)
		}
	}
	sysLogger.Info("BOOTSTRAP", "Tool registry ready", map[string]interface{}{
		"tools": len(registry.Specs()),
	})

	// 2. Completion stack
	llmProvider, err := factory.NewLLMProvider(ctx, cfg.Ai.LLMProvider, cfg.Ai.LLMModel, cfg.Ai.OllamaBaseURL, cfg.Keys.GoogleGemini)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM provider: %w", err)
	}
	sysLogger.Info("BOOTSTRAP", "Using LLM provider", map[string]interface{}{
		"provider": cfg.Ai.LLMProvider,
		"model":    cfg.Ai.LLMModel,
	})
	completer := structured.NewCompleter(llmProvider, sysLogger)

	classifier := intent.NewClassifier(completer, intent.Config{
		AvailableApps: apps,
		PageSize:      cfg.Agent.DefaultPageSize,
	}, sysLogger)
	evaluator, err := synthesis.NewEvaluator(completer, verdictMemoSize, sysLogger)
	if err != nil {
		return nil, err
	}
	generator := response.NewGenerator(completer, sysLogger)

	exec := executor.NewExecutor(
		classifier,
		tools.NewInvoker(registry, cfg.Agent.CallTimeout, sysLogger),
		evaluator,
		generator,
		executor.Budget{
			MaxIterations: cfg.Agent.MaxIterations,
			TurnTimeout:   cfg.Agent.TurnTimeout,
		},
		sysLogger,
	)

	// 3. History: Postgres, fronted by Redis when it is reachable
	var turnStore history.Store = implementation.NewChatTurnRepository(db)
	if rdb != nil {
		turnStore = cache.NewTurnCache(rdb, turnStore, cfg.Agent.HistoryWindow, cfg.Agent.SessionTTL, sysLogger)
	}

	// 4. Event bus
	publisher, subscriber, busClosers := newEventBus(cfg, sysLogger)
	c.closers = append(c.closers, busClosers...)

	// 5. Sessions and HTTP surface
	arenas := memory.NewSessionRepository(cfg.Agent.SessionTTL, cfg.Agent.MaxArchivedChains)
	manager := session.NewManager(arenas, exec, turnStore, cfg.Agent.HistoryWindow, publisher, sysLogger)

	chatService := service.NewChatService(unitofwork.NewRepositoryFactory(db), manager, sysLogger)
	c.ChatController = controller.NewChatController(chatService)

	c.WebSocketHub = websocket.NewHub(rdb, sysLogger)
	c.TurnFeedHandler = handler.NewTurnFeedHandler(c.WebSocketHub, cfg.Keys.JWTSecret, sysLogger)

	auditLogger := logger.NewIsolatedLogger(cfg.App.AuditLogFilePath)
	c.TurnEvents = service.NewTurnEventService(subscriber, c.WebSocketHub, auditLogger, sysLogger)
	c.closers = append(c.closers, auditLogger.Sync)

	return c, nil
}

// Close releases connections in reverse order of creation.
func (c *Container) Close() error {
	var first error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func connectRedis(ctx context.Context, url string, log logger.ILogger) *redis.Client {
	if url == "" {
		return nil
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		log.Warn("BOOTSTRAP", "Failed to parse Redis URL, using it as address", map[string]interface{}{"error": err.Error()})
		opt = &redis.Options{Addr: url}
	}
	rdb := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Warn("BOOTSTRAP", "Redis unavailable, running without turn cache and cluster fan-out", map[string]interface{}{"error": err.Error()})
		_ = rdb.Close()
		return nil
	}
	return rdb
}

func newSearchBackend(cfg *config.Config, db *gorm.DB, log logger.ILogger) (search.Backend, error) {
	switch cfg.Agent.SearchBackend {
	case "memory":
		log.Warn("BOOTSTRAP", "Using the in-memory search backend", nil)
		return memindex.New(), nil
	case "pgvector", "":
		embedder, err := embedding.NewCachedProvider(
			embedding.NewOllamaProvider(cfg.Ai.OllamaBaseURL, cfg.Ai.EmbeddingModel),
			embeddingCacheSize,
		)
		if err != nil {
			return nil, err
		}
		return pgindex.NewBackend(db, embedder), nil
	default:
		return nil, fmt.Errorf("unsupported search backend: %s", cfg.Agent.SearchBackend)
	}
}

func newEventBus(cfg *config.Config, log logger.ILogger) (events.Publisher, events.Subscriber, []func() error) {
	if cfg.App.EventBus == "nats" {
		pub, err := pktNats.NewPublisher(cfg.App.NatsURL, log)
		if err == nil {
			sub, subErr := pktNats.NewSubscriber(cfg.App.NatsURL, log)
			if subErr == nil {
				return pub, sub, []func() error{pub.Close, sub.Close}
			}
			_ = pub.Close()
			err = subErr
		}
		log.Warn("BOOTSTRAP", "NATS unavailable, falling back to the in-process event bus", map[string]interface{}{"error": err.Error()})
	}
	bus := events.NewChannelBus(log)
	return bus, bus, []func() error{bus.Close}
}

func parseApps(names []string, log logger.ILogger) []query.App {
	apps := make([]query.App, 0, len(names))
	for _, name := range names {
		app, ok := query.ParseApp(name)
		if !ok {
			log.Warn("BOOTSTRAP", "Ignoring unknown app", map[string]interface{}{"app": name})
			continue
		}
		apps = append(apps, app)
	}
	return apps
}

func mcpConfigs(catalogue *config.ToolCatalogue) []mcpclient.Config {
	out := make([]mcpclient.Config, 0, len(catalogue.Servers))
	for _, s := range catalogue.Servers {
		out = append(out, mcpclient.Config{
			Name:  s.Name,
			URL:   s.URL,
			Token: s.Token,
			Allow: s.Allow,
			Deny:  s.Deny,
		})
	}
	return out
}
