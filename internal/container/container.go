package container

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	database "github.com/FACorreiaa/haru-planner/app/db"
	"github.com/FACorreiaa/haru-planner/app/observability/metrics"
	"github.com/FACorreiaa/haru-planner/config"
	"github.com/FACorreiaa/haru-planner/internal/api/conversation"
	generativeAI "github.com/FACorreiaa/haru-planner/internal/api/generative_ai"
	"github.com/FACorreiaa/haru-planner/internal/api/itinerary"
	"github.com/FACorreiaa/haru-planner/internal/api/plans"
	"github.com/FACorreiaa/haru-planner/internal/api/ranking"
	"github.com/FACorreiaa/haru-planner/internal/api/retrieval"
	"github.com/FACorreiaa/haru-planner/internal/api/tagging"
	"github.com/FACorreiaa/haru-planner/internal/api/transport"
)

// Container holds all application dependencies
type Container struct {
	Config              *config.Config
	Logger              *slog.Logger
	Pool                *pgxpool.Pool
	ConversationService *conversation.ServiceImpl
	ConversationHandler *conversation.Handler
	PlansHandler        *plans.Handler
}

// NewContainer wires the services on top of an open pool. appMetrics may be
// nil.
func NewContainer(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, appMetrics *metrics.AppMetrics, logger *slog.Logger) (*Container, error) {
	ai, err := newAIClient(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	extractor, err := newExtractor(cfg, ai, appMetrics, logger)
	if err != nil {
		return nil, err
	}

	gateway, popularity := newGateway(cfg, pool, ai, appMetrics, logger)

	var popularitySource retrieval.PopularitySource
	if cfg.Ranking.UseInteractions {
		popularitySource = popularity
	}
	ranker, err := ranking.NewService(ranking.Weights{
		Similarity: cfg.Ranking.SimilarityWeight,
		Popularity: cfg.Ranking.PopularityWeight,
		Novelty:    cfg.Ranking.NoveltyWeight,
	}, rankingLimit(cfg), popularitySource, logger)
	if err != nil {
		return nil, fmt.Errorf("ranking: %w", err)
	}

	estimator, err := newEstimator(cfg.Itinerary, logger)
	if err != nil {
		return nil, err
	}
	compiler := itinerary.NewService(estimator, cfg.Itinerary.DefaultTransitMinutes, cfg.Itinerary.RequestTimeout, appMetrics, logger)

	plansRepo := plans.NewRepository(pool, appMetrics, logger)

	conv := cfg.Conversation
	conversationService := conversation.NewService(
		conversation.NewStore(),
		extractor,
		gateway,
		ranker,
		compiler,
		plansRepo,
		conversation.Settings{
			MaxTurns:          conv.MaxTurns,
			MinTurns:          conv.MinTurns,
			TagThreshold:      conv.TagThreshold,
			InactivityTimeout: conv.InactivityTimeout,
			MaxCategories:     conv.MaxCategories,
			MaxUtteranceRunes: conv.MaxUtteranceRunes,
			MaxPartySize:      conv.MaxPartySize,
			TopK:              cfg.Retrieval.TopK,
		},
		appMetrics,
		logger,
	)

	return &Container{
		Config:              cfg,
		Logger:              logger,
		Pool:                pool,
		ConversationService: conversationService,
		ConversationHandler: conversation.NewHandler(conversationService, logger),
		PlansHandler:        plans.NewHandler(plansRepo, logger),
	}, nil
}

// rankingLimit is how many ranked places reach the user. It never exceeds
// what retrieval fetched; zero means all of it.
func rankingLimit(cfg *config.Config) int {
	topK := cfg.Retrieval.TopK
	if topK <= 0 {
		topK = retrieval.DefaultTopK
	}
	if cfg.Ranking.MaxResults <= 0 {
		return topK
	}
	return min(cfg.Ranking.MaxResults, topK)
}

// newAIClient returns nil when no Gemini key is configured and nothing
// requires one.
func newAIClient(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*generativeAI.AIClient, error) {
	ai, err := generativeAI.NewAIClient(ctx, generativeAI.Config{
		APIKey:              cfg.Tagging.GeminiAPIKey,
		Model:               cfg.Tagging.Model,
		EmbeddingModel:      cfg.Tagging.EmbeddingModel,
		EmbeddingDimensions: int(cfg.Tagging.EmbeddingDimensions),
	})
	switch {
	case err == nil:
		return ai, nil
	case errors.Is(err, generativeAI.ErrMissingAPIKey) && cfg.Tagging.Backend != "gemini":
		logger.Warn("Gemini is not configured; using keyword tags and popularity listing")
		return nil, nil
	default:
		return nil, fmt.Errorf("generative ai: %w", err)
	}
}

func newExtractor(cfg *config.Config, ai *generativeAI.AIClient, appMetrics *metrics.AppMetrics, logger *slog.Logger) (*tagging.ServiceImpl, error) {
	limits := tagging.Limits{MaxTags: cfg.Tagging.MaxTags, MaxTagRunes: cfg.Tagging.MaxTagRunes}
	var backends []tagging.Backend
	switch cfg.Tagging.Backend {
	case "gemini":
		backends = append(backends, tagging.NewGeminiBackend(ai, logger))
		if cfg.Tagging.FallbackToKeywords {
			backends = append(backends, tagging.NewKeywordBackend())
		}
	case "keyword", "":
		backends = append(backends, tagging.NewKeywordBackend())
	default:
		return nil, fmt.Errorf("unknown tagging backend %q", cfg.Tagging.Backend)
	}
	return tagging.NewService(logger, appMetrics, limits, backends...), nil
}

func newGateway(cfg *config.Config, pool *pgxpool.Pool, ai *generativeAI.AIClient, appMetrics *metrics.AppMetrics, logger *slog.Logger) (retrieval.Gateway, *retrieval.RepositoryImpl) {
	// A nil *AIClient must not become a non-nil Embedder.
	var embedder retrieval.Embedder
	if ai != nil {
		embedder = ai
	}
	repo := retrieval.NewRepository(pool, embedder, cfg.Retrieval.MinSimilarity, appMetrics, logger)
	if !cfg.Retrieval.UseCache {
		return repo, repo
	}
	return retrieval.NewCachedGateway(repo, cfg.Retrieval.CacheTTL, logger), repo
}

func newEstimator(cfg config.ItineraryConfig, logger *slog.Logger) (transport.Estimator, error) {
	switch cfg.Provider {
	case "haversine", "":
		return transport.NewHaversineEstimator(transport.DefaultSpeeds()), nil
	case "directions":
		var opts []transport.Option
		if cfg.KakaoBaseURL != "" {
			opts = append(opts, transport.WithKakaoBaseURL(cfg.KakaoBaseURL))
		}
		if cfg.TmapBaseURL != "" {
			opts = append(opts, transport.WithTmapBaseURL(cfg.TmapBaseURL))
		}
		return transport.NewDirectionsEstimator(cfg.KakaoAPIKey, cfg.TmapAPIKey, logger, opts...), nil
	default:
		return nil, fmt.Errorf("unknown itinerary provider %q", cfg.Provider)
	}
}

// Close releases all resources held by the container
func (c *Container) Close() {
	if c.Pool != nil {
		c.Pool.Close()
	}
}

// WaitForDB waits for the database to be ready
func (c *Container) WaitForDB(ctx context.Context) bool {
	return database.WaitForDB(ctx, c.Pool, c.Logger)
}
