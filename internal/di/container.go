// Package di assembles the runtime object graph: configuration in,
// fully-wired HTTP handler out.
package di

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/costline/materialcache/internal/handlers"
	"github.com/costline/materialcache/internal/platform/auth"
	"github.com/costline/materialcache/internal/platform/config"
	pfirestore "github.com/costline/materialcache/internal/platform/firestore"
	"github.com/costline/materialcache/internal/platform/idempotency"
	"github.com/costline/materialcache/internal/platform/jobs"
	"github.com/costline/materialcache/internal/platform/llm"
	"github.com/costline/materialcache/internal/platform/observability"
	"github.com/costline/materialcache/internal/platform/requestctx"
	"github.com/costline/materialcache/internal/repositories"
	repofirestore "github.com/costline/materialcache/internal/repositories/firestore"
	"github.com/costline/materialcache/internal/services"
)

// Services bundles the service-layer contracts the handlers rely on.
type Services struct {
	Match          services.MatchService
	Disambiguation services.DisambiguationService
	CacheWriter    services.CacheWriterService
	Resolution     services.ResolutionService
	System         services.SystemService
}

// Container owns the wired dependencies and the assembled HTTP handler.
type Container struct {
	Config   config.Config
	Logger   *zap.Logger
	Services Services
	Router   chi.Router

	firestore    *pfirestore.Provider
	pubsubClient *pubsub.Client
	scrapeTopic  *pubsub.Topic
}

// NewContainer wires repositories, services, and the router from configuration.
func NewContainer(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Container, error) {
	if logger == nil {
		return nil, errors.New("di: logger is required")
	}

	c := &Container{Config: cfg, Logger: logger}
	log := eventLogger(logger)

	c.firestore = pfirestore.NewProvider(cfg.Firestore)
	client, err := c.firestore.Client(ctx)
	if err != nil {
		return nil, fmt.Errorf("di: firestore client: %w", err)
	}

	materials, err := repofirestore.NewMaterialRepository(c.firestore)
	if err != nil {
		c.closeQuietly(ctx)
		return nil, fmt.Errorf("di: material repository: %w", err)
	}

	var publisher services.ScrapeJobPublisher
	if cfg.Jobs.ScrapeTopic != "" {
		c.pubsubClient, err = pubsub.NewClient(ctx, cfg.Firestore.ProjectID)
		if err != nil {
			c.closeQuietly(ctx)
			return nil, fmt.Errorf("di: pubsub client: %w", err)
		}
		c.scrapeTopic = c.pubsubClient.Topic(cfg.Jobs.ScrapeTopic)
		publisher, err = jobs.NewPubSubScrapePublisher(c.scrapeTopic)
		if err != nil {
			c.closeQuietly(ctx)
			return nil, fmt.Errorf("di: scrape publisher: %w", err)
		}
	}

	var completions services.CompletionProvider
	if llmClient := llm.NewClient(cfg.LLM); llmClient.Configured() {
		completions = llmClient
	}

	matcher, err := services.NewMatchService(services.MatchServiceDeps{
		Repository: materials,
		Logger:     log,
		ExactLimit: cfg.Cache.ExactLimit,
		FuzzyLimit: cfg.Cache.FuzzyLimit,
		DumpLimit:  cfg.Cache.DumpLimit,
	})
	if err != nil {
		c.closeQuietly(ctx)
		return nil, fmt.Errorf("di: match service: %w", err)
	}

	disambiguator := services.NewDisambiguationService(services.DisambiguationServiceDeps{
		Completions: completions,
		Logger:      log,
	})

	cacheWriter, err := services.NewCacheWriterService(services.CacheWriterServiceDeps{
		Repository: materials,
		Logger:     log,
	})
	if err != nil {
		c.closeQuietly(ctx)
		return nil, fmt.Errorf("di: cache writer: %w", err)
	}

	resolver, err := services.NewResolutionService(services.ResolutionServiceDeps{
		Matcher:       matcher,
		Disambiguator: disambiguator,
		CacheWriter:   cacheWriter,
		Publisher:     publisher,
		Logger:        log,
		DefaultRegion: cfg.Cache.DefaultRegion,
		HitThreshold:  cfg.Cache.HitThreshold,
	})
	if err != nil {
		c.closeQuietly(ctx)
		return nil, fmt.Errorf("di: resolution service: %w", err)
	}

	system, err := c.buildSystemService(client)
	if err != nil {
		c.closeQuietly(ctx)
		return nil, fmt.Errorf("di: system service: %w", err)
	}

	c.Services = Services{
		Match:          matcher,
		Disambiguation: disambiguator,
		CacheWriter:    cacheWriter,
		Resolution:     resolver,
		System:         system,
	}

	materialHandlers := handlers.NewMaterialHandlers(handlers.MaterialHandlersDeps{
		Matcher:       matcher,
		Resolver:      resolver,
		CacheWriter:   cacheWriter,
		DefaultRegion: cfg.Cache.DefaultRegion,
		RecordGuard: idempotency.Middleware(
			idempotency.NewFirestoreStore(client),
			idempotency.WithLogger(idempotency.Logger(log)),
		),
	})

	registrar := handlers.RouteRegistrar(materialHandlers.Routes)
	if cfg.Security.SharedSecret != "" {
		validator := auth.NewValidator(cfg.Security.SharedSecret, auth.NewInMemoryNonceStore())
		registrar = func(r chi.Router) {
			r.Use(validator.Middleware)
			materialHandlers.Routes(r)
		}
	}

	c.Router = handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger),
			observability.TraceMiddleware(cfg.Firestore.ProjectID),
			observability.RequestLoggerMiddleware(cfg.Firestore.ProjectID),
			observability.RecoveryMiddleware(logger),
		),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(system)),
		handlers.WithMaterialRoutes(registrar),
	)

	return c, nil
}

func (c *Container) buildSystemService(client *firestore.Client) (services.SystemService, error) {
	checks := []repositories.DependencyCheck{
		{
			Name: "firestore",
			Check: func(ctx context.Context) error {
				_, err := client.Collection("materials").Limit(1).Documents(ctx).GetAll()
				return err
			},
		},
	}
	if c.scrapeTopic != nil {
		topic := c.scrapeTopic
		checks = append(checks, repositories.DependencyCheck{
			Name: "pubsub",
			Check: func(ctx context.Context) error {
				exists, err := topic.Exists(ctx)
				if err != nil {
					return err
				}
				if !exists {
					return fmt.Errorf("topic %s does not exist", topic.ID())
				}
				return nil
			},
		})
	}

	health, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return nil, err
	}
	return services.NewSystemService(services.SystemServiceDeps{Health: health})
}

// Close releases the Firestore and Pub/Sub clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}

	var errs []error
	if c.scrapeTopic != nil {
		c.scrapeTopic.Stop()
	}
	if c.pubsubClient != nil {
		if err := c.pubsubClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pubsub: %w", err))
		}
	}
	if c.firestore != nil {
		if err := c.firestore.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close firestore: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (c *Container) closeQuietly(ctx context.Context) {
	_ = c.Close(ctx)
}

// Handler exposes the assembled router.
func (c *Container) Handler() http.Handler {
	return c.Router
}

// eventLogger adapts the context-carried zap logger to the event/fields
// signature the services use.
func eventLogger(fallback *zap.Logger) func(context.Context, string, map[string]any) {
	return func(ctx context.Context, event string, fields map[string]any) {
		logger := requestctx.Logger(ctx)
		if logger == requestctx.NoopLogger() {
			logger = fallback
		}
		zapFields := make([]zap.Field, 0, len(fields))
		for key, value := range fields {
			zapFields = append(zapFields, zap.Any(key, value))
		}
		logger.Warn(event, zapFields...)
	}
}
