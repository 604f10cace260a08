// Package bootstrap assembles the moderation runtime shared by the server and
// the operator commands.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"chatguard/internal/cache"
	"chatguard/internal/classifier"
	"chatguard/internal/config"
	"chatguard/internal/database"
	"chatguard/internal/featureflags"
	"chatguard/internal/middleware"
	"chatguard/internal/moderation"
	"chatguard/internal/notifications"
	"chatguard/internal/repository"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Options control runtime initialization behavior.
type Options struct {
	// SkipSchema leaves the SQL schema untouched.
	SkipSchema bool
	// SkipRedis runs without the mirror and notifier even if Redis is up.
	SkipRedis bool
	// Clock overrides the engine clock.
	Clock func() time.Time
}

// Runtime is everything a process needs to serve moderation decisions.
type Runtime struct {
	DB       *gorm.DB      // nil for the file driver
	Redis    *redis.Client // nil when Redis is unavailable
	Store    repository.ModerationStore
	Engine   *moderation.Engine
	Flags    *featureflags.Manager
	Mirror   *cache.EnforcementMirror
	Notifier *notifications.Notifier
	Feed     *notifications.ActionHub
}

// OpenStore opens the moderation store selected by DB_DRIVER. The returned
// DB is nil for the file driver.
func OpenStore(ctx context.Context, cfg *config.Config, opts Options) (repository.ModerationStore, *gorm.DB, error) {
	if cfg.DBDriver == config.DriverFile {
		store, err := repository.NewFileStore(cfg.StoreFile)
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	}

	db, err := database.Connect(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}
	if !opts.SkipSchema {
		if err := database.ApplySchema(ctx, db, cfg); err != nil {
			return nil, nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	return repository.NewGormStore(db), db, nil
}

// BuildDenylist prefers the YAML file, then configured terms, then the
// built-in list.
func BuildDenylist(cfg *config.Config) (*moderation.Denylist, error) {
	terms := cfg.ProfanityTermList()
	if cfg.DenylistFile != "" {
		return moderation.LoadDenylist(cfg.DenylistFile, terms)
	}
	if len(terms) > 0 {
		return moderation.NewDenylist(terms, nil)
	}
	return moderation.DefaultDenylist(), nil
}

// BuildPipeline wires local detectors and, when configured, the external
// classifier. An undefined external_classifier flag means every user is
// sent to the classifier.
func BuildPipeline(cfg *config.Config, flags *featureflags.Manager) (*moderation.Pipeline, error) {
	denylist, err := BuildDenylist(cfg)
	if err != nil {
		return nil, err
	}
	pipeline := moderation.DefaultPipeline(denylist)

	if cfg.ClassifierURL == "" {
		return pipeline, nil
	}

	var c moderation.Classifier = classifier.NewClient(cfg.ClassifierURL, cfg.ClassifierAPIKey,
		classifier.WithLogger(middleware.Logger))
	if cfg.ClassifierCacheSize > 0 {
		c = classifier.NewCachedClassifier(c, cfg.ClassifierCacheSize, cfg.ClassifierCacheTTL())
	}

	var gate func(string) bool
	if flags.Defined(featureflags.ExternalClassifier) {
		gate = flags.Gate(featureflags.ExternalClassifier)
	}
	return pipeline.WithClassifier(c, cfg.ClassifierTimeout(), gate), nil
}

// InitRuntime opens the store, connects Redis (optional), replays the
// moderation log into a new engine, and mirrors replayed enforcement into
// Redis.
func InitRuntime(ctx context.Context, cfg *config.Config, opts Options) (*Runtime, error) {
	store, db, err := OpenStore(ctx, cfg, opts)
	if err != nil {
		return nil, err
	}

	rt := &Runtime{
		DB:    db,
		Store: store,
		Flags: featureflags.NewManager(cfg.FeatureFlags),
	}

	if !opts.SkipRedis {
		// Init Redis (may result in nil client if unreachable)
		cache.InitRedis(cfg.RedisURL)
		rt.Redis = cache.GetClient()
	}
	rt.Mirror = cache.NewEnforcementMirror(rt.Redis)
	rt.Notifier = notifications.NewNotifier(rt.Redis)
	rt.Feed = notifications.NewActionHub()

	pipeline, err := BuildPipeline(cfg, rt.Flags)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	// With Redis the feed follows the pub/sub channels so it also sees other
	// instances' actions; without it the engine feeds it directly.
	sinks := []moderation.ActionSink{rt.Mirror, rt.Notifier}
	if rt.Redis == nil {
		sinks = append(sinks, rt.Feed)
	}
	engineOpts := []moderation.Option{
		moderation.WithPipeline(pipeline),
		moderation.WithWindow(cfg.Window()),
		moderation.WithSinks(sinks...),
	}
	if opts.Clock != nil {
		engineOpts = append(engineOpts, moderation.WithClock(opts.Clock))
	}

	rt.Engine, err = moderation.New(ctx, store, engineOpts...)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("replay moderation log: %w", err)
	}

	if err := rt.Mirror.Sync(ctx, rt.Engine.EnforcementSnapshot()); err != nil {
		middleware.Logger.WarnContext(ctx, "enforcement mirror sync failed", slog.String("error", err.Error()))
	}
	if rt.Redis != nil {
		if err := rt.Feed.Start(context.WithoutCancel(ctx), rt.Notifier); err != nil {
			middleware.Logger.WarnContext(ctx, "action feed subscriber failed", slog.String("error", err.Error()))
		}
	}

	return rt, nil
}

// Close stops the engine, which closes the store, then releases Redis.
func (rt *Runtime) Close(ctx context.Context) error {
	var errs []error
	if rt.Feed != nil {
		rt.Feed.Shutdown()
	}
	if rt.Engine != nil {
		if err := rt.Engine.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("engine shutdown: %w", err))
		}
	} else if rt.Store != nil {
		errs = append(errs, rt.Store.Close())
	}
	if rt.Redis != nil {
		if err := rt.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	return errors.Join(errs...)
}
