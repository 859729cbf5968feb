// Package app constructs every agentid service from a config.Config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agentid-dev/agentid-core/internal/config"
	"github.com/agentid-dev/agentid-core/pkg/a2a"
	"github.com/agentid-dev/agentid-core/pkg/credential"
	"github.com/agentid-dev/agentid-core/pkg/notify"
	"github.com/agentid-dev/agentid-core/pkg/permission"
	"github.com/agentid-dev/agentid-core/pkg/policy"
	"github.com/agentid-dev/agentid-core/pkg/ratelimit"
	"github.com/agentid-dev/agentid-core/pkg/reputation"
	"github.com/agentid-dev/agentid-core/pkg/revocation"
	"github.com/agentid-dev/agentid-core/pkg/store/postgres"
	"github.com/agentid-dev/agentid-core/pkg/store/sqlite"
	"github.com/agentid-dev/agentid-core/pkg/tasks"
	"github.com/agentid-dev/agentid-core/pkg/trust"
)

// Repositories is the storage an App runs on. New fills it from config;
// tests may supply their own through NewWithRepositories.
type Repositories struct {
	Credentials credential.Repository
	Issuers     credential.IssuerRepository
	Policies    credential.PolicyRepository
	Log         credential.VerificationLog
	A2A         a2a.Store
	Reputation  reputation.Store
	Revocations revocation.Cache

	// Conversations defaults to A2A when it also stores conversations.
	Conversations a2a.ConversationStore

	// RevocationSource feeds Revocations periodically. Optional.
	RevocationSource revocation.Source

	// RateStore holds rate-limit counters. Defaults to memory.
	RateStore ratelimit.Store
}

// App holds the wired services.
type App struct {
	Config config.Config
	Logger *slog.Logger

	Repos      Repositories
	Tasks      *tasks.Queue
	Notifier   notify.Sink
	Evaluator  *permission.Evaluator
	Reputation *reputation.Engine
	Verifier   *credential.Verifier
	Lifecycle  *credential.Lifecycle
	A2A        *a2a.Service

	sweeper  *a2a.Sweeper
	closers  []func() error
	quit     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New opens the configured stores and wires the services. Close releases
// everything New opened.
func New(cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = cfg.Logger()
	}
	repos, closers, err := openRepositories(cfg, logger)
	if err != nil {
		return nil, err
	}
	a, err := NewWithRepositories(cfg, logger, repos)
	if err != nil {
		for _, c := range closers {
			_ = c()
		}
		return nil, err
	}
	a.closers = append(a.closers, closers...)
	return a, nil
}

// NewWithRepositories wires the services on caller-supplied storage.
// Nil repositories fall back to in-memory implementations.
func NewWithRepositories(cfg config.Config, logger *slog.Logger, repos Repositories) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fillMemoryDefaults(&repos)

	notifier, err := buildNotifier(cfg, logger)
	if err != nil {
		return nil, err
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = config.DefaultWorkers
	}
	queue := tasks.NewQueue(tasks.QueueConfig{Workers: workers, Logger: logger})

	a := &App{
		Config:   cfg,
		Logger:   logger,
		Repos:    repos,
		Tasks:    queue,
		Notifier: notifier,
		quit:     make(chan struct{}),
	}

	a.Evaluator = permission.NewEvaluator(ratelimit.NewLimiter(repos.RateStore))
	a.Reputation = reputation.NewEngine(repos.Reputation, reputation.WithLogger(logger))

	cache := credential.NewCache(cfg.CacheTTL)
	a.Verifier, err = credential.NewVerifier(credential.VerifierConfig{
		Credentials: repos.Credentials,
		Issuers:     repos.Issuers,
		Policies:    repos.Policies,
		Revocations: repos.Revocations,
		Evaluator:   a.Evaluator,
		Rego:        policy.NewCache(),
		Reputation:  a.Reputation,
		Log:         repos.Log,
		Tasks:       queue,
		Cache:       cache,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("verifier: %w", err)
	}

	a.Lifecycle, err = credential.NewLifecycle(credential.LifecycleConfig{
		Credentials: repos.Credentials,
		Issuers:     repos.Issuers,
		Revocations: repos.Revocations,
		Cache:       cache,
		Reputation:  a.Reputation,
		Notifier:    notifier,
		Tasks:       queue,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("lifecycle: %w", err)
	}

	a.A2A, err = a2a.NewService(a2a.Config{
		Store:         repos.A2A,
		Conversations: repos.Conversations,
		Credentials:   repos.Credentials,
		Issuers:       repos.Issuers,
		Evaluator:     a.Evaluator,
		Notifier:      notifier,
		Tasks:         queue,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("a2a: %w", err)
	}
	return a, nil
}

// Start launches the authorization sweeper and, when a revocation source
// is configured, the revocation sync loop.
func (a *App) Start() {
	a.sweeper = a2a.NewSweeper(a.A2A, a.Config.SweepInterval, a.Logger)
	a.sweeper.Start()

	if a.Repos.RevocationSource != nil {
		interval := a.Config.RevocationSyncInterval
		if interval <= 0 {
			interval = config.DefaultRevocationSyncInterval
		}
		a.wg.Add(1)
		go a.syncRevocations(interval)
	}
}

// SyncRevocations pulls new revocations into the local cache once.
func (a *App) SyncRevocations(ctx context.Context) (int, error) {
	if a.Repos.RevocationSource == nil {
		return 0, nil
	}
	return revocation.Refresh(ctx, a.Repos.Revocations, a.Repos.RevocationSource)
}

func (a *App) syncRevocations(interval time.Duration) {
	defer a.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		ctx, cancel := context.WithTimeout(context.Background(), interval)
		n, err := a.SyncRevocations(ctx)
		cancel()
		if err != nil {
			a.Logger.Error("revocation sync failed", "error", err)
		} else if n > 0 {
			a.Logger.Info("revocations synced", "count", n)
		}

		select {
		case <-ticker.C:
		case <-a.quit:
			return
		}
	}
}

// Close stops background loops, drains queued side effects and closes
// the stores.
func (a *App) Close(ctx context.Context) error {
	a.stopOnce.Do(func() { close(a.quit) })
	if a.sweeper != nil {
		a.sweeper.Stop()
	}
	a.wg.Wait()

	var errs []error
	if err := a.Tasks.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("drain tasks: %w", err))
	}
	for _, c := range a.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func openRepositories(cfg config.Config, logger *slog.Logger) (Repositories, []func() error, error) {
	var (
		repos   Repositories
		closers []func() error
	)
	fail := func(err error) (Repositories, []func() error, error) {
		for _, c := range closers {
			_ = c()
		}
		return Repositories{}, nil, err
	}

	if cfg.PostgresDSN != "" {
		pg, err := postgres.Open(cfg.PostgresDSN)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, pg.Close)
		repos.Credentials, repos.Issuers, repos.Policies = pg, pg, pg
		repos.RevocationSource = pg
		logger.Info("using postgres credential repository")
	}

	if repos.Issuers == nil && cfg.TrustDir != "" {
		ts, err := trust.NewFileStore(cfg.TrustDir)
		if err != nil {
			return fail(err)
		}
		repos.Issuers = ts
		logger.Info("using file trust store", "dir", cfg.TrustDir)
	}

	if cfg.DBPath != "" {
		db, err := sqlite.Open(cfg.DBPath)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, db.Close)
		repos.A2A, repos.Reputation, repos.Log = db.A2A(), db.Reputation(), db
		repos.Conversations = db.Conversations()
		logger.Info("using sqlite store", "path", cfg.DBPath)
	}

	if cfg.RevocationCachePath != "" {
		fc, err := revocation.NewFileCache(cfg.RevocationCachePath)
		if err != nil {
			return fail(err)
		}
		repos.Revocations = fc
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		rs, err := ratelimit.NewRedisStore(client, "")
		if err != nil {
			_ = client.Close()
			return fail(err)
		}
		closers = append(closers, client.Close)
		repos.RateStore = rs
		logger.Info("using redis rate limit store", "addr", cfg.RedisAddr)
	}

	return repos, closers, nil
}

func fillMemoryDefaults(r *Repositories) {
	var mem *credential.MemoryStore
	memory := func() *credential.MemoryStore {
		if mem == nil {
			mem = credential.NewMemoryStore()
		}
		return mem
	}
	if r.Credentials == nil {
		r.Credentials = memory()
	}
	if r.Issuers == nil {
		r.Issuers = memory()
	}
	if r.Policies == nil {
		r.Policies = memory()
	}
	if r.Log == nil {
		r.Log = memory()
	}
	if r.A2A == nil {
		mem := a2a.NewMemoryStore()
		r.A2A = mem
		if r.Conversations == nil {
			r.Conversations = mem
		}
	}
	if r.Reputation == nil {
		r.Reputation = reputation.NewMemoryStore()
	}
	if r.Revocations == nil {
		r.Revocations = revocation.NewMemoryCache()
	}
	if r.RateStore == nil {
		r.RateStore = ratelimit.NewMemoryStore(ratelimit.MemoryStoreConfig{})
	}
}

func buildNotifier(cfg config.Config, logger *slog.Logger) (notify.Sink, error) {
	sinks := notify.Multi{notify.LogSink{Logger: logger}}
	if cfg.WebhookURL != "" {
		wh, err := notify.NewWebhookSink(notify.WebhookConfig{URL: cfg.WebhookURL, Secret: cfg.WebhookSecret})
		if err != nil {
			return nil, fmt.Errorf("webhook: %w", err)
		}
		sinks = append(sinks, wh)
	}
	return sinks, nil
}
