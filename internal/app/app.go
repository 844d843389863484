// Package app assembles the stores, services and engine from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/redis/go-redis/v9"
	"github.com/weeargh/kiwi/internal/api"
	"github.com/weeargh/kiwi/internal/cache"
	"github.com/weeargh/kiwi/internal/config"
	"github.com/weeargh/kiwi/internal/domain/audit"
	"github.com/weeargh/kiwi/internal/domain/grant"
	"github.com/weeargh/kiwi/internal/domain/price"
	"github.com/weeargh/kiwi/internal/domain/tenant"
	"github.com/weeargh/kiwi/internal/domain/vesting"
	"github.com/weeargh/kiwi/internal/lease"
	"github.com/weeargh/kiwi/internal/queue"
	"github.com/weeargh/kiwi/internal/repository"
	"github.com/weeargh/kiwi/internal/sqlite"
	"github.com/weeargh/kiwi/internal/transport"
)

// PriceService is the price surface shared by the engine and the API.
type PriceService interface {
	api.PriceService
	vesting.PriceLookup
}

// App holds the wired components of one process.
type App struct {
	Config config.Config
	Logger *slog.Logger

	DB      *sqlite.DB
	APIKeys *sqlite.APIKeyRepository

	Tenants   *tenant.Service
	Grants    *grant.Service
	Prices    PriceService
	Audit     *audit.Service
	Processor *vesting.Processor
	Batch     *vesting.BatchRunner
	Handler   *api.Handler

	// Consumer is set in amqp trigger mode; the caller runs it.
	Consumer *queue.Consumer

	closers []func() error
}

// New opens the database at cfg.DB.Path, applies migrations and wires every
// service. Close releases what it opened.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if err := ensureDBDir(cfg.DB.Path); err != nil {
		return nil, fmt.Errorf("preparing database path: %w", err)
	}
	db, err := sqlite.New(cfg.DB.Path)
	if err != nil {
		return nil, err
	}
	if err := db.RunMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}

	a, err := Wire(ctx, db, cfg, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	a.closers = append(a.closers, db.Close)
	return a, nil
}

// Wire builds the services over an already migrated database.
func Wire(ctx context.Context, db *sqlite.DB, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	a := &App{Config: cfg, Logger: logger, DB: db, APIKeys: sqlite.NewAPIKeyRepository(db)}

	a.Audit = audit.NewService(sqlite.NewAuditRepository(db), logger)
	a.Tenants = tenant.NewService(sqlite.NewTenantRepository(db), logger)
	priceSvc := price.NewService(sqlite.NewPriceRepository(db), a.Audit, logger)
	a.Prices = priceSvc
	if cfg.PriceCache.Enabled {
		pc, err := cache.NewPriceCache(priceSvc, cfg.PriceCache.MaxCost, cfg.PriceCache.TTL)
		if err != nil {
			return nil, fmt.Errorf("creating price cache: %w", err)
		}
		a.Prices = pc
		a.closers = append(a.closers, func() error { pc.Close(); return nil })
	}

	a.Processor = vesting.NewProcessor(sqlite.NewVestingStore(db), a.Prices, a.Audit, a.Tenants, logger)

	grantRepo := sqlite.NewGrantRepository(db)
	a.Grants = grant.NewService(grantRepo, a.Audit, nil, logger)
	switch cfg.Trigger.Mode {
	case "amqp":
		pub, err := queue.Dial(cfg.Trigger.AMQPURL, cfg.Trigger.Queue, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connecting grant publisher: %w", err)
		}
		a.Grants.SetCreatedHook(pub)
		a.closers = append(a.closers, pub.Close)
		a.Consumer = queue.NewConsumer(a.Processor, logger)
	default:
		a.Grants.SetCreatedHook(a.Processor)
	}

	var batchLease vesting.Lease
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, batch runs will retry the lease each time", "addr", cfg.Redis.Addr, "error", err)
		}
		batchLease = lease.NewRedisLease(client, "")
		a.closers = append(a.closers, client.Close)
	}
	a.Batch = vesting.NewBatchRunner(a.Tenants, grantRepo, a.Processor, batchLease, vesting.BatchConfig{
		TenantConcurrency: cfg.Batch.TenantConcurrency,
		LeaseTTL:          cfg.Batch.LeaseTTL,
	}, logger)

	a.Handler = api.NewHandler(api.Services{
		Tenants: a.Tenants,
		Grants:  a.Grants,
		Vesting: a.Processor,
		Batch:   a.Batch,
		Prices:  a.Prices,
		Audit:   a.Audit,
	})
	return a, nil
}

// ResolveTenant maps a bearer token to its tenant. Unknown tokens report
// transport.ErrUnauthorized.
func (a *App) ResolveTenant(ctx context.Context, token string) (string, error) {
	tenantID, err := a.APIKeys.ResolveTenant(ctx, token)
	if errors.Is(err, repository.ErrNotFound) {
		return "", transport.ErrUnauthorized
	}
	return tenantID, err
}

// IssueAPIKey stores token as a key for tenantID.
func (a *App) IssueAPIKey(ctx context.Context, tenantID, token, description string) error {
	if _, err := a.Tenants.Get(ctx, tenantID); err != nil {
		return err
	}
	return a.APIKeys.Create(ctx, &repository.APIKey{
		KeyHash:     sqlite.HashToken(token),
		TenantID:    tenantID,
		Description: description,
	})
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func ensureDBDir(path string) error {
	if path == ":memory:" || path == "" {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
