package vesting

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/weeargh/kiwi/internal/civil"
	"github.com/weeargh/kiwi/internal/domain/grant"
	"github.com/weeargh/kiwi/internal/domain/tenant"
)

// SystemActor is the actor ID recorded for scheduled batch runs.
const SystemActor = "system:batch"

// GrantProcessor is the single-grant entry point the batch drives.
type GrantProcessor interface {
	Process(ctx context.Context, req ProcessRequest) ([]Event, error)
}

// GrantError records one grant, or one tenant when GrantID is empty, that
// failed during a batch run.
type GrantError struct {
	TenantID string `json:"tenant_id"`
	GrantID  string `json:"grant_id,omitempty"`
	Error    string `json:"error"`
}

// Summary reports the outcome of a batch run.
type Summary struct {
	TenantsProcessed int          `json:"tenants_processed"`
	GrantsProcessed  int          `json:"grants_processed"`
	EventsCreated    int          `json:"events_created"`
	Errors           []GrantError `json:"errors"`
	// Skipped is set when another runner held the batch lease.
	Skipped    bool      `json:"skipped,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// BatchConfig tunes a BatchRunner.
type BatchConfig struct {
	// TenantConcurrency is how many tenants run at once. Grants within a
	// tenant always run sequentially, oldest grant date first.
	TenantConcurrency int
	// LeaseTTL bounds how long a run holds the batch lease.
	LeaseTTL time.Duration
	ActorID  string
}

// BatchRunner vests every active grant of every active tenant.
type BatchRunner struct {
	tenants   TenantRegistry
	grants    GrantLister
	processor GrantProcessor
	lease     Lease
	cfg       BatchConfig
	logger    *slog.Logger
	now       func() time.Time
}

// NewBatchRunner creates a batch runner. lease may be nil.
func NewBatchRunner(tenants TenantRegistry, grants GrantLister, processor GrantProcessor, lease Lease, cfg BatchConfig, logger *slog.Logger) *BatchRunner {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.TenantConcurrency < 1 {
		cfg.TenantConcurrency = 1
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 30 * time.Minute
	}
	if cfg.ActorID == "" {
		cfg.ActorID = SystemActor
	}
	return &BatchRunner{
		tenants:   tenants,
		grants:    grants,
		processor: processor,
		lease:     lease,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// SetClock overrides the wall clock.
func (b *BatchRunner) SetClock(now func() time.Time) {
	b.now = now
}

// RunDaily processes every active grant as of today in its tenant's timezone.
//
// A failing grant is recorded in the summary and does not stop the run. When
// ctx ends mid-run the grants already committed stay committed, the rest are
// left for the next run, and ctx's error is returned with the partial summary.
func (b *BatchRunner) RunDaily(ctx context.Context) (Summary, error) {
	summary := Summary{StartedAt: b.now().UTC(), Errors: []GrantError{}}

	if b.lease != nil {
		key := "vesting:batch:" + civil.Today(summary.StartedAt, time.UTC).String()
		release, ok, err := b.lease.Acquire(ctx, key, b.cfg.LeaseTTL)
		switch {
		case err != nil:
			b.logger.Warn("batch lease unavailable, running without it", "error", err)
		case !ok:
			b.logger.Info("batch already running elsewhere, skipping", "lease", key)
			summary.Skipped = true
			summary.FinishedAt = b.now().UTC()
			return summary, nil
		default:
			defer func() {
				if err := release(context.WithoutCancel(ctx)); err != nil {
					b.logger.Warn("batch lease release failed", "error", err)
				}
			}()
		}
	}

	tenants, err := b.tenants.ListActive(ctx)
	if err != nil {
		return summary, fmt.Errorf("listing tenants: %w", err)
	}

	b.logger.Info("vesting batch started", "tenants", len(tenants))

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(b.cfg.TenantConcurrency)
	for _, t := range tenants {
		g.Go(func() error {
			result := b.runTenant(ctx, t)
			mu.Lock()
			defer mu.Unlock()
			if result.listed {
				summary.TenantsProcessed++
			}
			summary.GrantsProcessed += result.grants
			summary.EventsCreated += result.events
			summary.Errors = append(summary.Errors, result.errors...)
			return nil
		})
	}
	_ = g.Wait()

	summary.FinishedAt = b.now().UTC()
	b.logger.Info("vesting batch finished",
		"tenants", summary.TenantsProcessed,
		"grants", summary.GrantsProcessed,
		"events", summary.EventsCreated,
		"errors", len(summary.Errors),
		"duration", summary.FinishedAt.Sub(summary.StartedAt).String(),
	)

	return summary, ctx.Err()
}

type tenantResult struct {
	listed bool
	grants int
	events int
	errors []GrantError
}

func (b *BatchRunner) runTenant(ctx context.Context, t tenant.Tenant) tenantResult {
	var res tenantResult

	loc, err := tenant.LoadLocation(t.Timezone)
	if err != nil {
		res.errors = append(res.errors, GrantError{TenantID: t.ID, Error: err.Error()})
		return res
	}
	asOf := civil.Today(b.now(), loc)

	grants, err := b.grants.ListActive(ctx, t.ID)
	if err != nil {
		res.errors = append(res.errors, GrantError{TenantID: t.ID, Error: fmt.Sprintf("listing grants: %v", err)})
		return res
	}
	res.listed = true
	sortOldestFirst(grants)

	for _, gr := range grants {
		if ctx.Err() != nil {
			break
		}
		events, err := b.processor.Process(ctx, ProcessRequest{
			TenantID: t.ID,
			GrantID:  gr.ID,
			AsOf:     asOf,
			ActorID:  b.cfg.ActorID,
		})
		res.grants++
		if err != nil {
			b.logger.Error("grant vesting failed", "tenant_id", t.ID, "grant_id", gr.ID, "error", err)
			res.errors = append(res.errors, GrantError{TenantID: t.ID, GrantID: gr.ID, Error: err.Error()})
			continue
		}
		res.events += len(events)
	}
	return res
}

func sortOldestFirst(grants []grant.Grant) {
	sort.SliceStable(grants, func(i, j int) bool {
		if c := grants[i].GrantDate.Compare(grants[j].GrantDate); c != 0 {
			return c < 0
		}
		return grants[i].ID < grants[j].ID
	})
}
