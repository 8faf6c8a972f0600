// Package coordinator schedules the periodic reconciliation passes that keep
// local records convergent with the remote platform.
package coordinator

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/launchfold/tenant-sync-server/internal/engine"
	"github.com/launchfold/tenant-sync-server/internal/store"
	"github.com/launchfold/tenant-sync-server/internal/telemetry"
)

const (
	// defaultBaseInterval is the base interval between reconciliation passes
	defaultBaseInterval = 2 * time.Minute
	// pollingJitter is the maximum random offset (±30 seconds) applied to the interval
	pollingJitter = 30 * time.Second
)

// Syncer runs full reconciliation passes. Satisfied by *engine.Engine.
type Syncer interface {
	SyncAllTenants(ctx context.Context) engine.Result
}

// Coordinator manages background reconciliation scheduling
type Coordinator interface {
	// Start begins background reconciliation.
	// Blocks until the context is cancelled.
	Start(ctx context.Context) error

	// Stop gracefully stops the coordinator
	Stop() error
}

// defaultCoordinator is the default implementation of Coordinator
type defaultCoordinator struct {
	syncer  Syncer
	tenants store.TenantStore
	logger  *slog.Logger

	baseInterval time.Duration

	// Lifecycle management
	cancelFunc context.CancelFunc
	done       chan struct{}

	// Metrics
	syncMetrics   *telemetry.SyncMetrics
	tenantMetrics *telemetry.TenantMetrics
}

// Option is a function that configures the coordinator
type Option func(*defaultCoordinator)

// WithInterval sets the base interval between reconciliation passes
func WithInterval(interval time.Duration) Option {
	return func(c *defaultCoordinator) {
		if interval > 0 {
			c.baseInterval = interval
		}
	}
}

// WithSyncMetrics sets the sync metrics for the coordinator
func WithSyncMetrics(metrics *telemetry.SyncMetrics) Option {
	return func(c *defaultCoordinator) {
		c.syncMetrics = metrics
	}
}

// WithTenantMetrics sets the tenant metrics for the coordinator
func WithTenantMetrics(metrics *telemetry.TenantMetrics) Option {
	return func(c *defaultCoordinator) {
		c.tenantMetrics = metrics
	}
}

// New creates a new coordinator with injected dependencies
func New(syncer Syncer, tenants store.TenantStore, logger *slog.Logger, opts ...Option) Coordinator {
	c := &defaultCoordinator{
		syncer:       syncer,
		tenants:      tenants,
		logger:       logger,
		baseInterval: defaultBaseInterval,
		done:         make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// pollingInterval returns the base interval with a random jitter applied.
// The jitter keeps multiple instances from hitting the store simultaneously.
func (c *defaultCoordinator) pollingInterval() time.Duration {
	jitter := min(pollingJitter, c.baseInterval/4)
	if jitter <= 0 {
		return c.baseInterval
	}
	//nolint:gosec // G404: Non-cryptographic randomness is sufficient for polling jitter
	jitterOffset := time.Duration(rand.Int64N(int64(2*jitter))) - jitter
	return c.baseInterval + jitterOffset
}

// Start begins background reconciliation
func (c *defaultCoordinator) Start(ctx context.Context) error {
	coordCtx, cancel := context.WithCancel(ctx)
	c.cancelFunc = cancel
	defer func() {
		close(c.done)
		c.logger.Info("sync coordinator shutting down")
	}()

	interval := c.pollingInterval()
	c.logger.Info("starting sync coordinator",
		"base_interval", c.baseInterval,
		"actual_interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Initial pass before the first tick.
	c.runPass(coordCtx)

	for {
		select {
		case <-ticker.C:
			c.runPass(coordCtx)

			// Recalculate interval with new jitter for the next iteration.
			ticker.Reset(c.pollingInterval())
		case <-coordCtx.Done():
			c.logger.Info("sync coordinator stopping")
			return nil
		}
	}
}

// Stop gracefully stops the coordinator
func (c *defaultCoordinator) Stop() error {
	if c.cancelFunc != nil {
		c.logger.Info("stopping sync coordinator")
		c.cancelFunc()
		// Wait for the loop to finish.
		<-c.done
	}
	return nil
}

// runPass executes one full reconciliation pass and records its metrics
func (c *defaultCoordinator) runPass(ctx context.Context) {
	startTime := time.Now()

	c.logger.Info("starting reconciliation pass")
	result := c.syncer.SyncAllTenants(ctx)
	duration := time.Since(startTime)

	success := result.Success && result.Summary.Errors == 0
	c.syncMetrics.RecordSyncDuration(ctx, "all", duration, success)
	if result.Summary.Errors > 0 {
		c.syncMetrics.RecordErrors(ctx, "all", int64(result.Summary.Errors))
	}

	if result.Success {
		c.logger.Info("reconciliation pass complete",
			"message", result.Message,
			"created", result.Summary.Created,
			"updated", result.Summary.Updated,
			"skipped", result.Summary.Skipped,
			"deleted", result.Summary.Deleted,
			"errors", result.Summary.Errors,
			"duration", duration)
	} else {
		c.logger.Error("reconciliation pass failed",
			"message", result.Message,
			"error", result.Err,
			"duration", duration)
	}

	c.recordTenantCounts(ctx)
}

// recordTenantCounts gauges the tenant population by lifecycle status
func (c *defaultCoordinator) recordTenantCounts(ctx context.Context) {
	if c.tenantMetrics == nil {
		return
	}

	for _, status := range []store.TenantStatus{store.TenantStatusDraft, store.TenantStatusApproved} {
		tenants, err := c.tenants.ListTenants(ctx, store.TenantFilter{Status: &status})
		if err != nil {
			c.logger.Error("failed to count tenants", "status", status, "error", err)
			continue
		}
		c.tenantMetrics.RecordTenantsTotal(ctx, string(status), int64(len(tenants)))
	}
}
