package recon

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"panelsync/internal/config"
	"panelsync/internal/events"
	"panelsync/internal/lock"
	"panelsync/internal/models"
	"panelsync/internal/panel"
	"panelsync/internal/repository"
)

// Engine periodically polls panels, reconciles reported traffic/expiry
// against the account ledger and drives lifecycle transitions. One worker
// per panel, so an unreachable panel never blocks polling of the others.
type Engine struct {
	cfg      config.ReconConfig
	accounts *repository.AccountRepository
	panels   *repository.PanelRepository
	factory  panel.Factory
	health   *HealthTracker
	bus      *events.Bus
	locks    *lock.KeyedMutex
	cron     *cron.Cron
	logger   *zap.Logger
}

// New creates the reconciliation engine. locks must be the same keyed mutex
// the orchestrator uses, so both serialize per-account mutations.
func New(
	cfg config.ReconConfig,
	accounts *repository.AccountRepository,
	panels *repository.PanelRepository,
	factory panel.Factory,
	health *HealthTracker,
	bus *events.Bus,
	locks *lock.KeyedMutex,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		cfg:      cfg,
		accounts: accounts,
		panels:   panels,
		factory:  factory,
		health:   health,
		bus:      bus,
		locks:    locks,
		cron:     cron.New(cron.WithSeconds()),
		logger:   logger,
	}
}

// Start registers and starts the reconciliation schedules.
func (e *Engine) Start() error {
	interval := e.cfg.IntervalMinutes
	if interval <= 0 {
		interval = 5
	}
	probe := e.cfg.ProbeMinutes
	if probe <= 0 {
		probe = 10
	}
	// A minute step above 59 wraps to once per hour instead of every N
	// minutes; reject it instead of running on the wrong cadence.
	if interval > 59 || probe > 59 {
		return fmt.Errorf("schedule interval out of range: sync %dm, probe %dm (max 59)", interval, probe)
	}

	if _, err := e.cron.AddFunc(fmt.Sprintf("0 */%d * * * *", interval), func() {
		e.logger.Debug("Running: panel reconciliation")
		e.SyncAll(context.Background())
	}); err != nil {
		return fmt.Errorf("reconciliation schedule: %w", err)
	}
	if _, err := e.cron.AddFunc(fmt.Sprintf("0 */%d * * * *", probe), func() {
		e.logger.Debug("Running: panel probe")
		e.ProbePanels(context.Background())
	}); err != nil {
		return fmt.Errorf("probe schedule: %w", err)
	}

	e.cron.Start()
	e.logger.Info("Reconciliation engine started",
		zap.Int("interval_minutes", interval), zap.Int("probe_minutes", probe))
	return nil
}

// Stop gracefully stops the schedules.
func (e *Engine) Stop() context.Context {
	return e.cron.Stop()
}

// SyncAll reconciles every active panel concurrently and waits for all
// workers to finish.
func (e *Engine) SyncAll(ctx context.Context) {
	panels, err := e.panels.FindActive()
	if err != nil {
		e.logger.Error("Failed to list active panels", zap.Error(err))
		return
	}

	var wg sync.WaitGroup
	for i := range panels {
		p := panels[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.syncPanel(ctx, &p)
		}()
	}
	wg.Wait()
}

// syncPanel reconciles one panel's accounts. The first unreachable/auth
// failure counts once against the panel and aborts the rest of its cycle,
// leaving last_synced_at stale as the observable health signal.
func (e *Engine) syncPanel(ctx context.Context, p *models.Panel) {
	client, err := e.factory(p, e.cfg.PanelTimeout)
	if err != nil {
		e.logger.Error("Panel adapter construction failed",
			zap.Uint("panel_id", p.ID), zap.Error(err))
		return
	}

	accounts, err := e.accounts.FindSyncable(p.ID)
	if err != nil {
		e.logger.Error("Failed to list syncable accounts",
			zap.Uint("panel_id", p.ID), zap.Error(err))
		return
	}

	for i := range accounts {
		if err := e.syncAccount(ctx, client, p, &accounts[i]); err != nil {
			if errors.Is(err, panel.ErrUnreachable) || errors.Is(err, panel.ErrAuthFailed) {
				e.PanelFailure(p.ID)
				return
			}
			e.logger.Warn("Account sync failed",
				zap.Uint("account_id", accounts[i].ID), zap.Error(err))
			continue
		}
		e.health.Success(p.ID)
	}
}

// syncAccount fetches panel-reported truth for one account and applies the
// lifecycle policy under the account's critical section.
func (e *Engine) syncAccount(ctx context.Context, client panel.Client, p *models.Panel, acct *models.VpnAccount) error {
	unlock := e.locks.Lock(accountKey(acct.ID))
	defer unlock()

	callCtx, cancel := context.WithTimeout(ctx, e.panelTimeout())
	defer cancel()

	stats, err := client.FetchClientStats(callCtx, acct.RemoteID)
	if errors.Is(err, panel.ErrClientNotFound) {
		// Remote side lost the client; nothing to reconcile against.
		e.logger.Warn("Remote client missing during sync",
			zap.Uint("account_id", acct.ID), zap.String("remote_id", acct.RemoteID))
		return nil
	}
	if err != nil {
		return err
	}

	merged := mergeTraffic(acct.TrafficUsed, stats.TrafficUsed)
	if err := e.accounts.UpdateSync(acct.ID, merged, stats.ExpiresAt); err != nil {
		return err
	}
	acct.TrafficUsed = merged
	if !stats.ExpiresAt.IsZero() {
		acct.ExpiresAt = stats.ExpiresAt
	}

	return e.applyLifecycle(callCtx, client, acct)
}

// applyLifecycle drives the account status machine from reconciled facts.
func (e *Engine) applyLifecycle(ctx context.Context, client panel.Client, acct *models.VpnAccount) error {
	now := time.Now()

	switch acct.Status {
	case models.AccountActive:
		e.maybeWarn(acct, now)

		hardExpired := !acct.ExpiresAt.IsZero() && !now.Before(acct.ExpiresAt)
		if acct.OverLimit() || hardExpired {
			if err := e.transition(acct, models.AccountActive, models.AccountExpired); err != nil {
				return err
			}
			e.publish(events.AccountExpired, acct)
		}

	case models.AccountExpired:
		if !acct.ExpiredAt.Valid {
			return nil
		}
		if now.Sub(acct.ExpiredAt.Time) < e.cfg.GracePeriod {
			return nil
		}
		// Grace window over: disable remotely, then suspend. A remote
		// failure leaves the account expired for the next cycle.
		disabled := false
		if err := client.UpdateClient(ctx, acct.RemoteID, panel.ClientPatch{Enabled: &disabled}); err != nil {
			if !errors.Is(err, panel.ErrClientNotFound) {
				return err
			}
		}
		if err := e.transition(acct, models.AccountExpired, models.AccountSuspended); err != nil {
			return err
		}
		e.publish(events.AccountSuspended, acct)
	}
	return nil
}

// maybeWarn emits each near-limit warning once per provisioning period.
func (e *Engine) maybeWarn(acct *models.VpnAccount, now time.Time) {
	if !acct.WarnedUsage && acct.TrafficLimit > 0 && !acct.OverLimit() {
		pct := int64(e.cfg.WarnUsagePercent)
		if pct > 0 && acct.TrafficUsed*100 >= acct.TrafficLimit*pct {
			if err := e.accounts.Update(acct.ID, map[string]interface{}{"warned_usage": true}); err == nil {
				acct.WarnedUsage = true
				e.publish(events.AccountWarnedUsage, acct)
			}
		}
	}

	if !acct.WarnedExpiry && !acct.ExpiresAt.IsZero() && e.cfg.WarnExpiryWithin > 0 {
		until := acct.ExpiresAt.Sub(now)
		if until > 0 && until <= e.cfg.WarnExpiryWithin {
			if err := e.accounts.Update(acct.ID, map[string]interface{}{"warned_expiry": true}); err == nil {
				acct.WarnedExpiry = true
				e.publish(events.AccountWarnedExpiry, acct)
			}
		}
	}
}

// transition applies a guarded status change, retrying once on a lost race.
func (e *Engine) transition(acct *models.VpnAccount, from, to string) error {
	err := e.accounts.TransitionStatus(acct.ID, from, to)
	if errors.Is(err, repository.ErrConcurrencyConflict) {
		current, ferr := e.accounts.FindByID(acct.ID)
		if ferr != nil {
			return ferr
		}
		if current.Status != from {
			// Someone else already moved it; nothing left to do.
			acct.Status = current.Status
			return repository.ErrConcurrencyConflict
		}
		err = e.accounts.TransitionStatus(acct.ID, from, to)
	}
	if err != nil {
		return err
	}
	acct.Status = to
	return nil
}

// ProbePanels checks error panels for recovery (circuit half-open) and
// stamps liveness on active panels.
func (e *Engine) ProbePanels(ctx context.Context) {
	errored, err := e.panels.FindByStatus(models.PanelError)
	if err != nil {
		e.logger.Error("Failed to list error panels", zap.Error(err))
		return
	}
	for i := range errored {
		p := errored[i]
		if e.ping(ctx, &p) == nil {
			e.health.Success(p.ID)
			if err := e.panels.SetStatus(p.ID, models.PanelActive); err != nil {
				e.logger.Error("Failed to reactivate panel", zap.Uint("panel_id", p.ID), zap.Error(err))
				continue
			}
			e.panels.TouchHealthCheck(p.ID)
			e.bus.Publish(events.Event{Kind: events.PanelRecovered, PanelID: p.ID})
			e.logger.Info("Panel recovered", zap.Uint("panel_id", p.ID))
		}
	}

	active, err := e.panels.FindActive()
	if err != nil {
		e.logger.Error("Failed to list active panels", zap.Error(err))
		return
	}
	for i := range active {
		p := active[i]
		if e.ping(ctx, &p) == nil {
			e.health.Success(p.ID)
			e.panels.TouchHealthCheck(p.ID)
		} else {
			e.PanelFailure(p.ID)
		}
	}
}

func (e *Engine) ping(ctx context.Context, p *models.Panel) error {
	client, err := e.factory(p, e.cfg.PanelTimeout)
	if err != nil {
		return err
	}
	callCtx, cancel := context.WithTimeout(ctx, e.panelTimeout())
	defer cancel()
	return client.Ping(callCtx)
}

// PanelFailure records one consecutive failure against a panel and opens
// the circuit once the threshold is crossed. Shared with the orchestrator
// so provisioning failures count against the same breaker.
func (e *Engine) PanelFailure(panelID uint) {
	n := e.health.Failure(panelID)
	if n < e.health.Threshold() {
		return
	}
	if err := e.panels.SetStatus(panelID, models.PanelError); err != nil {
		e.logger.Error("Failed to mark panel errored", zap.Uint("panel_id", panelID), zap.Error(err))
		return
	}
	e.bus.Publish(events.Event{Kind: events.PanelTripped, PanelID: panelID})
	e.logger.Warn("Panel circuit opened",
		zap.Uint("panel_id", panelID), zap.Int("consecutive_failures", n))
}

// Health exposes the shared failure tracker.
func (e *Engine) Health() *HealthTracker {
	return e.health
}

func (e *Engine) publish(kind events.Kind, acct *models.VpnAccount) {
	e.bus.Publish(events.Event{
		Kind:      kind,
		AccountID: acct.ID,
		UserID:    acct.UserID,
		PanelID:   acct.PanelID,
	})
}

func (e *Engine) panelTimeout() time.Duration {
	if e.cfg.PanelTimeout > 0 {
		return e.cfg.PanelTimeout
	}
	return 30 * time.Second
}

// mergeTraffic keeps stored usage monotonic: a lower report is ignored as a
// misread, except an exact zero, which is an explicit panel-side reset.
func mergeTraffic(stored, reported int64) int64 {
	if reported == 0 {
		return 0
	}
	if reported < stored {
		return stored
	}
	return reported
}

func accountKey(id uint) string {
	return "account:" + strconv.FormatUint(uint64(id), 10)
}

// AccountLockKey is the shared lock key for one account's critical section.
func AccountLockKey(id uint) string {
	return accountKey(id)
}
