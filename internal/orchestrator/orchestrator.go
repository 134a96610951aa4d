package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"panelsync/internal/config"
	"panelsync/internal/events"
	"panelsync/internal/lock"
	"panelsync/internal/models"
	"panelsync/internal/panel"
	"panelsync/internal/protocol"
	"panelsync/internal/recon"
	"panelsync/internal/repository"
)

// Repos bundles the stores the orchestrator coordinates.
type Repos struct {
	Account *repository.AccountRepository
	Wallet  *repository.WalletRepository
	Panel   *repository.PanelRepository
	Plan    *repository.PlanRepository
	User    *repository.UserRepository
}

// Orchestrator is the synchronous entry point for purchases, renewals and
// revokes. Each provisioning attempt walks
// Requested -> Debited -> RemoteCreated -> Recorded -> Done, compensating
// prior steps when a later one fails. Only the remote-create step crosses
// the network and only it is retried.
type Orchestrator struct {
	cfg      config.ProvisionConfig
	repos    *Repos
	registry *protocol.Registry
	factory  panel.Factory
	engine   *recon.Engine
	locks    *lock.KeyedMutex
	logger   *zap.Logger
}

// New creates the orchestrator. locks must be shared with the
// reconciliation engine.
func New(
	cfg config.ProvisionConfig,
	repos *Repos,
	registry *protocol.Registry,
	factory panel.Factory,
	engine *recon.Engine,
	locks *lock.KeyedMutex,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		repos:    repos,
		registry: registry,
		factory:  factory,
		engine:   engine,
		locks:    locks,
		logger:   logger,
	}
}

// RequestPurchase provisions a new account for a plan, pairing the wallet
// debit with the remote account creation as one logical unit. idemKey makes
// retried requests safe: the same key is never charged twice.
func (o *Orchestrator) RequestPurchase(ctx context.Context, userID string, planID uint, idemKey string) Result {
	if strings.TrimSpace(idemKey) == "" {
		return result(ResultFailed)
	}

	// One purchase flow per (user, plan) at a time: the live-account guard
	// below and the record write at the end are a check-then-act pair, and
	// the remote-create step between them is slow.
	unlock := o.locks.Lock(purchaseKey(userID, planID))
	defer unlock()

	// Requested: replay check before any money moves.
	if prior, err := o.repos.Wallet.FindByReference(idemKey); err != nil {
		o.logger.Error("Idempotency lookup failed", zap.Error(err))
		return result(ResultFailed)
	} else if prior != nil {
		acct, err := o.repos.Account.FindByPurchaseRef(idemKey)
		if err != nil {
			return result(ResultFailed)
		}
		if acct != nil {
			return Result{Kind: ResultOK, Account: acct}
		}
		// Charged and compensated earlier; the key is spent.
		return result(ResultDuplicate)
	}

	plan, err := o.repos.Plan.FindByID(planID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return result(ResultPlanUnavailable)
	}
	if err != nil {
		return result(ResultFailed)
	}
	if !plan.Active {
		return result(ResultPlanUnavailable)
	}

	if existing, err := o.repos.Account.FindNonTerminal(userID, planID); err != nil {
		return result(ResultFailed)
	} else if existing != nil {
		// One non-terminal account per (user, plan); renew instead.
		return Result{Kind: ResultConflict, Account: existing}
	}

	if _, err := o.registry.EncoderFor(plan.Protocol); err != nil {
		o.logger.Error("No encoder for plan protocol",
			zap.String("protocol", plan.Protocol), zap.Uint("plan_id", planID), zap.Error(err))
		return result(ResultPlanUnavailable)
	}

	target, err := o.selectPanel(plan.Protocol)
	if err != nil {
		return result(ResultPanelUnavailable)
	}

	if err := o.repos.User.EnsureExists(userID); err != nil {
		return result(ResultFailed)
	}

	// Debited.
	debit := &models.WalletTransaction{
		UserID:      userID,
		Amount:      -plan.Price,
		Type:        models.TxPurchase,
		Status:      models.TxCompleted,
		ReferenceID: idemKey,
		Note:        fmt.Sprintf("purchase plan %d", plan.ID),
	}
	if err := o.repos.Wallet.Append(debit); err != nil {
		if errors.Is(err, repository.ErrInsufficientBalance) {
			return result(ResultInsufficientBalance)
		}
		o.logger.Error("Wallet debit failed", zap.Error(err))
		return result(ResultFailed)
	}

	// RemoteCreated.
	spec := panel.AccountSpec{
		Username:     clientUsername(userID),
		Protocol:     plan.Protocol,
		TrafficLimit: plan.TrafficLimit,
		ExpiresAt:    time.Now().AddDate(0, 0, plan.DurationDays),
		Note:         fmt.Sprintf("user:%s plan:%d", userID, plan.ID),
	}
	remoteID, err := o.createRemote(ctx, target, spec)
	if err != nil {
		o.compensateDebit(debit, "remote create failed")
		if errors.Is(err, panel.ErrUnreachable) || errors.Is(err, panel.ErrAuthFailed) {
			o.engine.PanelFailure(target.ID)
			return result(ResultPanelUnavailable)
		}
		// Vendor rejection maps to "plan unavailable" at the boundary.
		return result(ResultPlanUnavailable)
	}

	// Recorded.
	acct := &models.VpnAccount{
		UserID:       userID,
		PanelID:      target.ID,
		InboundID:    target.InboundID,
		RemoteID:     remoteID,
		Protocol:     plan.Protocol,
		PlanID:       plan.ID,
		PurchaseRef:  idemKey,
		TrafficLimit: plan.TrafficLimit,
		ExpiresAt:    spec.ExpiresAt,
		Status:       models.AccountActive,
	}
	if err := o.repos.Account.Create(acct); err != nil {
		o.logger.Error("Account record write failed, compensating",
			zap.String("remote_id", remoteID), zap.Error(err))
		o.deleteRemote(ctx, target, remoteID)
		o.compensateDebit(debit, "record write failed")
		return result(ResultFailed)
	}

	// Done.
	o.logger.Info("Purchase provisioned",
		zap.String("user_id", userID), zap.Uint("plan_id", plan.ID),
		zap.Uint("panel_id", target.ID), zap.Uint("account_id", acct.ID))
	return Result{Kind: ResultOK, Account: acct}
}

// RequestRenewal extends an account for another plan period on the same
// remote identifier. A suspended account returns to active only through
// this path.
func (o *Orchestrator) RequestRenewal(ctx context.Context, accountID uint, idemKey string) Result {
	if strings.TrimSpace(idemKey) == "" {
		return result(ResultFailed)
	}

	unlock := o.locks.Lock(recon.AccountLockKey(accountID))
	defer unlock()

	acct, err := o.repos.Account.FindByID(accountID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return result(ResultNotFound)
	}
	if err != nil {
		return result(ResultFailed)
	}
	if acct.Terminal() {
		return result(ResultNotFound)
	}

	if prior, err := o.repos.Wallet.FindByReference(idemKey); err != nil {
		return result(ResultFailed)
	} else if prior != nil {
		return Result{Kind: ResultOK, Account: acct}
	}

	plan, err := o.repos.Plan.FindByID(acct.PlanID)
	if err != nil {
		return result(ResultPlanUnavailable)
	}

	target, err := o.repos.Panel.FindByID(acct.PanelID)
	if err != nil || target.Status != models.PanelActive {
		return result(ResultPanelUnavailable)
	}

	// Debited.
	debit := &models.WalletTransaction{
		UserID:      acct.UserID,
		Amount:      -plan.Price,
		Type:        models.TxPurchase,
		Status:      models.TxCompleted,
		ReferenceID: idemKey,
		Note:        fmt.Sprintf("renew account %d", acct.ID),
	}
	if err := o.repos.Wallet.Append(debit); err != nil {
		if errors.Is(err, repository.ErrInsufficientBalance) {
			return result(ResultInsufficientBalance)
		}
		return result(ResultFailed)
	}

	// RemoteCreated (update on the existing remote identifier).
	newExpiry := renewalExpiry(acct.ExpiresAt, plan.DurationDays)
	enabled := true
	patch := panel.ClientPatch{
		ExpiresAt:    newExpiry,
		TrafficLimit: plan.TrafficLimit,
		Enabled:      &enabled,
		ResetTraffic: true,
	}
	err = o.updateRemote(ctx, target, acct.RemoteID, patch)
	if errors.Is(err, panel.ErrClientNotFound) {
		// Remote side lost the client; recreate it under the same name.
		spec := panel.AccountSpec{
			Username:     acct.RemoteID,
			Protocol:     acct.Protocol,
			TrafficLimit: plan.TrafficLimit,
			ExpiresAt:    newExpiry,
		}
		_, err = o.createRemote(ctx, target, spec)
	}
	if err != nil {
		o.compensateDebit(debit, "remote renewal failed")
		if errors.Is(err, panel.ErrUnreachable) || errors.Is(err, panel.ErrAuthFailed) {
			o.engine.PanelFailure(target.ID)
			return result(ResultPanelUnavailable)
		}
		return result(ResultPlanUnavailable)
	}

	// Recorded.
	updates := map[string]interface{}{
		"status":        models.AccountActive,
		"expires_at":    newExpiry,
		"traffic_used":  int64(0),
		"traffic_limit": plan.TrafficLimit,
		"warned_usage":  false,
		"warned_expiry": false,
		"expired_at":    nil,
	}
	if err := o.repos.Account.Update(acct.ID, updates); err != nil {
		o.logger.Error("Renewal record write failed, compensating",
			zap.Uint("account_id", acct.ID), zap.Error(err))
		o.compensateDebit(debit, "renewal record write failed")
		return result(ResultFailed)
	}

	refreshed, err := o.repos.Account.FindByID(acct.ID)
	if err != nil {
		refreshed = acct
	}
	o.logger.Info("Account renewed",
		zap.Uint("account_id", acct.ID), zap.Time("expires_at", newExpiry))
	return Result{Kind: ResultOK, Account: refreshed}
}

// RequestRevoke removes the remote client and soft-deletes the account.
// ClientNotFound from the panel counts as removal confirmation.
func (o *Orchestrator) RequestRevoke(ctx context.Context, accountID uint) Result {
	unlock := o.locks.Lock(recon.AccountLockKey(accountID))
	defer unlock()

	acct, err := o.repos.Account.FindByID(accountID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return result(ResultNotFound)
	}
	if err != nil {
		return result(ResultFailed)
	}
	if acct.Terminal() {
		return Result{Kind: ResultOK, Account: acct}
	}

	target, err := o.repos.Panel.FindByID(acct.PanelID)
	if err == nil {
		callCtx, cancel := context.WithTimeout(ctx, o.panelTimeout())
		defer cancel()
		client, cerr := o.factory(target, o.cfg.PanelTimeout)
		if cerr == nil {
			derr := client.DeleteClient(callCtx, acct.RemoteID)
			if derr != nil && !errors.Is(derr, panel.ErrClientNotFound) {
				o.logger.Error("Remote delete failed during revoke",
					zap.Uint("account_id", acct.ID), zap.Error(derr))
				return result(ResultPanelUnavailable)
			}
		}
	}

	if err := o.repos.Account.SoftDelete(acct.ID); err != nil {
		return result(ResultFailed)
	}
	acct.Status = models.AccountDeleted
	o.logger.Info("Account revoked", zap.Uint("account_id", acct.ID))
	return Result{Kind: ResultOK, Account: acct}
}

// ConfirmPayment appends a deposit once funds are confirmed. reference is
// the gateway's settlement id; replays return ResultDuplicate.
func (o *Orchestrator) ConfirmPayment(userID string, amount int64, reference string) Result {
	if amount <= 0 || strings.TrimSpace(reference) == "" {
		return result(ResultFailed)
	}
	if prior, err := o.repos.Wallet.FindByReference(reference); err != nil {
		return result(ResultFailed)
	} else if prior != nil {
		return result(ResultDuplicate)
	}
	if err := o.repos.User.EnsureExists(userID); err != nil {
		return result(ResultFailed)
	}

	deposit := &models.WalletTransaction{
		UserID:      userID,
		Amount:      amount,
		Type:        models.TxDeposit,
		Status:      models.TxCompleted,
		ReferenceID: reference,
	}
	if err := o.repos.Wallet.Append(deposit); err != nil {
		return result(ResultFailed)
	}

	balance, err := o.repos.Wallet.BalanceOf(userID)
	if err != nil {
		// The deposit is committed; only the balance echo is degraded.
		o.logger.Error("Balance read failed after deposit",
			zap.String("user_id", userID), zap.String("reference", reference), zap.Error(err))
	}
	return Result{Kind: ResultOK, Balance: balance}
}

// ConnectionProfile builds the client-importable profile URI for an
// account from panel facts and the registered encoder.
func (o *Orchestrator) ConnectionProfile(acct *models.VpnAccount) (string, error) {
	encoder, err := o.registry.EncoderFor(acct.Protocol)
	if err != nil {
		return "", err
	}
	target, err := o.repos.Panel.FindByID(acct.PanelID)
	if err != nil {
		return "", err
	}

	host, port := panelEndpoint(target.BaseURL)
	return encoder.Encode(protocol.Facts{
		Host:     host,
		Port:     port,
		ClientID: acct.RemoteID,
		Remark:   target.Name,
		Security: "tls",
		SNI:      host,
	})
}

// ConsumeEvents processes reconciliation events until the channel closes.
// Expired accounts with auto-renew get one renewal attempt per expiry.
func (o *Orchestrator) ConsumeEvents(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if e.Kind != events.AccountExpired {
				continue
			}
			acct, err := o.repos.Account.FindByID(e.AccountID)
			if err != nil || !acct.AutoRenew {
				continue
			}
			idemKey := fmt.Sprintf("autorenew:%d:%d", acct.ID, acct.ExpiresAt.Unix())
			res := o.RequestRenewal(ctx, acct.ID, idemKey)
			if res.Kind != ResultOK {
				o.logger.Info("Auto-renewal not applied",
					zap.Uint("account_id", acct.ID), zap.String("kind", string(res.Kind)))
			}
		}
	}
}

// selectPanel picks an active panel that supports the protocol and whose
// circuit is closed.
func (o *Orchestrator) selectPanel(protocolName string) (*models.Panel, error) {
	panels, err := o.repos.Panel.FindActive()
	if err != nil {
		return nil, err
	}
	for i := range panels {
		p := &panels[i]
		if !p.SupportsProtocol(protocolName) {
			continue
		}
		if o.engine.Health().Tripped(p.ID) {
			continue
		}
		return p, nil
	}
	return nil, fmt.Errorf("no active panel supports %s", protocolName)
}

// createRemote runs the only network-crossing provisioning step under the
// bounded retry policy. "Already exists" from the vendor is success.
func (o *Orchestrator) createRemote(ctx context.Context, target *models.Panel, spec panel.AccountSpec) (string, error) {
	client, err := o.factory(target, o.cfg.PanelTimeout)
	if err != nil {
		return "", err
	}

	var remoteID string
	err = withRetry(ctx, o.cfg.CreateRetries, o.cfg.RetryBackoff, func() error {
		callCtx, cancel := context.WithTimeout(ctx, o.panelTimeout())
		defer cancel()
		id, cerr := client.CreateClient(callCtx, target.InboundID, spec)
		if cerr != nil {
			if panel.IsAlreadyExists(cerr) {
				remoteID = spec.Username
				return nil
			}
			return cerr
		}
		remoteID = id
		return nil
	})
	if err != nil {
		return "", err
	}
	return remoteID, nil
}

func (o *Orchestrator) updateRemote(ctx context.Context, target *models.Panel, remoteID string, patch panel.ClientPatch) error {
	client, err := o.factory(target, o.cfg.PanelTimeout)
	if err != nil {
		return err
	}
	return withRetry(ctx, o.cfg.CreateRetries, o.cfg.RetryBackoff, func() error {
		callCtx, cancel := context.WithTimeout(ctx, o.panelTimeout())
		defer cancel()
		return client.UpdateClient(callCtx, remoteID, patch)
	})
}

// deleteRemote compensates a successful remote create after a later step
// failed. Best effort: a failure here is a terminal alert for operators.
func (o *Orchestrator) deleteRemote(ctx context.Context, target *models.Panel, remoteID string) {
	client, err := o.factory(target, o.cfg.PanelTimeout)
	if err != nil {
		o.logger.Error("MANUAL RECONCILIATION REQUIRED: compensation client build failed",
			zap.Uint("panel_id", target.ID), zap.String("remote_id", remoteID), zap.Error(err))
		return
	}
	callCtx, cancel := context.WithTimeout(ctx, o.panelTimeout())
	defer cancel()
	if err := client.DeleteClient(callCtx, remoteID); err != nil && !errors.Is(err, panel.ErrClientNotFound) {
		o.logger.Error("MANUAL RECONCILIATION REQUIRED: compensating delete failed",
			zap.Uint("panel_id", target.ID), zap.String("remote_id", remoteID), zap.Error(err))
	}
}

// compensateDebit refunds a completed debit exactly once.
func (o *Orchestrator) compensateDebit(debit *models.WalletTransaction, note string) {
	err := o.repos.Wallet.Refund(debit, note)
	if err != nil && !errors.Is(err, repository.ErrAlreadyRefunded) {
		o.logger.Error("MANUAL RECONCILIATION REQUIRED: refund failed",
			zap.Uint("transaction_id", debit.ID), zap.Error(err))
	}
}

func (o *Orchestrator) panelTimeout() time.Duration {
	if o.cfg.PanelTimeout > 0 {
		return o.cfg.PanelTimeout
	}
	return 30 * time.Second
}

// renewalExpiry extends a future expiry, or starts a fresh period when the
// account already lapsed.
func renewalExpiry(current time.Time, days int) time.Time {
	now := time.Now()
	if current.After(now) {
		return current.AddDate(0, 0, days)
	}
	return now.AddDate(0, 0, days)
}

func clientUsername(userID string) string {
	return fmt.Sprintf("u%s_%s", userID, uuid.NewString()[:8])
}

func purchaseKey(userID string, planID uint) string {
	return fmt.Sprintf("purchase:%s:%d", userID, planID)
}

// panelEndpoint derives (host, port) for profile building from the panel
// base URL.
func panelEndpoint(baseURL string) (string, int) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return baseURL, 443
	}
	host := u.Hostname()
	port := 443
	if p := u.Port(); p != "" {
		fmt.Sscanf(p, "%d", &port)
	}
	return host, port
}
