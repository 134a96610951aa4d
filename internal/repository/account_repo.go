package repository

import (
	"database/sql"
	"errors"
	"time"

	"gorm.io/gorm"

	"panelsync/internal/models"
)

// AccountRepository is the account ledger store.
type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// Create inserts a new account row.
func (r *AccountRepository) Create(acct *models.VpnAccount) error {
	return r.db.Create(acct).Error
}

// FindByID returns an account by id, soft-deleted rows excluded.
func (r *AccountRepository) FindByID(id uint) (*models.VpnAccount, error) {
	var acct models.VpnAccount
	if err := r.db.Where("id = ?", id).First(&acct).Error; err != nil {
		return nil, err
	}
	return &acct, nil
}

// FindByUser returns all of a user's accounts.
func (r *AccountRepository) FindByUser(userID string) ([]models.VpnAccount, error) {
	var accts []models.VpnAccount
	err := r.db.Where("user_id = ?", userID).Order("id DESC").Find(&accts).Error
	return accts, err
}

// FindByPurchaseRef returns the account created under an idempotency key,
// or nil when none exists.
func (r *AccountRepository) FindByPurchaseRef(ref string) (*models.VpnAccount, error) {
	var acct models.VpnAccount
	err := r.db.Where("purchase_ref = ?", ref).First(&acct).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

// FindNonTerminal returns the user's live account for a plan, or nil.
// Upholds the one-non-terminal-account-per-(user, plan) invariant.
func (r *AccountRepository) FindNonTerminal(userID string, planID uint) (*models.VpnAccount, error) {
	var acct models.VpnAccount
	err := r.db.Where("user_id = ? AND plan_id = ? AND status != ?",
		userID, planID, models.AccountDeleted).First(&acct).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

// FindSyncable returns the panel's accounts the reconciliation engine
// should poll: everything that still has a remote client to compare with.
func (r *AccountRepository) FindSyncable(panelID uint) ([]models.VpnAccount, error) {
	var accts []models.VpnAccount
	err := r.db.Where("panel_id = ? AND status IN ?",
		panelID, []string{models.AccountActive, models.AccountExpired, models.AccountSuspended}).
		Find(&accts).Error
	return accts, err
}

// UpdateSync writes reconciled traffic/expiry facts and stamps
// last_synced_at.
func (r *AccountRepository) UpdateSync(id uint, trafficUsed int64, expiresAt time.Time) error {
	updates := map[string]interface{}{
		"traffic_used":   trafficUsed,
		"last_synced_at": sql.NullTime{Time: time.Now(), Valid: true},
	}
	if !expiresAt.IsZero() {
		updates["expires_at"] = expiresAt
	}
	return r.db.Model(&models.VpnAccount{}).Where("id = ?", id).Updates(updates).Error
}

// TransitionStatus moves an account from one status to another. Guarded by
// the current status so a lost race surfaces as ErrConcurrencyConflict
// instead of silently overwriting a concurrent transition.
func (r *AccountRepository) TransitionStatus(id uint, from, to string) error {
	updates := map[string]interface{}{"status": to}
	switch to {
	case models.AccountExpired:
		updates["expired_at"] = sql.NullTime{Time: time.Now(), Valid: true}
	case models.AccountActive:
		updates["expired_at"] = sql.NullTime{}
	}
	res := r.db.Model(&models.VpnAccount{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConcurrencyConflict
	}
	return nil
}

// Update applies arbitrary field updates.
func (r *AccountRepository) Update(id uint, updates map[string]interface{}) error {
	return r.db.Model(&models.VpnAccount{}).Where("id = ?", id).Updates(updates).Error
}

// SoftDelete marks the account deleted after remote removal confirmation.
func (r *AccountRepository) SoftDelete(id uint) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.VpnAccount{}).Where("id = ?", id).
			Update("status", models.AccountDeleted).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&models.VpnAccount{}).Error
	})
}
