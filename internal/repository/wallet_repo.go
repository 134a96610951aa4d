package repository

import (
	"database/sql"
	"errors"
	"time"

	"gorm.io/gorm"

	"panelsync/internal/lock"
	"panelsync/internal/models"
)

// WalletRepository is the wallet ledger store. Rows are append-only; the
// balance is always derived by summing completed rows inside the same
// transaction as the append, under a per-user critical section, so two
// concurrent debits can never both pass a check against a stale snapshot.
type WalletRepository struct {
	db    *gorm.DB
	users *lock.KeyedMutex
}

func NewWalletRepository(db *gorm.DB) *WalletRepository {
	return &WalletRepository{db: db, users: lock.NewKeyedMutex()}
}

// Append records a completed balance-affecting entry. Debit entries fail
// with ErrInsufficientBalance when the derived balance would go negative.
func (r *WalletRepository) Append(tx *models.WalletTransaction) error {
	unlock := r.users.Lock(tx.UserID)
	defer unlock()

	if tx.Status == "" {
		tx.Status = models.TxCompleted
	}
	if tx.Status == models.TxCompleted && !tx.CompletedAt.Valid {
		tx.CompletedAt = sql.NullTime{Time: time.Now(), Valid: true}
	}

	return r.db.Transaction(func(dbtx *gorm.DB) error {
		if tx.Amount < 0 {
			balance, err := sumCompleted(dbtx, tx.UserID)
			if err != nil {
				return err
			}
			if balance+tx.Amount < 0 {
				return ErrInsufficientBalance
			}
		}
		return dbtx.Create(tx).Error
	})
}

// BalanceOf derives the user's balance from completed entries.
func (r *WalletRepository) BalanceOf(userID string) (int64, error) {
	return sumCompleted(r.db, userID)
}

func sumCompleted(db *gorm.DB, userID string) (int64, error) {
	var balance sql.NullInt64
	err := db.Model(&models.WalletTransaction{}).
		Where("user_id = ? AND status = ?", userID, models.TxCompleted).
		Select("SUM(amount)").Scan(&balance).Error
	if err != nil {
		return 0, err
	}
	return balance.Int64, nil
}

// FindByReference returns the entry recorded under the given reference id,
// or nil when none exists. Failed entries are ignored so a purchase retried
// after a hard failure is not mistaken for a duplicate.
func (r *WalletRepository) FindByReference(referenceID string) (*models.WalletTransaction, error) {
	var tx models.WalletTransaction
	err := r.db.Where("reference_id = ? AND status != ?", referenceID, models.TxFailed).
		Order("id").First(&tx).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// Refund reverses a completed purchase exactly once: the purchase row flips
// to refunded and a compensating refund row is appended in the same
// transaction. A second call returns ErrAlreadyRefunded without appending.
func (r *WalletRepository) Refund(purchase *models.WalletTransaction, note string) error {
	unlock := r.users.Lock(purchase.UserID)
	defer unlock()

	return r.db.Transaction(func(dbtx *gorm.DB) error {
		res := dbtx.Model(&models.WalletTransaction{}).
			Where("id = ? AND status = ?", purchase.ID, models.TxCompleted).
			Update("status", models.TxRefunded)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrAlreadyRefunded
		}
		refund := &models.WalletTransaction{
			UserID:      purchase.UserID,
			Amount:      -purchase.Amount,
			Type:        models.TxRefund,
			Status:      models.TxCompleted,
			ReferenceID: purchase.ReferenceID,
			Note:        note,
			CompletedAt: sql.NullTime{Time: time.Now(), Valid: true},
		}
		return dbtx.Create(refund).Error
	})
}

// FindByUser returns the user's ledger entries, newest first.
func (r *WalletRepository) FindByUser(userID string, limit int) ([]models.WalletTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	var txs []models.WalletTransaction
	err := r.db.Where("user_id = ?", userID).Order("id DESC").Limit(limit).Find(&txs).Error
	return txs, err
}

// FindByID returns one entry.
func (r *WalletRepository) FindByID(id uint) (*models.WalletTransaction, error) {
	var tx models.WalletTransaction
	if err := r.db.Where("id = ?", id).First(&tx).Error; err != nil {
		return nil, err
	}
	return &tx, nil
}
