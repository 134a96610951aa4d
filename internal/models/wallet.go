package models

import (
	"database/sql"
	"time"
)

// Wallet transaction types.
const (
	TxDeposit  = "deposit"
	TxPurchase = "purchase"
	TxRefund   = "refund"
	TxAdmin    = "admin"
	TxReferral = "referral"
)

// Wallet transaction statuses.
const (
	TxPending   = "pending"
	TxCompleted = "completed"
	TxFailed    = "failed"
	TxRefunded  = "refunded"
)

// WalletTransaction maps to the `wallet_transaction` table. Rows are
// append-only; a user's balance is always the sum of completed amounts,
// never an independently mutated column. Amount is in signed minor units.
type WalletTransaction struct {
	ID          uint         `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	UserID      string       `gorm:"column:user_id;size:64;index" json:"user_id"`
	Amount      int64        `gorm:"column:amount" json:"amount"`
	Type        string       `gorm:"column:type;size:32" json:"type"`
	Status      string       `gorm:"column:status;size:32;index" json:"status"`
	ReferenceID string       `gorm:"column:reference_id;size:128;index" json:"reference_id"`
	Note        string       `gorm:"column:note;size:500" json:"note"`
	CreatedAt   time.Time    `gorm:"column:created_at" json:"created_at"`
	CompletedAt sql.NullTime `gorm:"column:completed_at" json:"completed_at"`
}

func (WalletTransaction) TableName() string {
	return "wallet_transaction"
}
