package models

import "time"

// User maps to the `user` table. The wallet balance is deliberately absent:
// it is derived from wallet_transaction rows (see WalletRepository).
type User struct {
	ID        string    `gorm:"column:id;primaryKey;size:64" json:"id"`
	Username  string    `gorm:"column:username;size:200" json:"username"`
	Status    string    `gorm:"column:status;size:32;default:'active'" json:"status"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
}

func (User) TableName() string {
	return "user"
}
