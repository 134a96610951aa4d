package models

import (
	"database/sql"
	"time"

	"gorm.io/gorm"
)

// VpnAccount lifecycle statuses.
const (
	AccountPending   = "pending"
	AccountActive    = "active"
	AccountExpired   = "expired"
	AccountSuspended = "suspended"
	AccountDeleted   = "deleted"
)

// VpnAccount maps to the `vpn_account` table.
// One provisioned client on one panel. RemoteID is the opaque identifier the
// panel issued on creation and is never set before the adapter confirms it.
type VpnAccount struct {
	ID           uint           `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	UserID       string         `gorm:"column:user_id;size:64;index" json:"user_id"`
	PanelID      uint           `gorm:"column:panel_id;index" json:"panel_id"`
	InboundID    string         `gorm:"column:inbound_id;size:64" json:"inbound_id"`
	RemoteID     string         `gorm:"column:remote_id;size:200" json:"remote_id"`
	Protocol     string         `gorm:"column:protocol;size:32" json:"protocol"`
	PlanID       uint           `gorm:"column:plan_id;index" json:"plan_id"`
	PurchaseRef  string         `gorm:"column:purchase_ref;size:128;index" json:"purchase_ref"`
	TrafficLimit int64          `gorm:"column:traffic_limit" json:"traffic_limit"`
	TrafficUsed  int64          `gorm:"column:traffic_used" json:"traffic_used"`
	ExpiresAt    time.Time      `gorm:"column:expires_at" json:"expires_at"`
	ExpiredAt    sql.NullTime   `gorm:"column:expired_at" json:"expired_at"`
	Status       string         `gorm:"column:status;size:32;index" json:"status"`
	AutoRenew    bool           `gorm:"column:auto_renew;default:false" json:"auto_renew"`
	WarnedUsage  bool           `gorm:"column:warned_usage;default:false" json:"warned_usage"`
	WarnedExpiry bool           `gorm:"column:warned_expiry;default:false" json:"warned_expiry"`
	CreatedAt    time.Time      `gorm:"column:created_at" json:"created_at"`
	LastSyncedAt sql.NullTime   `gorm:"column:last_synced_at" json:"last_synced_at"`
	DeletedAt    gorm.DeletedAt `gorm:"column:deleted_at;index" json:"-"`
}

func (VpnAccount) TableName() string {
	return "vpn_account"
}

// Terminal reports whether the account can still return to service.
func (a *VpnAccount) Terminal() bool {
	return a.Status == AccountDeleted
}

// OverLimit reports whether reported usage has reached the traffic cap.
// A zero cap means unlimited.
func (a *VpnAccount) OverLimit() bool {
	return a.TrafficLimit > 0 && a.TrafficUsed >= a.TrafficLimit
}
