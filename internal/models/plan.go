package models

import "time"

// Plan maps to the `plan` table: a sellable subscription product.
// Price is in signed minor units; TrafficLimit in bytes (0 = unlimited).
type Plan struct {
	ID           uint      `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Name         string    `gorm:"column:name;size:200" json:"name"`
	Protocol     string    `gorm:"column:protocol;size:32" json:"protocol"`
	Price        int64     `gorm:"column:price" json:"price"`
	TrafficLimit int64     `gorm:"column:traffic_limit" json:"traffic_limit"`
	DurationDays int       `gorm:"column:duration_days" json:"duration_days"`
	Active       bool      `gorm:"column:active;default:true" json:"active"`
	CreatedAt    time.Time `gorm:"column:created_at" json:"created_at"`
}

func (Plan) TableName() string {
	return "plan"
}
