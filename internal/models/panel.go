package models

import (
	"database/sql"
	"encoding/json"
	"strings"
)

// Panel statuses.
const (
	PanelActive   = "active"
	PanelDisabled = "disabled"
	PanelError    = "error"
	PanelDeleted  = "deleted"
)

// Panel maps to the `panel` table: one remote server endpoint plus
// credentials. Referenced from VpnAccount by id only.
type Panel struct {
	ID                uint         `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Name              string       `gorm:"column:name;size:200" json:"name"`
	Type              string       `gorm:"column:type;size:64" json:"type"`
	BaseURL           string       `gorm:"column:base_url;size:500" json:"base_url"`
	Username          string       `gorm:"column:username;size:200" json:"username"`
	Password          string       `gorm:"column:password;size:200" json:"-"`
	SecretCode        string       `gorm:"column:secret_code;size:200" json:"-"`
	SubLink           string       `gorm:"column:sub_link;size:500" json:"sub_link"`
	InboundID         string       `gorm:"column:inbound_id;size:64" json:"inbound_id"`
	Protocols         string       `gorm:"column:protocols;type:text" json:"protocols"`
	Status            string       `gorm:"column:status;size:32;index" json:"status"`
	LastHealthCheckAt sql.NullTime `gorm:"column:last_health_check_at" json:"last_health_check_at"`
}

func (Panel) TableName() string {
	return "panel"
}

// EncodeProtocols serializes a protocol list for the Protocols column.
func EncodeProtocols(protos []string) string {
	if len(protos) == 0 {
		return "[]"
	}
	data, err := json.Marshal(protos)
	if err != nil {
		return "[]"
	}
	return string(data)
}

// SupportsProtocol reports whether the panel advertises the named protocol.
// Protocols is stored as a JSON string array.
func (p *Panel) SupportsProtocol(name string) bool {
	if strings.TrimSpace(p.Protocols) == "" {
		return false
	}
	var protos []string
	if err := json.Unmarshal([]byte(p.Protocols), &protos); err != nil {
		return false
	}
	for _, proto := range protos {
		if strings.EqualFold(strings.TrimSpace(proto), name) {
			return true
		}
	}
	return false
}
