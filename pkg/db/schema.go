package db

import (
	"time"

	"github.com/agentstudio/tunnel-proxy/pkg/model"
)

// Tunnel is the ledger row for one provisioned subdomain.
//
// Rows are soft deleted: Status flips to deleted and ActiveKey is cleared,
// but the row stays for audit history. ActiveKey holds the subdomain while
// the row is pending or active and is NULL once deleted, so the unique
// index admits at most one live row per name while deleted rows can
// accumulate. Both sqlite and mysql allow repeated NULLs under a unique
// index, which is what makes name reuse work.
type Tunnel struct {
	ID           uint    `gorm:"primarykey"`
	Subdomain    string  `gorm:"size:100;index;not null"`
	ActiveKey    *string `gorm:"size:100;uniqueIndex"`
	TunnelID     string  `gorm:"size:200;index"`
	TunnelName   string  `gorm:"size:200"`
	TunnelSecret string  `gorm:"type:text"`
	DNSRecordID  string  `gorm:"size:200"`
	PublicURL    string  `gorm:"size:500"`
	LocalPort    int
	Description  string       `gorm:"type:text"`
	Status       model.Status `gorm:"size:20;index;not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
