// internal/storage/models/log.go
package models

import "time"

// Monitor log row kinds.
const (
	LogTypeNormal = "normal"
	LogTypeSwing  = "swing"
)

// MonitorLog is one observation or trade row. Append-only per record; the
// swing fields are null on normal rows.
type MonitorLog struct {
	ID              uint      `gorm:"primarykey"`
	MonitorRecordID *uint     `gorm:"index"`
	Timestamp       time.Time `gorm:"index"`

	Price            *float64
	MarketCap        *float64
	ThresholdReached bool    `gorm:"default:false"`
	ActionTaken      string  `gorm:"type:varchar(100)"`
	TxHash           *string `gorm:"type:varchar(88)"`

	MonitorType       string  `gorm:"default:normal;index;type:varchar(10)"`
	PriceType         *string `gorm:"type:varchar(20)"`
	CurrentValue      *float64
	SellThreshold     *float64
	BuyThreshold      *float64
	ActionType        *string `gorm:"index;type:varchar(20)"`
	WatchTokenAddress *string `gorm:"type:varchar(44)"`
	TradeTokenAddress *string `gorm:"type:varchar(44)"`
}

// TokenMetaCache stores raw provider metadata per mint. Entries never expire.
type TokenMetaCache struct {
	ID        uint    `gorm:"primarykey"`
	Address   string  `gorm:"unique;not null;index;type:varchar(100)"`
	Data      string  `gorm:"not null;type:text"`
	UpdatedAt float64 `gorm:"not null"`
}

// ConfigEntry is one key of the process configuration registry.
type ConfigEntry struct {
	BaseModel
	Key         string `gorm:"unique;not null;index;type:varchar(100)"`
	Value       string `gorm:"type:text"`
	Description string `gorm:"type:varchar(255)"`
	ConfigType  string `gorm:"default:string;type:varchar(20)"`
}

// Config entry types, used for typed coercion on read.
const (
	ConfigTypeString  = "string"
	ConfigTypeNumber  = "number"
	ConfigTypeBoolean = "boolean"
	ConfigTypeJSON    = "json"
)
