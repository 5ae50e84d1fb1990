// internal/storage/models/monitor.go
package models

import "time"

// Monitor statuses. A record is resurrected on process start only when its
// status is StatusMonitoring.
const (
	StatusStopped    = "stopped"
	StatusMonitoring = "monitoring"
	StatusError      = "error"
	StatusCompleted  = "completed"
)

// Simple monitor kinds.
const (
	KindSell = "sell"
	KindBuy  = "buy"
)

// Execution modes.
const (
	ModeSingle   = "single"
	ModeMultiple = "multiple"
)

// TokenMeta is the cached token metadata embedded into monitor records.
type TokenMeta struct {
	Name     string `gorm:"type:varchar(100)"`
	Symbol   string `gorm:"type:varchar(50)"`
	LogoURI  string `gorm:"type:text"`
	Decimals int    `gorm:"default:9"`
}

// MonitorRecord is a simple (single-token, single-direction) monitor.
type MonitorRecord struct {
	BaseModel
	Name         string `gorm:"not null;type:varchar(100)"`
	PrivateKeyID uint   `gorm:"not null;index"`
	TokenAddress string `gorm:"not null;index;type:varchar(44)"`

	Token TokenMeta `gorm:"embedded;embeddedPrefix:token_"`

	Kind           string  `gorm:"not null;default:sell;type:varchar(10)"`
	Threshold      float64 `gorm:"not null"`
	Percentage     float64 `gorm:"not null"`
	ExecutionMode  string  `gorm:"default:single;type:varchar(10)"`
	MinimumHoldUSD float64 `gorm:"default:50"`
	PreSniper      bool    `gorm:"default:false"`

	// Buy-kind only: cumulative USD budget. Zero means unlimited.
	MaxBuyUSD         float64 `gorm:"default:0"`
	AccumulatedBuyUSD float64 `gorm:"default:0"`

	WebhookURL    string `gorm:"not null;type:text"`
	CheckInterval int    `gorm:"default:5"`
	Status        string `gorm:"default:stopped;index;type:varchar(20)"`

	LastCheckAt   *time.Time
	LastPrice     *float64
	LastMarketCap *float64

	Key PrivateKey `gorm:"foreignKey:PrivateKeyID"`
}

// SwingMonitorRecord trades between a watched token and a paired trade token,
// oscillating around a sell-high / buy-low threshold band.
type SwingMonitorRecord struct {
	BaseModel
	Name         string `gorm:"not null;type:varchar(100)"`
	PrivateKeyID uint   `gorm:"not null;index"`

	WatchTokenAddress string    `gorm:"not null;index;type:varchar(44)"`
	WatchToken        TokenMeta `gorm:"embedded;embeddedPrefix:watch_token_"`
	TradeTokenAddress string    `gorm:"not null;type:varchar(44)"`
	TradeToken        TokenMeta `gorm:"embedded;embeddedPrefix:trade_token_"`

	PriceType         string  `gorm:"default:market_cap;type:varchar(20)"`
	SellThreshold     float64 `gorm:"not null"`
	BuyThreshold      float64 `gorm:"not null"`
	SellPercentage    float64 `gorm:"not null"`
	BuyPercentage     float64 `gorm:"not null"`
	AllInThresholdUSD float64 `gorm:"default:50"`

	WebhookURL    string `gorm:"not null;type:text"`
	CheckInterval int    `gorm:"default:5"`
	Status        string `gorm:"default:stopped;index;type:varchar(20)"`

	LastCheckAt        *time.Time
	LastWatchPrice     *float64
	LastWatchMarketCap *float64

	Key PrivateKey `gorm:"foreignKey:PrivateKeyID"`
}

// Swing price types.
const (
	PriceTypePrice     = "price"
	PriceTypeMarketCap = "market_cap"
)
