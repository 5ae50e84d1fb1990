// internal/storage/storage.go
package storage

import (
	"context"

	"github.com/rovshanmuradov/solana-monitor/internal/storage/models"
)

// LogFilter narrows paginated log reads.
type LogFilter struct {
	MonitorRecordID *uint
	MonitorType     string   // "", "normal" or "swing"
	ActionTypes     []string // matches MonitorLog.ActionType
	Limit           int
	Offset          int
}

// Store определяет интерфейс для работы с хранилищем
type Store interface {
	// Приватные ключи
	CreatePrivateKey(ctx context.Context, key *models.PrivateKey) error
	GetPrivateKey(ctx context.Context, id uint) (*models.PrivateKey, error)
	ListPrivateKeys(ctx context.Context) ([]*models.PrivateKey, error)
	UpdatePrivateKey(ctx context.Context, key *models.PrivateKey) error
	SoftDeletePrivateKey(ctx context.Context, id uint) error
	KeyInUse(ctx context.Context, id uint) (bool, error)

	// Простые мониторы
	CreateMonitor(ctx context.Context, rec *models.MonitorRecord) error
	GetMonitor(ctx context.Context, id uint) (*models.MonitorRecord, error)
	ListMonitors(ctx context.Context) ([]*models.MonitorRecord, error)
	ListMonitorsByStatus(ctx context.Context, status string) ([]*models.MonitorRecord, error)
	FindMonitorByToken(ctx context.Context, tokenAddress string) (*models.MonitorRecord, error)
	SaveMonitor(ctx context.Context, rec *models.MonitorRecord) error
	UpdateMonitorStatus(ctx context.Context, id uint, status string) error
	UpdateMonitorObservation(ctx context.Context, id uint, price, marketCap float64) error
	DeleteMonitor(ctx context.Context, id uint) error

	// Волновые (swing) мониторы
	CreateSwingMonitor(ctx context.Context, rec *models.SwingMonitorRecord) error
	GetSwingMonitor(ctx context.Context, id uint) (*models.SwingMonitorRecord, error)
	ListSwingMonitors(ctx context.Context) ([]*models.SwingMonitorRecord, error)
	ListSwingMonitorsByStatus(ctx context.Context, status string) ([]*models.SwingMonitorRecord, error)
	SaveSwingMonitor(ctx context.Context, rec *models.SwingMonitorRecord) error
	UpdateSwingMonitorStatus(ctx context.Context, id uint, status string) error
	UpdateSwingMonitorObservation(ctx context.Context, id uint, price, marketCap float64) error
	DeleteSwingMonitor(ctx context.Context, id uint) error

	// Журнал мониторинга
	AppendLog(ctx context.Context, log *models.MonitorLog) error
	ListLogs(ctx context.Context, filter LogFilter) ([]*models.MonitorLog, error)
	DeleteLogsByMonitor(ctx context.Context, recordID uint) error
	DeleteAllLogs(ctx context.Context) error

	// Кеш метаданных токенов
	GetTokenMeta(ctx context.Context, address string) (*models.TokenMetaCache, error)
	PutTokenMeta(ctx context.Context, entry *models.TokenMetaCache) error

	// Конфигурация
	GetConfigEntry(ctx context.Context, key string) (*models.ConfigEntry, error)
	UpsertConfigEntry(ctx context.Context, entry *models.ConfigEntry) error
	ListConfigEntries(ctx context.Context) ([]*models.ConfigEntry, error)
	DeleteConfigEntry(ctx context.Context, key string) error

	// Миграции
	RunMigrations() error
}
