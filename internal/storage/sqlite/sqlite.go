// internal/storage/sqlite/sqlite.go
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rovshanmuradov/solana-monitor/internal/storage"
	"github.com/rovshanmuradov/solana-monitor/internal/storage/models"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// gormLogger реализует интерфейс logger.Interface для GORM
type gormLogger struct {
	zapLogger *zap.Logger
	logLevel  logger.LogLevel
}

func newGormLogger(zapLogger *zap.Logger) logger.Interface {
	return &gormLogger{
		zapLogger: zapLogger,
		logLevel:  logger.Warn,
	}
}

func (l *gormLogger) LogMode(level logger.LogLevel) logger.Interface {
	newLogger := *l
	newLogger.logLevel = level
	return &newLogger
}

func (l *gormLogger) Info(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Info {
		l.zapLogger.Sugar().Infof(msg, data...)
	}
}

func (l *gormLogger) Warn(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Warn {
		l.zapLogger.Sugar().Warnf(msg, data...)
	}
}

func (l *gormLogger) Error(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Error {
		l.zapLogger.Sugar().Errorf(msg, data...)
	}
}

func (l *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.logLevel <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()

	fields := []zap.Field{
		zap.Duration("elapsed", elapsed),
		zap.String("sql", sql),
		zap.Int64("rows", rows),
	}

	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		l.zapLogger.Error("trace", append(fields, zap.Error(err))...)
		return
	}

	if l.logLevel >= logger.Info {
		l.zapLogger.Info("trace", fields...)
	}
}

// sqliteStore реализует интерфейс storage.Store
type sqliteStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewStore opens (or creates) the database file at path. Use ":memory:" for
// an ephemeral store in tests.
func NewStore(path string, zapLogger *zap.Logger) (storage.Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: newGormLogger(zapLogger.Named("gorm")),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		TranslateError:         true,
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	// SQLite не любит конкурирующие writer-соединения.
	sqlDB.SetMaxOpenConns(1)

	return &sqliteStore{
		db:     db,
		logger: zapLogger,
	}, nil
}

// RunMigrations использует GORM AutoMigrate
func (s *sqliteStore) RunMigrations() error {
	err := s.db.AutoMigrate(
		&models.PrivateKey{},
		&models.MonitorRecord{},
		&models.SwingMonitorRecord{},
		&models.MonitorLog{},
		&models.TokenMetaCache{},
		&models.ConfigEntry{},
	)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// translate maps GORM errors onto the storage error taxonomy.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return storage.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return storage.NewValidationError("", "duplicate key")
	case errors.Is(err, gorm.ErrForeignKeyViolated):
		return storage.NewValidationError("", "foreign key violated")
	default:
		return err
	}
}

// ---- Приватные ключи ----

func (s *sqliteStore) CreatePrivateKey(ctx context.Context, key *models.PrivateKey) error {
	return translate(s.db.WithContext(ctx).Create(key).Error)
}

func (s *sqliteStore) GetPrivateKey(ctx context.Context, id uint) (*models.PrivateKey, error) {
	var key models.PrivateKey
	if err := s.db.WithContext(ctx).First(&key, id).Error; err != nil {
		return nil, translate(err)
	}
	return &key, nil
}

func (s *sqliteStore) ListPrivateKeys(ctx context.Context) ([]*models.PrivateKey, error) {
	var keys []*models.PrivateKey
	err := s.db.WithContext(ctx).
		Where("deleted = ?", false).
		Order("id").
		Find(&keys).Error
	return keys, translate(err)
}

func (s *sqliteStore) UpdatePrivateKey(ctx context.Context, key *models.PrivateKey) error {
	return translate(s.db.WithContext(ctx).Save(key).Error)
}

func (s *sqliteStore) SoftDeletePrivateKey(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Model(&models.PrivateKey{}).
		Where("id = ?", id).
		Update("deleted", true)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *sqliteStore) KeyInUse(ctx context.Context, id uint) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.MonitorRecord{}).
		Where("private_key_id = ?", id).
		Count(&count).Error
	if err != nil {
		return false, translate(err)
	}
	if count > 0 {
		return true, nil
	}
	err = s.db.WithContext(ctx).Model(&models.SwingMonitorRecord{}).
		Where("private_key_id = ?", id).
		Count(&count).Error
	if err != nil {
		return false, translate(err)
	}
	return count > 0, nil
}

// ---- Простые мониторы ----

func (s *sqliteStore) CreateMonitor(ctx context.Context, rec *models.MonitorRecord) error {
	return translate(s.db.WithContext(ctx).Omit("Key").Create(rec).Error)
}

func (s *sqliteStore) GetMonitor(ctx context.Context, id uint) (*models.MonitorRecord, error) {
	var rec models.MonitorRecord
	if err := s.db.WithContext(ctx).Preload("Key").First(&rec, id).Error; err != nil {
		return nil, translate(err)
	}
	return &rec, nil
}

func (s *sqliteStore) ListMonitors(ctx context.Context) ([]*models.MonitorRecord, error) {
	var recs []*models.MonitorRecord
	err := s.db.WithContext(ctx).Preload("Key").Order("id").Find(&recs).Error
	return recs, translate(err)
}

func (s *sqliteStore) ListMonitorsByStatus(ctx context.Context, status string) ([]*models.MonitorRecord, error) {
	var recs []*models.MonitorRecord
	err := s.db.WithContext(ctx).Preload("Key").
		Where("status = ?", status).
		Order("id").
		Find(&recs).Error
	return recs, translate(err)
}

func (s *sqliteStore) FindMonitorByToken(ctx context.Context, tokenAddress string) (*models.MonitorRecord, error) {
	var rec models.MonitorRecord
	err := s.db.WithContext(ctx).
		Where("token_address = ?", tokenAddress).
		First(&rec).Error
	if err != nil {
		return nil, translate(err)
	}
	return &rec, nil
}

func (s *sqliteStore) SaveMonitor(ctx context.Context, rec *models.MonitorRecord) error {
	return translate(s.db.WithContext(ctx).Omit("Key").Save(rec).Error)
}

func (s *sqliteStore) UpdateMonitorStatus(ctx context.Context, id uint, status string) error {
	return s.updateStatus(ctx, &models.MonitorRecord{}, id, status)
}

func (s *sqliteStore) UpdateMonitorObservation(ctx context.Context, id uint, price, marketCap float64) error {
	now := time.Now().UTC()
	return translate(s.db.WithContext(ctx).Model(&models.MonitorRecord{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_check_at":   now,
			"last_price":      price,
			"last_market_cap": marketCap,
		}).Error)
}

func (s *sqliteStore) DeleteMonitor(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&models.MonitorRecord{}, id)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ---- Волновые мониторы ----

func (s *sqliteStore) CreateSwingMonitor(ctx context.Context, rec *models.SwingMonitorRecord) error {
	return translate(s.db.WithContext(ctx).Omit("Key").Create(rec).Error)
}

func (s *sqliteStore) GetSwingMonitor(ctx context.Context, id uint) (*models.SwingMonitorRecord, error) {
	var rec models.SwingMonitorRecord
	if err := s.db.WithContext(ctx).Preload("Key").First(&rec, id).Error; err != nil {
		return nil, translate(err)
	}
	return &rec, nil
}

func (s *sqliteStore) ListSwingMonitors(ctx context.Context) ([]*models.SwingMonitorRecord, error) {
	var recs []*models.SwingMonitorRecord
	err := s.db.WithContext(ctx).Preload("Key").Order("id").Find(&recs).Error
	return recs, translate(err)
}

func (s *sqliteStore) ListSwingMonitorsByStatus(ctx context.Context, status string) ([]*models.SwingMonitorRecord, error) {
	var recs []*models.SwingMonitorRecord
	err := s.db.WithContext(ctx).Preload("Key").
		Where("status = ?", status).
		Order("id").
		Find(&recs).Error
	return recs, translate(err)
}

func (s *sqliteStore) SaveSwingMonitor(ctx context.Context, rec *models.SwingMonitorRecord) error {
	return translate(s.db.WithContext(ctx).Omit("Key").Save(rec).Error)
}

func (s *sqliteStore) UpdateSwingMonitorStatus(ctx context.Context, id uint, status string) error {
	return s.updateStatus(ctx, &models.SwingMonitorRecord{}, id, status)
}

func (s *sqliteStore) UpdateSwingMonitorObservation(ctx context.Context, id uint, price, marketCap float64) error {
	now := time.Now().UTC()
	return translate(s.db.WithContext(ctx).Model(&models.SwingMonitorRecord{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_check_at":         now,
			"last_watch_price":      price,
			"last_watch_market_cap": marketCap,
		}).Error)
}

func (s *sqliteStore) DeleteSwingMonitor(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&models.SwingMonitorRecord{}, id)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *sqliteStore) updateStatus(ctx context.Context, model interface{}, id uint, status string) error {
	res := s.db.WithContext(ctx).Model(model).
		Where("id = ?", id).
		Update("status", status)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ---- Журнал ----

func (s *sqliteStore) AppendLog(ctx context.Context, log *models.MonitorLog) error {
	if log.Timestamp.IsZero() {
		log.Timestamp = time.Now().UTC()
	}
	return translate(s.db.WithContext(ctx).Create(log).Error)
}

func (s *sqliteStore) ListLogs(ctx context.Context, filter storage.LogFilter) ([]*models.MonitorLog, error) {
	q := s.db.WithContext(ctx).Model(&models.MonitorLog{})
	if filter.MonitorRecordID != nil {
		q = q.Where("monitor_record_id = ?", *filter.MonitorRecordID)
	}
	if filter.MonitorType != "" {
		q = q.Where("monitor_type = ?", filter.MonitorType)
	}
	if len(filter.ActionTypes) > 0 {
		q = q.Where("action_type IN ?", filter.ActionTypes)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	var logs []*models.MonitorLog
	err := q.Order("timestamp desc").Find(&logs).Error
	return logs, translate(err)
}

func (s *sqliteStore) DeleteLogsByMonitor(ctx context.Context, recordID uint) error {
	return translate(s.db.WithContext(ctx).
		Where("monitor_record_id = ?", recordID).
		Delete(&models.MonitorLog{}).Error)
}

func (s *sqliteStore) DeleteAllLogs(ctx context.Context) error {
	return translate(s.db.WithContext(ctx).
		Where("1 = 1").
		Delete(&models.MonitorLog{}).Error)
}

// ---- Кеш метаданных ----

func (s *sqliteStore) GetTokenMeta(ctx context.Context, address string) (*models.TokenMetaCache, error) {
	var entry models.TokenMetaCache
	err := s.db.WithContext(ctx).Where("address = ?", address).First(&entry).Error
	if err != nil {
		return nil, translate(err)
	}
	return &entry, nil
}

func (s *sqliteStore) PutTokenMeta(ctx context.Context, entry *models.TokenMetaCache) error {
	return translate(s.db.WithContext(ctx).Create(entry).Error)
}

// ---- Конфигурация ----

func (s *sqliteStore) GetConfigEntry(ctx context.Context, key string) (*models.ConfigEntry, error) {
	var entry models.ConfigEntry
	err := s.db.WithContext(ctx).Where("key = ?", key).First(&entry).Error
	if err != nil {
		return nil, translate(err)
	}
	return &entry, nil
}

func (s *sqliteStore) UpsertConfigEntry(ctx context.Context, entry *models.ConfigEntry) error {
	var existing models.ConfigEntry
	err := s.db.WithContext(ctx).Where("key = ?", entry.Key).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return translate(s.db.WithContext(ctx).Create(entry).Error)
	}
	if err != nil {
		return translate(err)
	}
	existing.Value = entry.Value
	existing.Description = entry.Description
	existing.ConfigType = entry.ConfigType
	existing.UpdatedAt = time.Now().UTC()
	if err := s.db.WithContext(ctx).Save(&existing).Error; err != nil {
		return translate(err)
	}
	entry.ID = existing.ID
	return nil
}

func (s *sqliteStore) ListConfigEntries(ctx context.Context) ([]*models.ConfigEntry, error) {
	var entries []*models.ConfigEntry
	err := s.db.WithContext(ctx).Order("key").Find(&entries).Error
	return entries, translate(err)
}

func (s *sqliteStore) DeleteConfigEntry(ctx context.Context, key string) error {
	res := s.db.WithContext(ctx).Where("key = ?", key).Delete(&models.ConfigEntry{})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}
