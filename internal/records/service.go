// internal/records/service.go
package records

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rovshanmuradov/solana-monitor/internal/marketdata"
	"github.com/rovshanmuradov/solana-monitor/internal/storage"
	"github.com/rovshanmuradov/solana-monitor/internal/storage/models"
	"github.com/rovshanmuradov/solana-monitor/internal/utils"
	"github.com/rovshanmuradov/solana-monitor/internal/wallet"
	"go.uber.org/zap"
)

type marketClient interface {
	GetTokenMeta(ctx context.Context, address string) (*marketdata.TokenMeta, error)
	WalletTokenList(ctx context.Context, walletAddress string) (*marketdata.WalletPortfolio, error)
}

// Service валидирует и сохраняет записи ключей и мониторов. Правила
// проверяются до каких-либо изменений состояния.
type Service struct {
	store  storage.Store
	meta   marketClient
	logger *zap.Logger
}

func New(store storage.Store, meta marketClient, logger *zap.Logger) *Service {
	return &Service{
		store:  store,
		meta:   meta,
		logger: logger.Named("records"),
	}
}

// CreateKey сохраняет приватный ключ; публичный адрес выводится из секрета.
func (s *Service) CreateKey(ctx context.Context, nickname, secret string) (*models.PrivateKey, error) {
	nickname = strings.TrimSpace(nickname)
	if nickname == "" {
		return nil, storage.NewValidationError("nickname", "昵称不能为空")
	}
	public, err := wallet.DerivePublicKey(secret)
	if err != nil {
		return nil, storage.NewValidationError("secret_key", "私钥格式错误")
	}
	if err := s.checkNicknameUnique(ctx, nickname, 0); err != nil {
		return nil, err
	}

	key := &models.PrivateKey{
		Nickname:  nickname,
		SecretKey: secret,
		PublicKey: public,
	}
	if err := s.store.CreatePrivateKey(ctx, key); err != nil {
		return nil, err
	}
	s.logger.Info("Private key created", zap.Uint("key_id", key.ID), zap.String("nickname", nickname))
	return key, nil
}

// UpdateKey меняет поля ключа; публичный адрес пересчитывается.
func (s *Service) UpdateKey(ctx context.Context, id uint, nickname, secret string) (*models.PrivateKey, error) {
	key, err := s.store.GetPrivateKey(ctx, id)
	if err != nil {
		return nil, err
	}
	if nickname = strings.TrimSpace(nickname); nickname != "" && nickname != key.Nickname {
		if err := s.checkNicknameUnique(ctx, nickname, id); err != nil {
			return nil, err
		}
		key.Nickname = nickname
	}
	if secret != "" {
		public, err := wallet.DerivePublicKey(secret)
		if err != nil {
			return nil, storage.NewValidationError("secret_key", "私钥格式错误")
		}
		key.SecretKey = secret
		key.PublicKey = public
	}
	if err := s.store.UpdatePrivateKey(ctx, key); err != nil {
		return nil, err
	}
	return key, nil
}

// DeleteKey помечает ключ удалённым; ключ с живыми мониторами не удаляется.
func (s *Service) DeleteKey(ctx context.Context, id uint) error {
	inUse, err := s.store.KeyInUse(ctx, id)
	if err != nil {
		return err
	}
	if inUse {
		return storage.NewValidationError("key", "该私钥已被监控使用，无法删除")
	}
	return s.store.SoftDeletePrivateKey(ctx, id)
}

// ListKeys возвращает все неудалённые ключи.
func (s *Service) ListKeys(ctx context.Context) ([]*models.PrivateKey, error) {
	return s.store.ListPrivateKeys(ctx)
}

func (s *Service) checkNicknameUnique(ctx context.Context, nickname string, selfID uint) error {
	keys, err := s.store.ListPrivateKeys(ctx)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if k.Nickname == nickname && k.ID != selfID {
			return storage.NewValidationError("nickname", "昵称已存在")
		}
	}
	return nil
}

// CreateSimpleMonitor валидирует и сохраняет простой монитор.
func (s *Service) CreateSimpleMonitor(ctx context.Context, rec *models.MonitorRecord) error {
	if err := s.validateSimple(ctx, rec); err != nil {
		return err
	}
	s.populateMeta(ctx, rec.TokenAddress, &rec.Token)
	rec.Status = models.StatusStopped
	if err := s.store.CreateMonitor(ctx, rec); err != nil {
		return err
	}
	s.logger.Info("Monitor created",
		zap.Uint("record_id", rec.ID),
		zap.String("name", rec.Name),
		zap.String("kind", rec.Kind))
	return nil
}

// UpdateSimpleMonitor перепроверяет правила и сохраняет изменения.
func (s *Service) UpdateSimpleMonitor(ctx context.Context, rec *models.MonitorRecord) error {
	if err := s.validateSimple(ctx, rec); err != nil {
		return err
	}
	s.populateMeta(ctx, rec.TokenAddress, &rec.Token)
	return s.store.SaveMonitor(ctx, rec)
}

// DeleteSimpleMonitor удаляет монитор вместе с его журналом.
func (s *Service) DeleteSimpleMonitor(ctx context.Context, id uint) error {
	if err := s.store.DeleteMonitor(ctx, id); err != nil {
		return err
	}
	return s.store.DeleteLogsByMonitor(ctx, id)
}

func (s *Service) validateSimple(ctx context.Context, rec *models.MonitorRecord) error {
	rec.TokenAddress = utils.NormalizeMint(strings.TrimSpace(rec.TokenAddress))
	if rec.Name == "" {
		return storage.NewValidationError("name", "名称不能为空")
	}
	if rec.TokenAddress == "" {
		return storage.NewValidationError("token_address", "代币地址不能为空")
	}
	if rec.Kind != models.KindSell && rec.Kind != models.KindBuy {
		return storage.NewValidationError("kind", "未知的监控类型")
	}
	if rec.Threshold <= 0 {
		return storage.NewValidationError("threshold", "阈值必须大于零")
	}
	if rec.Percentage <= 0 || rec.Percentage > 1 {
		return storage.NewValidationError("percentage", "百分比必须在 (0, 1] 区间")
	}
	if rec.CheckInterval < 1 {
		return storage.NewValidationError("check_interval", "检查间隔至少为一秒")
	}
	if rec.ExecutionMode != models.ModeSingle && rec.ExecutionMode != models.ModeMultiple {
		return storage.NewValidationError("execution_mode", "未知的执行模式")
	}
	// Поля другого вида не переносятся между режимами.
	if rec.Kind == models.KindSell {
		rec.MaxBuyUSD = 0
		rec.AccumulatedBuyUSD = 0
	} else {
		rec.PreSniper = false
	}
	if _, err := s.store.GetPrivateKey(ctx, rec.PrivateKeyID); err != nil {
		return storage.NewValidationError("private_key_id", "私钥不存在")
	}
	return nil
}

// CreateSwingMonitor валидирует и сохраняет волновой монитор.
func (s *Service) CreateSwingMonitor(ctx context.Context, rec *models.SwingMonitorRecord) error {
	if err := s.validateSwing(ctx, rec); err != nil {
		return err
	}
	s.populateMeta(ctx, rec.WatchTokenAddress, &rec.WatchToken)
	s.populateMeta(ctx, rec.TradeTokenAddress, &rec.TradeToken)
	rec.Status = models.StatusStopped
	return s.store.CreateSwingMonitor(ctx, rec)
}

// UpdateSwingMonitor перепроверяет правила и сохраняет изменения.
func (s *Service) UpdateSwingMonitor(ctx context.Context, rec *models.SwingMonitorRecord) error {
	if err := s.validateSwing(ctx, rec); err != nil {
		return err
	}
	s.populateMeta(ctx, rec.WatchTokenAddress, &rec.WatchToken)
	s.populateMeta(ctx, rec.TradeTokenAddress, &rec.TradeToken)
	return s.store.SaveSwingMonitor(ctx, rec)
}

// DeleteSwingMonitor удаляет волновой монитор вместе с журналом.
func (s *Service) DeleteSwingMonitor(ctx context.Context, id uint) error {
	if err := s.store.DeleteSwingMonitor(ctx, id); err != nil {
		return err
	}
	return s.store.DeleteLogsByMonitor(ctx, id)
}

func (s *Service) validateSwing(ctx context.Context, rec *models.SwingMonitorRecord) error {
	rec.WatchTokenAddress = utils.NormalizeMint(strings.TrimSpace(rec.WatchTokenAddress))
	rec.TradeTokenAddress = utils.NormalizeMint(strings.TrimSpace(rec.TradeTokenAddress))
	if rec.Name == "" {
		return storage.NewValidationError("name", "名称不能为空")
	}
	if rec.WatchTokenAddress == "" || rec.TradeTokenAddress == "" {
		return storage.NewValidationError("token_address", "代币地址不能为空")
	}
	if rec.WatchTokenAddress == rec.TradeTokenAddress {
		return storage.NewValidationError("token_address", "观察代币与交易代币不能相同")
	}
	if rec.PriceType != models.PriceTypePrice && rec.PriceType != models.PriceTypeMarketCap {
		return storage.NewValidationError("price_type", "未知的价格类型")
	}
	if rec.SellThreshold <= rec.BuyThreshold {
		return storage.NewValidationError("sell_threshold", "卖出阈值必须大于买入阈值")
	}
	if rec.SellPercentage <= 0 || rec.SellPercentage > 1 {
		return storage.NewValidationError("sell_percentage", "百分比必须在 (0, 1] 区间")
	}
	if rec.BuyPercentage <= 0 || rec.BuyPercentage > 1 {
		return storage.NewValidationError("buy_percentage", "百分比必须在 (0, 1] 区间")
	}
	if rec.CheckInterval < 1 {
		return storage.NewValidationError("check_interval", "检查间隔至少为一秒")
	}
	if _, err := s.store.GetPrivateKey(ctx, rec.PrivateKeyID); err != nil {
		return storage.NewValidationError("private_key_id", "私钥不存在")
	}
	return nil
}

func (s *Service) populateMeta(ctx context.Context, address string, dst *models.TokenMeta) {
	meta, err := s.meta.GetTokenMeta(ctx, address)
	if err != nil {
		s.logger.Warn("Failed to fetch token meta", zap.String("address", address), zap.Error(err))
		if dst.Decimals == 0 {
			dst.Decimals = 9
		}
		return
	}
	dst.Name = meta.Name
	dst.Symbol = meta.Symbol
	dst.LogoURI = meta.LogoURI
	dst.Decimals = meta.Decimals
}

// Logs возвращает страницу журнала с фильтрами.
func (s *Service) Logs(ctx context.Context, filter storage.LogFilter) ([]*models.MonitorLog, error) {
	return s.store.ListLogs(ctx, filter)
}

// PurgeLogs очищает журнал: по монитору или целиком.
func (s *Service) PurgeLogs(ctx context.Context, recordID *uint) error {
	if recordID != nil {
		return s.store.DeleteLogsByMonitor(ctx, *recordID)
	}
	return s.store.DeleteAllLogs(ctx)
}

// WalletTokens возвращает содержимое кошелька ключа с итоговой стоимостью.
func (s *Service) WalletTokens(ctx context.Context, keyID uint) (*marketdata.WalletPortfolio, error) {
	key, err := s.store.GetPrivateKey(ctx, keyID)
	if err != nil {
		return nil, err
	}
	return s.meta.WalletTokenList(ctx, key.PublicKey)
}

// ExportLogs сериализует страницу журнала в JSON.
func (s *Service) ExportLogs(ctx context.Context, filter storage.LogFilter) ([]byte, error) {
	logs, err := s.store.ListLogs(ctx, filter)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(logs, "", "  ")
}
