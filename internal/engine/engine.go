// internal/engine/engine.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rovshanmuradov/solana-monitor/internal/marketdata"
	"github.com/rovshanmuradov/solana-monitor/internal/metrics"
	"github.com/rovshanmuradov/solana-monitor/internal/storage"
	"github.com/rovshanmuradov/solana-monitor/internal/storage/models"
	"github.com/rovshanmuradov/solana-monitor/internal/trader"
	"github.com/rovshanmuradov/solana-monitor/internal/utils"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrAlreadyRunning возвращается при повторном запуске живого монитора.
var ErrAlreadyRunning = errors.New("monitor already running")

// MarketData — источник рыночных данных, который опрашивают воркеры.
type MarketData interface {
	GetMarketData(ctx context.Context, tokenAddress string) (*marketdata.MarketData, error)
	GetTokenMeta(ctx context.Context, tokenAddress string) (*marketdata.TokenMeta, error)
}

// Trader — торговые операции воркера, привязанные к одному кошельку.
type Trader interface {
	NativeBalance(ctx context.Context) (uint64, error)
	TokenBalance(ctx context.Context, mint string) (uint64, error)
	Decimals(ctx context.Context, mint string) int
	SellTokenForNative(ctx context.Context, mint string, percentage float64) (*trader.TradeResult, error)
	BuyTokenForNative(ctx context.Context, mint string, percentage float64) (*trader.TradeResult, error)
	Quote(ctx context.Context, inputMint, outputMint string, amount uint64) (*trader.Quote, error)
	Swap(ctx context.Context, quote *trader.Quote) (string, error)
}

// Notifier — исходящие уведомления монитора.
type Notifier interface {
	Startup(ctx context.Context, name, tokenSymbol string, threshold float64)
	PriceAlert(ctx context.Context, name, tokenSymbol string, price, marketCap, threshold float64, thresholdReached bool, side string, changePct *float64)
	Trade(ctx context.Context, action, name, tokenSymbol string, amount, usdValue float64, txHash string)
	Error(ctx context.Context, name, message string)
	Completion(ctx context.Context, name, tokenSymbol string)
}

// TraderFactory создаёт трейдера для приватного ключа монитора. Вторым
// значением возвращается функция освобождения; движок вызывает её при выходе
// воркера (может быть nil).
type TraderFactory func(secretKey string) (Trader, func(), error)

// NotifierFactory создаёт нотификатор для вебхука монитора.
type NotifierFactory func(webhookURL string) Notifier

// Options — параметры движка.
type Options struct {
	// Пауза после сделки перед следующим наблюдением.
	TradeCooldown time.Duration
	// Единица измерения check_interval записи.
	TickUnit time.Duration
}

func (o *Options) applyDefaults() {
	if o.TradeCooldown == 0 {
		o.TradeCooldown = 60 * time.Second
	}
	if o.TickUnit == 0 {
		o.TickUnit = time.Second
	}
}

type worker struct {
	quit chan struct{}
	done chan struct{}
	once sync.Once
}

func newWorker() *worker {
	return &worker{
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
}

func (w *worker) stop() {
	w.once.Do(func() { close(w.quit) })
}

// sleep ждёт d или сигнал остановки; false означает остановку.
func (w *worker) sleep(d time.Duration) bool {
	select {
	case <-w.quit:
		return false
	case <-time.After(d):
		return true
	}
}

func (w *worker) stopped() bool {
	select {
	case <-w.quit:
		return true
	default:
		return false
	}
}

// Engine владеет воркерами мониторов. Мьютекс защищает только реестры и
// никогда не держится во время I/O.
type Engine struct {
	store       storage.Store
	market      MarketData
	newTrader   TraderFactory
	newNotifier NotifierFactory
	filter      *ChangeFilter
	metrics     *metrics.Metrics
	logger      *zap.Logger
	opts        Options

	mu        sync.Mutex
	simple    map[uint]*worker
	swing     map[uint]*worker
	recovered bool
}

func New(store storage.Store, market MarketData, newTrader TraderFactory, newNotifier NotifierFactory, m *metrics.Metrics, logger *zap.Logger, opts Options) *Engine {
	opts.applyDefaults()
	return &Engine{
		store:       store,
		market:      market,
		newTrader:   newTrader,
		newNotifier: newNotifier,
		filter:      NewChangeFilter(),
		metrics:     m,
		logger:      logger.Named("engine"),
		opts:        opts,
	}
}

// Filter открывает доступ к фильтру уведомлений (настройка порога).
func (e *Engine) Filter() *ChangeFilter {
	return e.filter
}

func (e *Engine) unregister(m map[uint]*worker, id uint, w *worker) {
	e.mu.Lock()
	if current, ok := m[id]; ok && current == w {
		delete(m, id)
	}
	e.mu.Unlock()
}

// StartSimple запускает воркер простого монитора.
func (e *Engine) StartSimple(ctx context.Context, id uint) error {
	e.mu.Lock()
	if e.simple == nil {
		e.simple = make(map[uint]*worker)
	}
	if _, ok := e.simple[id]; ok {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}
	w := newWorker()
	e.simple[id] = w
	e.mu.Unlock()

	rec, err := e.store.GetMonitor(ctx, id)
	if err != nil {
		e.unregister(e.simple, id, w)
		return fmt.Errorf("load monitor %d: %w", id, err)
	}
	tr, release, err := e.newTrader(rec.Key.SecretKey)
	if err != nil {
		e.unregister(e.simple, id, w)
		return fmt.Errorf("build trader for monitor %d: %w", id, err)
	}
	if err := e.store.UpdateMonitorStatus(ctx, id, models.StatusMonitoring); err != nil {
		if release != nil {
			release()
		}
		e.unregister(e.simple, id, w)
		return err
	}
	rec.Status = models.StatusMonitoring

	ntf := e.newNotifier(rec.WebhookURL)
	ntf.Startup(ctx, rec.Name, rec.Token.Symbol, rec.Threshold)

	e.metrics.ActiveMonitors.WithLabelValues(models.LogTypeNormal).Inc()
	go func() {
		defer func() {
			if release != nil {
				release()
			}
			e.metrics.ActiveMonitors.WithLabelValues(models.LogTypeNormal).Dec()
			e.unregister(e.simple, id, w)
			close(w.done)
		}()
		e.runSimple(rec, tr, ntf, w)
	}()

	e.logger.Info("Simple monitor started",
		zap.Uint("record_id", id),
		zap.String("name", rec.Name),
		zap.String("token", rec.TokenAddress))
	return nil
}

// StopSimple снимает воркер и переводит запись в stopped. Идемпотентна и не
// ждёт выхода воркера.
func (e *Engine) StopSimple(ctx context.Context, id uint) error {
	e.mu.Lock()
	w, ok := e.simple[id]
	if ok {
		delete(e.simple, id)
	}
	e.mu.Unlock()

	if ok {
		w.stop()
	}
	if err := e.store.UpdateMonitorStatus(ctx, id, models.StatusStopped); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return nil
}

// StartSwing запускает воркер волнового монитора.
func (e *Engine) StartSwing(ctx context.Context, id uint) error {
	e.mu.Lock()
	if e.swing == nil {
		e.swing = make(map[uint]*worker)
	}
	if _, ok := e.swing[id]; ok {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}
	w := newWorker()
	e.swing[id] = w
	e.mu.Unlock()

	rec, err := e.store.GetSwingMonitor(ctx, id)
	if err != nil {
		e.unregister(e.swing, id, w)
		return fmt.Errorf("load swing monitor %d: %w", id, err)
	}
	tr, release, err := e.newTrader(rec.Key.SecretKey)
	if err != nil {
		e.unregister(e.swing, id, w)
		return fmt.Errorf("build trader for swing monitor %d: %w", id, err)
	}
	if err := e.store.UpdateSwingMonitorStatus(ctx, id, models.StatusMonitoring); err != nil {
		if release != nil {
			release()
		}
		e.unregister(e.swing, id, w)
		return err
	}
	rec.Status = models.StatusMonitoring

	ntf := e.newNotifier(rec.WebhookURL)
	ntf.Startup(ctx, rec.Name, rec.WatchToken.Symbol, rec.SellThreshold)

	e.metrics.ActiveMonitors.WithLabelValues(models.LogTypeSwing).Inc()
	go func() {
		defer func() {
			if release != nil {
				release()
			}
			e.metrics.ActiveMonitors.WithLabelValues(models.LogTypeSwing).Dec()
			e.unregister(e.swing, id, w)
			close(w.done)
		}()
		e.runSwing(rec, tr, ntf, w)
	}()

	e.logger.Info("Swing monitor started",
		zap.Uint("record_id", id),
		zap.String("name", rec.Name),
		zap.String("watch_token", rec.WatchTokenAddress),
		zap.String("trade_token", rec.TradeTokenAddress))
	return nil
}

// StopSwing — симметрично StopSimple.
func (e *Engine) StopSwing(ctx context.Context, id uint) error {
	e.mu.Lock()
	w, ok := e.swing[id]
	if ok {
		delete(e.swing, id)
	}
	e.mu.Unlock()

	if ok {
		w.stop()
	}
	if err := e.store.UpdateSwingMonitorStatus(ctx, id, models.StatusStopped); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return nil
}

// IsRunningSimple сообщает, жив ли воркер простого монитора.
func (e *Engine) IsRunningSimple(id uint) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	w, ok := e.simple[id]
	return ok && !w.stopped()
}

// IsRunningSwing сообщает, жив ли воркер волнового монитора.
func (e *Engine) IsRunningSwing(id uint) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	w, ok := e.swing[id]
	return ok && !w.stopped()
}

// RecoverAll единожды поднимает все записи в статусе monitoring. Сбой
// восстановления одной записи переводит её в stopped и не трогает остальные.
func (e *Engine) RecoverAll(ctx context.Context) error {
	e.mu.Lock()
	if e.recovered {
		e.mu.Unlock()
		return nil
	}
	e.recovered = true
	e.mu.Unlock()

	simple, err := e.store.ListMonitorsByStatus(ctx, models.StatusMonitoring)
	if err != nil {
		return fmt.Errorf("list simple monitors for recovery: %w", err)
	}
	swing, err := e.store.ListSwingMonitorsByStatus(ctx, models.StatusMonitoring)
	if err != nil {
		return fmt.Errorf("list swing monitors for recovery: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, rec := range simple {
		id := rec.ID
		g.Go(func() error {
			if err := e.StartSimple(gctx, id); err != nil {
				e.logger.Warn("Failed to recover simple monitor, demoting to stopped",
					zap.Uint("record_id", id), zap.Error(err))
				if derr := e.store.UpdateMonitorStatus(gctx, id, models.StatusStopped); derr != nil {
					e.logger.Error("Failed to demote monitor", zap.Uint("record_id", id), zap.Error(derr))
				}
			}
			return nil
		})
	}
	for _, rec := range swing {
		id := rec.ID
		g.Go(func() error {
			if err := e.StartSwing(gctx, id); err != nil {
				e.logger.Warn("Failed to recover swing monitor, demoting to stopped",
					zap.Uint("record_id", id), zap.Error(err))
				if derr := e.store.UpdateSwingMonitorStatus(gctx, id, models.StatusStopped); derr != nil {
					e.logger.Error("Failed to demote swing monitor", zap.Uint("record_id", id), zap.Error(derr))
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	e.logger.Info("Recovery finished",
		zap.Int("simple", len(simple)),
		zap.Int("swing", len(swing)))
	return nil
}

// StopAll останавливает все воркеры и сбрасывает фильтр уведомлений.
func (e *Engine) StopAll(ctx context.Context) {
	e.mu.Lock()
	simpleIDs := make([]uint, 0, len(e.simple))
	for id := range e.simple {
		simpleIDs = append(simpleIDs, id)
	}
	swingIDs := make([]uint, 0, len(e.swing))
	for id := range e.swing {
		swingIDs = append(swingIDs, id)
	}
	e.mu.Unlock()

	for _, id := range simpleIDs {
		if err := e.StopSimple(ctx, id); err != nil {
			e.logger.Warn("Failed to stop simple monitor", zap.Uint("record_id", id), zap.Error(err))
		}
	}
	for _, id := range swingIDs {
		if err := e.StopSwing(ctx, id); err != nil {
			e.logger.Warn("Failed to stop swing monitor", zap.Uint("record_id", id), zap.Error(err))
		}
	}
	e.filter.Clear()
}

// Shutdown гасит воркеры, не трогая статусы записей: мониторы в monitoring
// будут подняты RecoverAll при следующем старте процесса. Ждёт выхода
// воркеров до истечения ctx. Для остановки по команде оператора — Stop*.
func (e *Engine) Shutdown(ctx context.Context) {
	e.mu.Lock()
	workers := make([]*worker, 0, len(e.simple)+len(e.swing))
	for _, w := range e.simple {
		workers = append(workers, w)
	}
	for _, w := range e.swing {
		workers = append(workers, w)
	}
	e.mu.Unlock()

	for _, w := range workers {
		w.stop()
	}
	for _, w := range workers {
		select {
		case <-w.done:
		case <-ctx.Done():
			return
		}
	}
}

// CleanupFilter оставляет в фильтре только адреса живых мониторов.
func (e *Engine) CleanupFilter(ctx context.Context) {
	active := make(map[string]struct{})

	e.mu.Lock()
	simpleIDs := make([]uint, 0, len(e.simple))
	for id := range e.simple {
		simpleIDs = append(simpleIDs, id)
	}
	swingIDs := make([]uint, 0, len(e.swing))
	for id := range e.swing {
		swingIDs = append(swingIDs, id)
	}
	e.mu.Unlock()

	for _, id := range simpleIDs {
		if rec, err := e.store.GetMonitor(ctx, id); err == nil {
			active[utils.NormalizeMint(rec.TokenAddress)] = struct{}{}
		}
	}
	for _, id := range swingIDs {
		if rec, err := e.store.GetSwingMonitor(ctx, id); err == nil {
			active[utils.NormalizeMint(rec.WatchTokenAddress)] = struct{}{}
		}
	}
	e.filter.CleanupUnused(active)
}
