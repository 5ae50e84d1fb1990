// internal/engine/simple.go
package engine

import (
	"context"
	"math"
	"time"

	"github.com/rovshanmuradov/solana-monitor/internal/marketdata"
	"github.com/rovshanmuradov/solana-monitor/internal/storage/models"
	"github.com/rovshanmuradov/solana-monitor/internal/trader"
	"github.com/rovshanmuradov/solana-monitor/internal/utils"
	"go.uber.org/zap"
)

// Действия в журнале мониторинга.
const (
	actionMonitoring       = "监控中"
	actionThresholdReached = "阈值达到"
	actionAutoSell         = "自动出售"
	actionAutoBuy          = "自动买入"
	actionSwingSellDone    = "执行卖出交易成功"
	actionSwingBuyDone     = "执行买入交易成功"
)

type iterationOutcome int

const (
	outcomeInterval iterationOutcome = iota // обычная пауза check_interval
	outcomeCooldown                         // пауза после сделки
	outcomeComplete                         // монитор завершён
)

func (e *Engine) runSimple(rec *models.MonitorRecord, tr Trader, ntf Notifier, w *worker) {
	ctx := context.Background()
	addr := utils.NormalizeMint(rec.TokenAddress)
	interval := time.Duration(rec.CheckInterval) * e.opts.TickUnit
	log := e.logger.With(zap.Uint("record_id", rec.ID), zap.String("name", rec.Name))

	for {
		if w.stopped() {
			return
		}

		start := time.Now()
		market, err := e.market.GetMarketData(ctx, addr)
		if err != nil {
			log.Warn("Market data unavailable", zap.Error(err))
			if !w.sleep(interval) {
				return
			}
			continue
		}
		e.metrics.TrackObservation(models.LogTypeNormal, start)

		if err := e.store.UpdateMonitorObservation(ctx, rec.ID, market.Price, market.MarketCap); err != nil {
			log.Error("Failed to persist observation", zap.Error(err))
			e.markError(ctx, rec.ID, log)
			if !w.sleep(interval) {
				return
			}
			continue
		}

		triggered := false
		if rec.Kind == models.KindSell {
			triggered = market.MarketCap >= rec.Threshold
		} else {
			triggered = market.MarketCap < rec.Threshold
		}

		action := actionMonitoring
		if triggered {
			action = actionThresholdReached
		}
		e.appendSimpleLog(ctx, rec, market, triggered, action, nil, log)

		if triggered {
			var outcome iterationOutcome
			if rec.Kind == models.KindSell {
				outcome = e.simpleSell(ctx, rec, tr, ntf, market, log)
			} else {
				outcome = e.simpleBuy(ctx, rec, tr, ntf, market, log)
			}
			switch outcome {
			case outcomeComplete:
				e.completeSimple(ctx, rec, ntf, log)
				return
			case outcomeCooldown:
				if !w.sleep(e.opts.TradeCooldown) {
					return
				}
				continue
			}
		} else if notify, pct := e.filter.Observe(addr, market.MarketCap); notify && pct != nil {
			ntf.PriceAlert(ctx, rec.Name, rec.Token.Symbol, market.Price, market.MarketCap, rec.Threshold, false, rec.Kind, pct)
			e.metrics.NotificationCounter.Inc()
		}

		if !w.sleep(interval) {
			return
		}
	}
}

// simpleSell — ветка продажи: порог достигнут, рыночная капитализация выше.
func (e *Engine) simpleSell(ctx context.Context, rec *models.MonitorRecord, tr Trader, ntf Notifier, market *marketdata.MarketData, log *zap.Logger) iterationOutcome {
	ntf.PriceAlert(ctx, rec.Name, rec.Token.Symbol, market.Price, market.MarketCap, rec.Threshold, true, models.KindSell, nil)

	balance, err := tr.TokenBalance(ctx, utils.NormalizeMint(rec.TokenAddress))
	if err != nil {
		log.Error("Failed to read token balance", zap.Error(err))
		e.markError(ctx, rec.ID, log)
		return outcomeInterval
	}
	if balance == 0 {
		if rec.PreSniper {
			// Токен ещё не куплен: ждём, не завершая монитор.
			log.Info("Pre-sniper monitor has no balance yet, waiting")
			return outcomeInterval
		}
		ntf.Error(ctx, rec.Name, "余额不足，监控结束")
		return outcomeComplete
	}

	decimals := tr.Decimals(ctx, rec.TokenAddress)
	balanceUI := float64(balance) / math.Pow10(decimals)

	effective := rec.Percentage
	if rec.ExecutionMode == models.ModeMultiple && balanceUI*market.Price < rec.MinimumHoldUSD {
		// Остаток меньше минимального удержания: выходим целиком.
		effective = 1.0
	}

	result, err := tr.SellTokenForNative(ctx, utils.NormalizeMint(rec.TokenAddress), effective)
	if err != nil {
		e.metrics.TradeFailureCounter.WithLabelValues("sell").Inc()
		log.Error("Sell failed", zap.Error(err))
		ntf.Error(ctx, rec.Name, err.Error())
		return outcomeInterval
	}

	soldUI := float64(result.InAmount) / math.Pow10(decimals)
	e.appendSimpleLog(ctx, rec, market, true, actionAutoSell, &result.TxHash, log)
	ntf.Trade(ctx, actionAutoSell, rec.Name, rec.Token.Symbol, soldUI, soldUI*market.Price, result.TxHash)
	e.metrics.TradeCounter.WithLabelValues("sell").Inc()
	log.Info("Sell executed",
		zap.Float64("percentage", effective),
		zap.String("tx_hash", result.TxHash))

	if rec.ExecutionMode == models.ModeSingle || effective >= 1.0 {
		return outcomeComplete
	}
	return outcomeCooldown
}

// simpleBuy — ветка покупки: капитализация опустилась ниже порога.
func (e *Engine) simpleBuy(ctx context.Context, rec *models.MonitorRecord, tr Trader, ntf Notifier, market *marketdata.MarketData, log *zap.Logger) iterationOutcome {
	ntf.PriceAlert(ctx, rec.Name, rec.Token.Symbol, market.Price, market.MarketCap, rec.Threshold, true, models.KindBuy, nil)

	lamports, err := tr.NativeBalance(ctx)
	if err != nil {
		log.Error("Failed to read native balance", zap.Error(err))
		e.markError(ctx, rec.ID, log)
		return outcomeInterval
	}

	const lamportsPerSOL = 1_000_000_000
	solBalance := float64(lamports) / lamportsPerSOL
	buyAmount := solBalance * rec.Percentage
	if rec.Percentage >= 1.0 {
		buyAmount -= trader.RentReserveSOL
	}
	if solBalance <= 0 || buyAmount <= 0 {
		ntf.Error(ctx, rec.Name, "余额不足，监控结束")
		return outcomeComplete
	}

	native, err := e.market.GetMarketData(ctx, utils.NativeMint)
	if err != nil {
		log.Warn("Native price unavailable", zap.Error(err))
		return outcomeInterval
	}
	solUSD := native.Price
	estimatedUSD := buyAmount * solUSD

	if rec.MaxBuyUSD > 0 && rec.AccumulatedBuyUSD+estimatedUSD > rec.MaxBuyUSD {
		log.Info("Cumulative buy cap reached",
			zap.Float64("accumulated_usd", rec.AccumulatedBuyUSD),
			zap.Float64("estimated_usd", estimatedUSD),
			zap.Float64("max_buy_usd", rec.MaxBuyUSD))
		ntf.Error(ctx, rec.Name, "累计买入已达上限，监控结束")
		return outcomeComplete
	}

	effective := rec.Percentage
	if rec.ExecutionMode == models.ModeMultiple && (solBalance-buyAmount)*solUSD < rec.MinimumHoldUSD {
		effective = 1.0
		buyAmount = solBalance - trader.RentReserveSOL
		estimatedUSD = buyAmount * solUSD
	}

	result, err := tr.BuyTokenForNative(ctx, utils.NormalizeMint(rec.TokenAddress), effective)
	if err != nil {
		e.metrics.TradeFailureCounter.WithLabelValues("buy").Inc()
		log.Error("Buy failed", zap.Error(err))
		ntf.Error(ctx, rec.Name, err.Error())
		return outcomeInterval
	}

	spentSOL := float64(result.InAmount) / lamportsPerSOL
	e.appendSimpleLog(ctx, rec, market, true, actionAutoBuy, &result.TxHash, log)
	ntf.Trade(ctx, actionAutoBuy, rec.Name, rec.Token.Symbol, spentSOL, estimatedUSD, result.TxHash)
	e.metrics.TradeCounter.WithLabelValues("buy").Inc()

	// Потраченный бюджет фиксируется в записи до уведомлений.
	rec.AccumulatedBuyUSD += estimatedUSD
	if err := e.store.SaveMonitor(ctx, rec); err != nil {
		log.Error("Failed to persist accumulated buy amount", zap.Error(err))
	}
	log.Info("Buy executed",
		zap.Float64("percentage", effective),
		zap.Float64("estimated_usd", estimatedUSD),
		zap.String("tx_hash", result.TxHash))

	if rec.ExecutionMode == models.ModeSingle || effective >= 1.0 {
		return outcomeComplete
	}
	return outcomeCooldown
}

func (e *Engine) completeSimple(ctx context.Context, rec *models.MonitorRecord, ntf Notifier, log *zap.Logger) {
	if err := e.store.UpdateMonitorStatus(ctx, rec.ID, models.StatusCompleted); err != nil {
		log.Error("Failed to mark monitor completed", zap.Error(err))
	}
	ntf.Completion(ctx, rec.Name, rec.Token.Symbol)
	log.Info("Monitor completed")
}

func (e *Engine) markError(ctx context.Context, id uint, log *zap.Logger) {
	if err := e.store.UpdateMonitorStatus(ctx, id, models.StatusError); err != nil {
		log.Error("Failed to mark monitor errored", zap.Error(err))
	}
}

func (e *Engine) appendSimpleLog(ctx context.Context, rec *models.MonitorRecord, market *marketdata.MarketData, triggered bool, action string, txHash *string, log *zap.Logger) {
	price := market.Price
	marketCap := market.MarketCap
	entry := &models.MonitorLog{
		MonitorRecordID:  &rec.ID,
		Price:            &price,
		MarketCap:        &marketCap,
		ThresholdReached: triggered,
		ActionTaken:      action,
		TxHash:           txHash,
		MonitorType:      models.LogTypeNormal,
	}
	// Сбой записи журнала не прерывает мониторинг.
	if err := e.store.AppendLog(ctx, entry); err != nil {
		log.Warn("Failed to append monitor log", zap.Error(err))
	}
}
