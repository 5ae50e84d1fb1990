// internal/engine/swing.go
package engine

import (
	"context"
	"math"
	"time"

	"github.com/rovshanmuradov/solana-monitor/internal/storage/models"
	"github.com/rovshanmuradov/solana-monitor/internal/utils"
	"go.uber.org/zap"
)

func (e *Engine) runSwing(rec *models.SwingMonitorRecord, tr Trader, ntf Notifier, w *worker) {
	ctx := context.Background()
	watchAddr := utils.NormalizeMint(rec.WatchTokenAddress)
	tradeAddr := utils.NormalizeMint(rec.TradeTokenAddress)
	interval := time.Duration(rec.CheckInterval) * e.opts.TickUnit
	log := e.logger.With(zap.Uint("record_id", rec.ID), zap.String("name", rec.Name))

	var lastTrade time.Time

	for {
		if w.stopped() {
			return
		}

		// После сделки выдерживаем паузу до следующего наблюдения.
		if !lastTrade.IsZero() {
			if remaining := e.opts.TradeCooldown - time.Since(lastTrade); remaining > 0 {
				wait := remaining
				if interval < wait {
					wait = interval
				}
				if !w.sleep(wait) {
					return
				}
				continue
			}
		}

		start := time.Now()
		market, err := e.market.GetMarketData(ctx, watchAddr)
		if err != nil {
			log.Warn("Market data unavailable", zap.Error(err))
			if !w.sleep(interval) {
				return
			}
			continue
		}
		e.metrics.TrackObservation(models.LogTypeSwing, start)

		if err := e.store.UpdateSwingMonitorObservation(ctx, rec.ID, market.Price, market.MarketCap); err != nil {
			log.Error("Failed to persist observation", zap.Error(err))
			e.markSwingError(ctx, rec.ID, log)
			if !w.sleep(interval) {
				return
			}
			continue
		}

		current := market.Price
		if rec.PriceType == models.PriceTypeMarketCap {
			current = market.MarketCap
		}
		e.appendSwingLog(ctx, rec, current, "monitoring", actionMonitoring, nil, log)

		switch {
		case current >= rec.SellThreshold:
			balance, err := tr.TokenBalance(ctx, watchAddr)
			if err != nil {
				log.Error("Failed to read watch token balance", zap.Error(err))
				e.markSwingError(ctx, rec.ID, log)
				if !w.sleep(interval) {
					return
				}
				continue
			}
			if balance == 0 {
				if !w.sleep(interval) {
					return
				}
				continue
			}
			ntf.PriceAlert(ctx, rec.Name, rec.WatchToken.Symbol, market.Price, market.MarketCap, rec.SellThreshold, true, "swing", nil)

			effective := rec.SellPercentage
			if rec.AllInThresholdUSD > 0 {
				decimals := tr.Decimals(ctx, watchAddr)
				balanceUI := float64(balance) / math.Pow10(decimals)
				if balanceUI*market.Price <= rec.AllInThresholdUSD {
					effective = 1.0
				}
			}

			if e.executeSwingTrade(ctx, rec, tr, ntf, watchAddr, tradeAddr, effective, current, market.Price, "sell", log) {
				lastTrade = time.Now()
				if !w.sleep(e.opts.TradeCooldown) {
					return
				}
				continue
			}

		case current <= rec.BuyThreshold:
			balance, err := tr.TokenBalance(ctx, tradeAddr)
			if err != nil {
				log.Error("Failed to read trade token balance", zap.Error(err))
				e.markSwingError(ctx, rec.ID, log)
				if !w.sleep(interval) {
					return
				}
				continue
			}
			if balance == 0 {
				if !w.sleep(interval) {
					return
				}
				continue
			}
			ntf.PriceAlert(ctx, rec.Name, rec.TradeToken.Symbol, market.Price, market.MarketCap, rec.BuyThreshold, true, "swing", nil)

			var tradePrice float64
			if tradeMarket, err := e.market.GetMarketData(ctx, tradeAddr); err == nil {
				tradePrice = tradeMarket.Price
			}
			effective := rec.BuyPercentage
			if rec.AllInThresholdUSD > 0 && tradePrice > 0 {
				decimals := tr.Decimals(ctx, tradeAddr)
				balanceUI := float64(balance) / math.Pow10(decimals)
				if balanceUI*tradePrice <= rec.AllInThresholdUSD {
					effective = 1.0
				}
			}

			if e.executeSwingTrade(ctx, rec, tr, ntf, tradeAddr, watchAddr, effective, current, tradePrice, "buy", log) {
				lastTrade = time.Now()
				if !w.sleep(e.opts.TradeCooldown) {
					return
				}
				continue
			}

		default:
			if notify, pct := e.filter.Observe(watchAddr, market.MarketCap); notify && pct != nil {
				ntf.PriceAlert(ctx, rec.Name, rec.WatchToken.Symbol, market.Price, market.MarketCap, rec.SellThreshold, false, "swing", pct)
				e.metrics.NotificationCounter.Inc()
			}
		}

		if !w.sleep(interval) {
			return
		}
	}
}

// executeSwingTrade обменивает долю баланса from на to; true только при
// успешной отправке. fromPriceUSD — цена исходного токена для оценки сделки
// (ноль, если неизвестна).
func (e *Engine) executeSwingTrade(ctx context.Context, rec *models.SwingMonitorRecord, tr Trader, ntf Notifier, from, to string, percentage, currentValue, fromPriceUSD float64, side string, log *zap.Logger) bool {
	balance, err := tr.TokenBalance(ctx, from)
	if err != nil || balance == 0 {
		if err != nil {
			log.Error("Failed to read balance for swing trade", zap.Error(err))
		}
		return false
	}

	amount := balance
	if percentage < 1.0 {
		amount = uint64(float64(balance) * percentage)
	}
	if amount == 0 {
		return false
	}

	quote, err := tr.Quote(ctx, from, to, amount)
	if err != nil {
		e.metrics.TradeFailureCounter.WithLabelValues(side).Inc()
		log.Error("Swing quote failed", zap.String("side", side), zap.Error(err))
		ntf.Error(ctx, rec.Name, err.Error())
		return false
	}

	txHash, err := tr.Swap(ctx, quote)
	if err != nil {
		e.metrics.TradeFailureCounter.WithLabelValues(side).Inc()
		log.Error("Swing swap failed", zap.String("side", side), zap.Error(err))
		ntf.Error(ctx, rec.Name, err.Error())
		return false
	}

	action := actionSwingBuyDone
	symbol := rec.TradeToken.Symbol
	if side == "sell" {
		action = actionSwingSellDone
		symbol = rec.WatchToken.Symbol
	}

	e.appendSwingLog(ctx, rec, currentValue, side, action, &txHash, log)

	decimals := tr.Decimals(ctx, from)
	amountUI := float64(amount) / math.Pow10(decimals)
	ntf.Trade(ctx, action, rec.Name, symbol, amountUI, amountUI*fromPriceUSD, txHash)
	e.metrics.TradeCounter.WithLabelValues(side).Inc()

	log.Info("Swing trade executed",
		zap.String("side", side),
		zap.Float64("percentage", percentage),
		zap.String("tx_hash", txHash))
	return true
}

func (e *Engine) markSwingError(ctx context.Context, id uint, log *zap.Logger) {
	if err := e.store.UpdateSwingMonitorStatus(ctx, id, models.StatusError); err != nil {
		log.Error("Failed to mark swing monitor errored", zap.Error(err))
	}
}

func (e *Engine) appendSwingLog(ctx context.Context, rec *models.SwingMonitorRecord, currentValue float64, actionType, actionTaken string, txHash *string, log *zap.Logger) {
	priceType := rec.PriceType
	sellTh := rec.SellThreshold
	buyTh := rec.BuyThreshold
	watchAddr := rec.WatchTokenAddress
	tradeAddr := rec.TradeTokenAddress
	entry := &models.MonitorLog{
		MonitorRecordID:   &rec.ID,
		ThresholdReached:  actionType != "monitoring",
		ActionTaken:       actionTaken,
		TxHash:            txHash,
		MonitorType:       models.LogTypeSwing,
		PriceType:         &priceType,
		CurrentValue:      &currentValue,
		SellThreshold:     &sellTh,
		BuyThreshold:      &buyTh,
		ActionType:        &actionType,
		WatchTokenAddress: &watchAddr,
		TradeTokenAddress: &tradeAddr,
	}
	if err := e.store.AppendLog(ctx, entry); err != nil {
		log.Warn("Failed to append swing log", zap.Error(err))
	}
}
