// internal/notify/notify.go
package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Notifier отправляет событийные сообщения на вебхук монитора. Ошибки
// доставки логируются и никогда не прерывают цикл мониторинга.
type Notifier struct {
	http       *resty.Client
	webhookURL string
	logger     *zap.Logger
}

type textMessage struct {
	MsgType string      `json:"msg_type"`
	Content textContent `json:"content"`
}

type textContent struct {
	Text string `json:"text"`
}

type webhookResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func New(webhookURL string, logger *zap.Logger) *Notifier {
	httpClient := resty.New().
		SetTimeout(10*time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second).
		SetHeader("Content-Type", "application/json")

	return &Notifier{
		http:       httpClient,
		webhookURL: webhookURL,
		logger:     logger.Named("notify"),
	}
}

func (n *Notifier) send(ctx context.Context, text string) {
	if n.webhookURL == "" {
		return
	}

	var result webhookResponse
	resp, err := n.http.R().
		SetContext(ctx).
		SetBody(textMessage{MsgType: "text", Content: textContent{Text: text}}).
		SetResult(&result).
		Post(n.webhookURL)
	if err != nil {
		n.logger.Warn("Failed to deliver webhook notification", zap.Error(err))
		return
	}
	if resp.StatusCode() != http.StatusOK || result.Code != 0 {
		n.logger.Warn("Webhook rejected notification",
			zap.Int("status", resp.StatusCode()),
			zap.Int("code", result.Code),
			zap.String("msg", result.Msg))
	}
}

// Startup сообщает о запуске монитора.
func (n *Notifier) Startup(ctx context.Context, name, tokenSymbol string, threshold float64) {
	n.send(ctx, fmt.Sprintf("🚀 监控已启动\n名称: %s\n代币: %s\n阈值: %.2f", name, tokenSymbol, threshold))
}

// PriceAlert — две категории в одном: срабатывание порога и заметное движение
// без срабатывания. Во втором случае changePct обязателен (процент со знаком).
func (n *Notifier) PriceAlert(ctx context.Context, name, tokenSymbol string, price, marketCap, threshold float64, thresholdReached bool, side string, changePct *float64) {
	if thresholdReached {
		n.send(ctx, fmt.Sprintf("📊 市值阈值已达到\n名称: %s\n代币: %s\n方向: %s\n当前价格: %.8f\n当前市值: %.2f\n阈值: %.2f",
			name, tokenSymbol, sideLabel(side), price, marketCap, threshold))
		return
	}

	pct := 0.0
	if changePct != nil {
		pct = *changePct
	}
	direction := "上涨"
	if pct < 0 {
		direction = "下跌"
	}
	n.send(ctx, fmt.Sprintf("⚠️ 价格波动提醒\n名称: %s\n代币: %s\n%s: %.2f%%\n当前价格: %.8f\n当前市值: %.2f",
		name, tokenSymbol, direction, pct, price, marketCap))
}

func sideLabel(side string) string {
	switch side {
	case "buy":
		return "买入"
	case "sell":
		return "卖出"
	default:
		return "波段"
	}
}

// Trade сообщает об исполненной сделке.
func (n *Notifier) Trade(ctx context.Context, action, name, tokenSymbol string, amount, usdValue float64, txHash string) {
	n.send(ctx, fmt.Sprintf("✅ %s\n名称: %s\n代币: %s\n数量: %.6f\n价值: USD %.2f\n交易哈希: %s",
		action, name, tokenSymbol, amount, usdValue, txHash))
}

// Error сообщает об ошибке мониторинга или сделки.
func (n *Notifier) Error(ctx context.Context, name, message string) {
	n.send(ctx, fmt.Sprintf("❌ 监控出错\n名称: %s\n错误: %s", name, message))
}

// Completion сообщает о завершении монитора.
func (n *Notifier) Completion(ctx context.Context, name, tokenSymbol string) {
	n.send(ctx, fmt.Sprintf("🏁 监控已完成\n名称: %s\n代币: %s", name, tokenSymbol))
}
