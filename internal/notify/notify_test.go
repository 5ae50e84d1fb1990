package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestSendEnvelope(t *testing.T) {
	var body map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		fmt.Fprint(w, `{"code":0,"msg":"success"}`)
	}))
	defer srv.Close()

	n := New(srv.URL, zaptest.NewLogger(t))
	n.Startup(context.Background(), "m1", "AAA", 1_000_000)

	assert.Equal(t, "text", body["msg_type"])
	content, ok := body["content"].(map[string]interface{})
	require.True(t, ok)
	text, _ := content["text"].(string)
	assert.Contains(t, text, "监控已启动")
	assert.Contains(t, text, "m1")
	assert.Contains(t, text, "AAA")
}

func TestDeliveryFailureDoesNotPanic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"code":19001,"msg":"param invalid"}`)
	}))
	defer srv.Close()

	n := New(srv.URL, zaptest.NewLogger(t))
	// Ошибки вебхука не должны распространяться наружу.
	n.Error(context.Background(), "m1", "rpc timeout")
	n.Trade(context.Background(), "自动出售", "m1", "AAA", 123.45, 2.46, "txhash")
	n.Completion(context.Background(), "m1", "AAA")
}

func TestEmptyWebhookSkipsDelivery(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	n := New("", zaptest.NewLogger(t))
	n.Startup(context.Background(), "m1", "AAA", 1)
	assert.Zero(t, hits.Load())
}

func collectTexts(t *testing.T, texts *[]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Content struct {
				Text string `json:"text"`
			} `json:"content"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		*texts = append(*texts, body.Content.Text)
		fmt.Fprint(w, `{"code":0}`)
	}))
}

func pctPtr(v float64) *float64 { return &v }

func TestPriceAlertDirection(t *testing.T) {
	var texts []string
	srv := collectTexts(t, &texts)
	defer srv.Close()

	n := New(srv.URL, zaptest.NewLogger(t))
	n.PriceAlert(context.Background(), "m1", "AAA", 0.002, 2_000_000, 3_000_000, false, "sell", pctPtr(8))
	n.PriceAlert(context.Background(), "m1", "AAA", 0.0018, 1_800_000, 3_000_000, false, "sell", pctPtr(-12))

	require.Len(t, texts, 2)
	assert.Contains(t, texts[0], "上涨")
	assert.Contains(t, texts[0], "8.00%")
	assert.Contains(t, texts[1], "下跌")
	assert.Contains(t, texts[1], "-12.00%")
}

func TestPriceAlertThresholdReached(t *testing.T) {
	var texts []string
	srv := collectTexts(t, &texts)
	defer srv.Close()

	n := New(srv.URL, zaptest.NewLogger(t))
	n.PriceAlert(context.Background(), "m1", "AAA", 0.02, 1_100_000, 1_000_000, true, "sell", nil)
	n.PriceAlert(context.Background(), "m2", "BBB", 0.01, 900_000, 1_000_000, true, "buy", nil)
	n.PriceAlert(context.Background(), "m3", "CCC", 2.1, 2_100_000, 2.0, true, "swing", nil)

	require.Len(t, texts, 3)
	for _, text := range texts {
		assert.Contains(t, text, "市值阈值已达到")
		assert.NotContains(t, text, "价格波动提醒")
	}
	assert.Contains(t, texts[0], "卖出")
	assert.Contains(t, texts[1], "买入")
	assert.Contains(t, texts[2], "波段")
}

func TestTradeIncludesUSDValue(t *testing.T) {
	var texts []string
	srv := collectTexts(t, &texts)
	defer srv.Close()

	n := New(srv.URL, zaptest.NewLogger(t))
	n.Trade(context.Background(), "自动出售", "m1", "AAA", 50, 1.0, "txhash")

	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "USD 1.00")
	assert.Contains(t, texts[0], "m1")
	assert.Contains(t, texts[0], "txhash")
}
