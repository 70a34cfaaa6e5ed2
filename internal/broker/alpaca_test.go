package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ladder_bot/internal/config"
	"ladder_bot/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGateway(t *testing.T, handler http.Handler) *AlpacaGateway {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewAlpaca(config.Config{
		AlpacaAPIKey:      "key-123",
		AlpacaSecretKey:   "secret-456",
		AlpacaBaseURL:     srv.URL,
		AlpacaDataBaseURL: srv.URL,
		BrokerTimeoutSec:  5,
		DryRun:            false,
	})
}

func TestGetLastTradePrice(t *testing.T) {
	var gotKey, gotSecret string
	gw := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/stocks/AAPL/trades/latest", r.URL.Path)
		gotKey = r.Header.Get("APCA-API-KEY-ID")
		gotSecret = r.Header.Get("APCA-API-SECRET-KEY")
		w.Write([]byte(`{"trade": {"p": 187.23, "s": 100}}`))
	}))

	price, err := gw.GetLastTradePrice(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 187.23, price)
	assert.Equal(t, "key-123", gotKey)
	assert.Equal(t, "secret-456", gotSecret)
}

func TestGetLastTradePriceRejectedStatus(t *testing.T) {
	gw := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message": "forbidden"}`, http.StatusForbidden)
	}))

	_, err := gw.GetLastTradePrice(context.Background(), "AAPL")
	require.Error(t, err)
	assert.Equal(t, domain.FaultBrokerRejected, domain.KindOf(err))
}

func TestGetLastTradePriceUnreachable(t *testing.T) {
	gw := NewAlpaca(config.Config{
		AlpacaBaseURL:     "http://127.0.0.1:1",
		AlpacaDataBaseURL: "http://127.0.0.1:1",
		BrokerTimeoutSec:  1,
	})

	_, err := gw.GetLastTradePrice(context.Background(), "AAPL")
	require.Error(t, err)
	assert.Equal(t, domain.FaultBrokerUnavailable, domain.KindOf(err))
}

func TestListFilledOrdersFilters(t *testing.T) {
	gw := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/orders", r.URL.Path)
		assert.Equal(t, "closed", r.URL.Query().Get("status"))
		assert.Equal(t, "AAPL", r.URL.Query().Get("symbols"))
		w.Write([]byte(`[
			{"symbol": "AAPL", "status": "filled", "filled_avg_price": "100.50", "filled_qty": "1"},
			{"symbol": "AAPL", "status": "canceled", "filled_avg_price": "", "filled_qty": "0"},
			{"symbol": "TSLA", "status": "filled", "filled_avg_price": "200.00", "filled_qty": "1"},
			{"symbol": "AAPL", "status": "filled", "filled_avg_price": "95.00", "filled_qty": "2"}
		]`))
	}))

	fills, err := gw.ListFilledOrders(context.Background(), "AAPL", 100)
	require.NoError(t, err)
	// 只保留本标的、已成交且有成交价的记录
	require.Len(t, fills, 2)
	assert.Equal(t, 100.50, fills[0].FilledPrice)
	assert.Equal(t, 95.00, fills[1].FilledPrice)
	assert.Equal(t, 2.0, fills[1].FilledQty)
}

func TestListOpenOrders(t *testing.T) {
	gw := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "open", r.URL.Query().Get("status"))
		w.Write([]byte(`[
			{"symbol": "AAPL", "limit_price": "95.00"},
			{"symbol": "AAPL", "limit_price": ""}
		]`))
	}))

	orders, err := gw.ListOpenOrders(context.Background(), "AAPL")
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, 95.00, orders[0].LimitPrice)
	assert.Zero(t, orders[1].LimitPrice) // 市价挂单无限价，解析为 0
}

func TestListPositions(t *testing.T) {
	gw := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/positions", r.URL.Path)
		w.Write([]byte(`[{"symbol": "AAPL", "qty": "3"}]`))
	}))

	positions, err := gw.ListPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "AAPL", positions[0].Symbol)
	assert.Equal(t, 3.0, positions[0].Qty)
}

func TestSubmitLimitBuyPayload(t *testing.T) {
	var payload map[string]any
	gw := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v2/orders", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.Write([]byte(`{"id": "ord-1", "client_order_id": "` + payload["client_order_id"].(string) + `", "status": "accepted"}`))
	}))

	res, err := gw.SubmitLimitBuy(context.Background(), "AAPL", 1, 95.00)
	require.NoError(t, err)

	assert.Equal(t, "ord-1", res.OrderID)
	assert.Equal(t, "accepted", res.Status)
	// 数量与限价按 Alpaca 要求走字符串
	assert.Equal(t, "AAPL", payload["symbol"])
	assert.Equal(t, "1", payload["qty"])
	assert.Equal(t, "95.00", payload["limit_price"])
	assert.Equal(t, "limit", payload["type"])
	assert.Equal(t, "buy", payload["side"])
	assert.Equal(t, "gtc", payload["time_in_force"])
	assert.True(t, strings.HasPrefix(payload["client_order_id"].(string), "lb"))
}

func TestSubmitMarketBuyPayload(t *testing.T) {
	var payload map[string]any
	gw := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.Write([]byte(`{"id": "ord-2", "status": "accepted"}`))
	}))

	_, err := gw.SubmitMarketBuy(context.Background(), "AAPL", 1)
	require.NoError(t, err)

	assert.Equal(t, "market", payload["type"])
	_, hasLimit := payload["limit_price"]
	assert.False(t, hasLimit)
}

func TestSubmitOrderRejected(t *testing.T) {
	gw := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message": "insufficient buying power"}`, http.StatusForbidden)
	}))

	_, err := gw.SubmitLimitBuy(context.Background(), "AAPL", 1, 95.00)
	require.Error(t, err)
	assert.Equal(t, domain.FaultBrokerRejected, domain.KindOf(err))
}

func TestSubmitOrderDryRun(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	t.Cleanup(srv.Close)

	gw := NewAlpaca(config.Config{
		AlpacaBaseURL:     srv.URL,
		AlpacaDataBaseURL: srv.URL,
		BrokerTimeoutSec:  5,
		DryRun:            true,
	})

	res, err := gw.SubmitLimitBuy(context.Background(), "AAPL", 1, 95.00)
	require.NoError(t, err)

	// 模拟模式不触真实接口，返回合成订单号
	assert.False(t, called)
	assert.True(t, strings.HasPrefix(res.OrderID, "dryrun-"))
	assert.Equal(t, "accepted", res.Status)
	assert.True(t, gw.IsDryRun())
}
