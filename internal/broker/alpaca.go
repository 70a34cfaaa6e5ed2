package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"ladder_bot/internal/config"
	"ladder_bot/internal/domain"

	"github.com/google/uuid"
)

// AlpacaGateway 直接通过 Alpaca REST API 交易。
// 认证凭据来自启动时构造的配置，不依赖进程级单例。
type AlpacaGateway struct {
	httpClient  *http.Client
	baseURL     string // 交易 API，如 https://paper-api.alpaca.markets
	dataBaseURL string // 行情 API，如 https://data.alpaca.markets
	apiKey      string
	secretKey   string
	dryRun      bool
}

func NewAlpaca(cfg config.Config) *AlpacaGateway {
	return &AlpacaGateway{
		httpClient:  &http.Client{Timeout: time.Duration(cfg.BrokerTimeoutSec) * time.Second},
		baseURL:     strings.TrimRight(cfg.AlpacaBaseURL, "/"),
		dataBaseURL: strings.TrimRight(cfg.AlpacaDataBaseURL, "/"),
		apiKey:      cfg.AlpacaAPIKey,
		secretKey:   cfg.AlpacaSecretKey,
		dryRun:      cfg.DryRun,
	}
}

// IsDryRun 返回当前是否为模拟下单模式
func (g *AlpacaGateway) IsDryRun() bool {
	return g.dryRun
}

// GetLastTradePrice 获取最新成交价（行情 API）
func (g *AlpacaGateway) GetLastTradePrice(ctx context.Context, symbol string) (float64, error) {
	apiURL := fmt.Sprintf("%s/v2/stocks/%s/trades/latest", g.dataBaseURL, url.PathEscape(symbol))

	body, err := g.get(ctx, apiURL)
	if err != nil {
		return 0, err
	}

	var result struct {
		Trade struct {
			Price float64 `json:"p"`
		} `json:"trade"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return 0, domain.NewFault(domain.FaultBrokerUnavailable, symbol, "解析最新成交价失败: %v", err)
	}
	if result.Trade.Price <= 0 {
		return 0, domain.NewFault(domain.FaultBrokerRejected, symbol, "最新成交价非正: %.4f", result.Trade.Price)
	}
	return result.Trade.Price, nil
}

// ListFilledOrders 获取已成交订单（最多 limit 笔），无成交返回空切片
func (g *AlpacaGateway) ListFilledOrders(ctx context.Context, symbol string, limit int) ([]Fill, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	params := url.Values{}
	params.Set("status", "closed")
	params.Set("symbols", symbol)
	params.Set("limit", strconv.Itoa(limit))

	body, err := g.get(ctx, g.baseURL+"/v2/orders?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var raw []struct {
		Symbol         string `json:"symbol"`
		Status         string `json:"status"`
		FilledAvgPrice string `json:"filled_avg_price"`
		FilledQty      string `json:"filled_qty"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, domain.NewFault(domain.FaultBrokerUnavailable, symbol, "解析成交列表失败: %v", err)
	}

	fills := make([]Fill, 0, len(raw))
	for _, r := range raw {
		if r.Status != "filled" || r.Symbol != symbol {
			continue
		}
		price, _ := strconv.ParseFloat(r.FilledAvgPrice, 64)
		qty, _ := strconv.ParseFloat(r.FilledQty, 64)
		if price <= 0 {
			continue
		}
		fills = append(fills, Fill{Symbol: r.Symbol, FilledPrice: price, FilledQty: qty})
	}
	return fills, nil
}

// ListOpenOrders 获取未成交挂单，无挂单返回空切片
func (g *AlpacaGateway) ListOpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error) {
	params := url.Values{}
	params.Set("status", "open")
	params.Set("symbols", symbol)

	body, err := g.get(ctx, g.baseURL+"/v2/orders?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var raw []struct {
		Symbol     string `json:"symbol"`
		LimitPrice string `json:"limit_price"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, domain.NewFault(domain.FaultBrokerUnavailable, symbol, "解析挂单列表失败: %v", err)
	}

	orders := make([]OpenOrder, 0, len(raw))
	for _, r := range raw {
		if r.Symbol != symbol {
			continue
		}
		price, _ := strconv.ParseFloat(r.LimitPrice, 64)
		orders = append(orders, OpenOrder{Symbol: r.Symbol, LimitPrice: price})
	}
	return orders, nil
}

// ListPositions 获取全部持仓
func (g *AlpacaGateway) ListPositions(ctx context.Context) ([]Position, error) {
	body, err := g.get(ctx, g.baseURL+"/v2/positions")
	if err != nil {
		return nil, err
	}

	var raw []struct {
		Symbol string `json:"symbol"`
		Qty    string `json:"qty"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, domain.NewFault(domain.FaultBrokerUnavailable, "", "解析持仓列表失败: %v", err)
	}

	positions := make([]Position, 0, len(raw))
	for _, r := range raw {
		qty, _ := strconv.ParseFloat(r.Qty, 64)
		positions = append(positions, Position{Symbol: r.Symbol, Qty: qty})
	}
	return positions, nil
}

// SubmitMarketBuy 提交市价买单，gtc
func (g *AlpacaGateway) SubmitMarketBuy(ctx context.Context, symbol string, qty float64) (SubmitResult, error) {
	return g.submitOrder(ctx, symbol, qty, 0)
}

// SubmitLimitBuy 提交限价买单，gtc
func (g *AlpacaGateway) SubmitLimitBuy(ctx context.Context, symbol string, qty, limitPrice float64) (SubmitResult, error) {
	return g.submitOrder(ctx, symbol, qty, limitPrice)
}

func (g *AlpacaGateway) submitOrder(ctx context.Context, symbol string, qty, limitPrice float64) (SubmitResult, error) {
	clientOrderID := fmt.Sprintf("lb%s", uuid.NewString()[:8])
	orderType := "market"
	if limitPrice > 0 {
		orderType = "limit"
	}

	// 模拟模式：不调券商，返回合成订单号
	if g.dryRun {
		log.Printf("[券商] 模拟下单: %s %s 数量=%.2f 限价=%.2f", orderType, symbol, qty, limitPrice)
		return SubmitResult{
			OrderID:       "dryrun-" + uuid.NewString(),
			ClientOrderID: clientOrderID,
			Status:        "accepted",
		}, nil
	}

	payload := map[string]any{
		"symbol":          symbol,
		"qty":             strconv.FormatFloat(qty, 'f', -1, 64),
		"side":            "buy",
		"type":            orderType,
		"time_in_force":   "gtc",
		"client_order_id": clientOrderID,
	}
	if limitPrice > 0 {
		payload["limit_price"] = strconv.FormatFloat(limitPrice, 'f', 2, 64)
	}

	reqBody, err := json.Marshal(payload)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("编码订单失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v2/orders", bytes.NewReader(reqBody))
	if err != nil {
		return SubmitResult{}, fmt.Errorf("构建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	g.setAuth(req)

	log.Printf("[券商] 发送订单: %s %s 数量=%.2f 限价=%.2f", orderType, symbol, qty, limitPrice)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return SubmitResult{}, domain.NewFault(domain.FaultBrokerUnavailable, symbol, "下单请求失败: %v", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return SubmitResult{}, domain.NewFault(domain.FaultBrokerUnavailable, symbol, "读取响应失败: %v", err)
	}

	if resp.StatusCode >= 300 {
		log.Printf("[券商] ✘ 订单被拒: HTTP %d %s", resp.StatusCode, string(respBytes))
		return SubmitResult{}, domain.NewFault(domain.FaultBrokerRejected, symbol, "HTTP %d: %s", resp.StatusCode, string(respBytes))
	}

	var result struct {
		ID            string `json:"id"`
		ClientOrderID string `json:"client_order_id"`
		Status        string `json:"status"`
	}
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return SubmitResult{}, domain.NewFault(domain.FaultBrokerUnavailable, symbol, "解析下单响应失败: %v", err)
	}

	log.Printf("[券商] ✔ 订单已受理: ID=%s 状态=%s", result.ID, result.Status)
	return SubmitResult{
		OrderID:       result.ID,
		ClientOrderID: result.ClientOrderID,
		Status:        result.Status,
	}, nil
}

// get 发送带认证头的 GET 请求并做统一的状态码检查
func (g *AlpacaGateway) get(ctx context.Context, apiURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("构建请求失败: %w", err)
	}
	g.setAuth(req)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, domain.NewFault(domain.FaultBrokerUnavailable, "", "Alpaca 请求失败: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.NewFault(domain.FaultBrokerUnavailable, "", "读取响应失败: %v", err)
	}

	if resp.StatusCode >= 300 {
		return nil, domain.NewFault(domain.FaultBrokerRejected, "", "Alpaca HTTP %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

func (g *AlpacaGateway) setAuth(req *http.Request) {
	req.Header.Set("APCA-API-KEY-ID", g.apiKey)
	req.Header.Set("APCA-API-SECRET-KEY", g.secretKey)
}
