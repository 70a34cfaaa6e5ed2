package reconcile

import (
	"context"
	"log"

	"ladder_bot/internal/broker"
	"ladder_bot/internal/domain"
)

// Reconciler 用券商侧的权威历史校准本地账本：
// 解析真实入场价，并提供挂单侧视图用于防重复下单的交叉核对。
type Reconciler struct {
	gw                broker.Gateway
	filledOrdersLimit int
}

func New(gw broker.Gateway, filledOrdersLimit int) *Reconciler {
	if filledOrdersLimit <= 0 {
		filledOrdersLimit = 100
	}
	return &Reconciler{gw: gw, filledOrdersLimit: filledOrdersLimit}
}

// ResolveEntryPrice 解析标的的权威入场价。
// 越跌越买策略下最高成交价就是最初的入场锚点，之后更低的成交都是梯档；
// 无成交记录时回退到最新成交价，两者都拿不到返回 no_entry_price。
func (r *Reconciler) ResolveEntryPrice(ctx context.Context, symbol string) (float64, error) {
	entry := 0.0

	fills, err := r.gw.ListFilledOrders(ctx, symbol, r.filledOrdersLimit)
	if err != nil {
		log.Printf("[对账] ⚠ %s 获取成交历史失败: %v，回退到最新价", symbol, err)
	} else {
		for _, f := range fills {
			if f.FilledPrice > entry {
				entry = f.FilledPrice
			}
		}
	}
	if entry > 0 {
		return entry, nil
	}

	price, err := r.gw.GetLastTradePrice(ctx, symbol)
	if err != nil {
		return 0, domain.NewFault(domain.FaultNoEntryPrice, symbol, "无成交记录且最新价获取失败: %v", err)
	}
	if price <= 0 {
		return 0, domain.NewFault(domain.FaultNoEntryPrice, symbol, "最新价非正: %.4f", price)
	}
	return price, nil
}

// OpenOrderPrices 拉取券商侧未成交挂单价，用于账本丢失后的防重复加固。
// 本地 consumed 标记仍是防重复的主记录，这里只是交叉核对；
// 拉取失败时返回空表并记日志，下单流程按本地记录继续。
func (r *Reconciler) OpenOrderPrices(ctx context.Context, symbol string) []float64 {
	orders, err := r.gw.ListOpenOrders(ctx, symbol)
	if err != nil {
		log.Printf("[对账] ⚠ %s 获取挂单列表失败: %v，仅按本地记录去重", symbol, err)
		return nil
	}
	prices := make([]float64, 0, len(orders))
	for _, o := range orders {
		if o.LimitPrice > 0 {
			prices = append(prices, o.LimitPrice)
		}
	}
	return prices
}

// HasPosition 判断券商侧是否已有该标的的持仓（存在性判断）
func (r *Reconciler) HasPosition(ctx context.Context, symbol string) (bool, error) {
	positions, err := r.gw.ListPositions(ctx)
	if err != nil {
		return false, err
	}
	for _, p := range positions {
		if p.Symbol == symbol {
			return true, nil
		}
	}
	return false, nil
}
