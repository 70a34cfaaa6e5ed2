package broker

import "context"

// Fill 一笔已成交订单的关键字段
type Fill struct {
	Symbol      string
	FilledPrice float64
	FilledQty   float64
}

// OpenOrder 一笔未成交挂单的关键字段
type OpenOrder struct {
	Symbol     string
	LimitPrice float64
}

// Position 券商侧持仓（只做存在性判断，不关心数量）
type Position struct {
	Symbol string
	Qty    float64
}

// SubmitResult 下单结果
type SubmitResult struct {
	OrderID       string
	ClientOrderID string
	Status        string
}

// Gateway 券商能力边界。所有操作都是阻塞网络调用且可能失败，
// 组件内部不做任何金额/价格计算。
type Gateway interface {
	GetLastTradePrice(ctx context.Context, symbol string) (float64, error)
	ListFilledOrders(ctx context.Context, symbol string, limit int) ([]Fill, error)
	ListOpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error)
	ListPositions(ctx context.Context) ([]Position, error)
	SubmitMarketBuy(ctx context.Context, symbol string, qty float64) (SubmitResult, error)
	SubmitLimitBuy(ctx context.Context, symbol string, qty, limitPrice float64) (SubmitResult, error)
}
