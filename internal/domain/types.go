package domain

import "time"

// SymbolStatus 标的开关状态，账本文件中序列化为 "On"/"Off"
type SymbolStatus string

const (
	StatusActive SymbolStatus = "On"
	StatusPaused SymbolStatus = "Off"
)

// RungState 梯档状态：pending=已计算未挂单，consumed=已成功挂单
type RungState string

const (
	RungPending  RungState = "pending"
	RungConsumed RungState = "consumed"
)

// Rung 一个梯档：目标价 + 当前状态。
// 同一档位同一时刻只有一条记录，pending/consumed 互斥。
type Rung struct {
	State RungState `json:"state"`
	Price float64   `json:"price"`
}

// TrackedSymbol 一个被跟踪标的的完整阶梯状态
type TrackedSymbol struct {
	Symbol      string       `json:"symbol"`
	Status      SymbolStatus `json:"status"`
	HasPosition bool         `json:"has_position"`
	EntryPrice  float64      `json:"entry_price"`
	Drawdown    float64      `json:"drawdown"` // 每档回撤比例，(0,1)
	Rungs       map[int]Rung `json:"rungs"`    // 档位序号(1 起) → 梯档
}

// Clone 深拷贝，用于对外展示，避免泄漏引擎持有的可变副本
func (t *TrackedSymbol) Clone() *TrackedSymbol {
	cp := *t
	cp.Rungs = make(map[int]Rung, len(t.Rungs))
	for k, r := range t.Rungs {
		cp.Rungs[k] = r
	}
	return &cp
}

// PendingRungs 返回所有待挂档位序号（无序，排序由调用方负责）
func (t *TrackedSymbol) PendingRungs() []int {
	out := make([]int, 0, len(t.Rungs))
	for k, r := range t.Rungs {
		if r.State == RungPending {
			out = append(out, k)
		}
	}
	return out
}

// LedgerSnapshot 全量账本：标的代码（大写）→ 阶梯状态
type LedgerSnapshot map[string]*TrackedSymbol

// Clone 深拷贝整份账本
func (s LedgerSnapshot) Clone() LedgerSnapshot {
	cp := make(LedgerSnapshot, len(s))
	for sym, t := range s {
		cp[sym] = t.Clone()
	}
	return cp
}

// PassStatus 一轮巡检的最终状态
type PassStatus string

const (
	PassStatusRunning PassStatus = "running"
	PassStatusSuccess PassStatus = "success"
	PassStatusPartial PassStatus = "partial" // 有标的/档位级故障但整轮完成
	PassStatusFailed  PassStatus = "failed"
)

// PassReport 一轮巡检的执行记录
type PassReport struct {
	ID           string      `json:"id"`
	Status       PassStatus  `json:"status"`
	Symbols      int         `json:"symbols"`       // 本轮处理的活跃标的数
	OrdersPlaced int         `json:"orders_placed"` // 本轮成功提交的订单数
	ErrorMessage string      `json:"error_message,omitempty"`
	StartedAt    time.Time   `json:"started_at"`
	FinishedAt   time.Time   `json:"finished_at"`
	Faults       []Fault     `json:"faults,omitempty"`
	Events       []PassEvent `json:"events,omitempty"`
}

// PassEvent 巡检过程中的阶段性日志
type PassEvent struct {
	ID        int64     `json:"id"`
	PassID    string    `json:"pass_id"`
	Symbol    string    `json:"symbol,omitempty"`
	Stage     string    `json:"stage"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// PlacedOrder 已提交给券商的订单留档
type PlacedOrder struct {
	ID            string    `json:"id"`
	PassID        string    `json:"pass_id,omitempty"`
	ClientOrderID string    `json:"client_order_id"`
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"` // buy
	Type          string    `json:"type"` // market / limit
	Qty           float64   `json:"qty"`
	LimitPrice    float64   `json:"limit_price,omitempty"`
	Rung          int       `json:"rung,omitempty"` // 限价单对应档位，市价单为 0
	Status        string    `json:"status"`
	BrokerOrderID string    `json:"broker_order_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}
