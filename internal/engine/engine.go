package engine

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"ladder_bot/internal/broker"
	"ladder_bot/internal/config"
	"ladder_bot/internal/domain"
	"ladder_bot/internal/ladder"
	"ladder_bot/internal/reconcile"
	"ladder_bot/internal/store"

	"github.com/google/uuid"
)

// priceEpsilon 挂单价交叉核对的容差（分以下视为同价）
const priceEpsilon = 0.005

// Engine 阶梯引擎。独占持有内存账本，一把锁保证交互式变更
// （增删标的、切换状态）与后台巡检互斥。
type Engine struct {
	mu     sync.Mutex
	ledger domain.LedgerSnapshot

	gw          broker.Gateway
	rec         *reconcile.Reconciler
	ledgerStore *store.LedgerStore
	journal     store.Repository

	orderQty float64
	fillWait time.Duration
}

func New(cfg config.Config, gw broker.Gateway, rec *reconcile.Reconciler, ledgerStore *store.LedgerStore, journal store.Repository) *Engine {
	snap, err := ledgerStore.Load()
	if err != nil {
		// 账本损坏降级为空账本，进程不退出
		log.Printf("[引擎] ⚠ 加载账本失败: %v，以空账本启动", err)
	}
	if snap == nil {
		snap = domain.LedgerSnapshot{}
	}
	log.Printf("[引擎] 账本已加载，共 %d 个标的", len(snap))

	return &Engine{
		ledger:      snap,
		gw:          gw,
		rec:         rec,
		ledgerStore: ledgerStore,
		journal:     journal,
		orderQty:    cfg.OrderQty,
		fillWait:    time.Duration(cfg.FillWaitSec) * time.Second,
	}
}

// ==================== 控制面 ====================

// AddSymbol 新增跟踪标的。入场价从券商最新价播种，整条待挂阶梯
// 在创建时一次算好（档位总数由此固定）。
func (e *Engine) AddSymbol(ctx context.Context, symbol string, rungCount int, drawdown float64) (*domain.TrackedSymbol, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, domain.NewFault(domain.FaultInvalidInput, "", "标的代码不能为空")
	}
	if rungCount <= 0 {
		return nil, domain.NewFault(domain.FaultInvalidInput, symbol, "档位数必须为正: %d", rungCount)
	}
	if drawdown <= 0 || drawdown >= 1 {
		return nil, domain.NewFault(domain.FaultInvalidInput, symbol, "回撤比例必须在 (0,1) 区间: %.4f", drawdown)
	}

	// 播种入场价。拿不到价格就没法算阶梯，直接拒绝本次添加。
	entry, err := e.gw.GetLastTradePrice(ctx, symbol)
	if err != nil {
		return nil, domain.AsFault(err, symbol)
	}

	levels, err := ladder.ComputeLevels(entry, drawdown, rungCount)
	if err != nil {
		return nil, err
	}

	rungs := make(map[int]domain.Rung, len(levels))
	for _, lv := range levels {
		rungs[lv.Rung] = domain.Rung{State: domain.RungPending, Price: lv.Price}
	}

	tracked := &domain.TrackedSymbol{
		Symbol:      symbol,
		Status:      domain.StatusPaused, // 新标的默认停用，由用户显式开启
		HasPosition: false,
		EntryPrice:  entry,
		Drawdown:    drawdown,
		Rungs:       rungs,
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.ledger[symbol]; exists {
		return nil, domain.NewFault(domain.FaultInvalidInput, symbol, "标的已存在")
	}
	e.ledger[symbol] = tracked

	if err := e.ledgerStore.Save(e.ledger); err != nil {
		log.Printf("[引擎] ✘ 保存账本失败: %v", err)
	}
	log.Printf("[引擎] ✔ 新增标的 %s 档位=%d 回撤=%.2f%% 入场价=%.2f", symbol, rungCount, drawdown*100, entry)
	return tracked.Clone(), nil
}

// RemoveSymbol 移除跟踪标的
func (e *Engine) RemoveSymbol(symbol string) error {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.ledger[symbol]; !exists {
		return domain.NewFault(domain.FaultInvalidInput, symbol, "标的不存在")
	}
	delete(e.ledger, symbol)

	if err := e.ledgerStore.Save(e.ledger); err != nil {
		log.Printf("[引擎] ✘ 保存账本失败: %v", err)
	}
	log.Printf("[引擎] 已移除标的 %s", symbol)
	return nil
}

// SetStatus 设置标的启停状态
func (e *Engine) SetStatus(symbol string, status domain.SymbolStatus) error {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if status != domain.StatusActive && status != domain.StatusPaused {
		return domain.NewFault(domain.FaultInvalidInput, symbol, "状态非法: %q", status)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	tracked, exists := e.ledger[symbol]
	if !exists {
		return domain.NewFault(domain.FaultInvalidInput, symbol, "标的不存在")
	}
	tracked.Status = status

	if err := e.ledgerStore.Save(e.ledger); err != nil {
		log.Printf("[引擎] ✘ 保存账本失败: %v", err)
	}
	log.Printf("[引擎] %s 状态切换为 %s", symbol, status)
	return nil
}

// ToggleStatus 启停互切，返回切换后的状态
func (e *Engine) ToggleStatus(symbol string) (domain.SymbolStatus, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	e.mu.Lock()
	tracked, exists := e.ledger[symbol]
	if !exists {
		e.mu.Unlock()
		return "", domain.NewFault(domain.FaultInvalidInput, symbol, "标的不存在")
	}
	next := domain.StatusActive
	if tracked.Status == domain.StatusActive {
		next = domain.StatusPaused
	}
	tracked.Status = next

	if err := e.ledgerStore.Save(e.ledger); err != nil {
		log.Printf("[引擎] ✘ 保存账本失败: %v", err)
	}
	e.mu.Unlock()

	log.Printf("[引擎] %s 状态切换为 %s", symbol, next)
	return next, nil
}

// Snapshot 返回账本深拷贝，供展示层使用
func (e *Engine) Snapshot() domain.LedgerSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Clone()
}

// ResetData 清空账本与巡检流水
func (e *Engine) ResetData(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.ledger = domain.LedgerSnapshot{}
	if err := e.ledgerStore.Save(e.ledger); err != nil {
		return fmt.Errorf("清空账本: %w", err)
	}
	if err := e.journal.ResetAllData(ctx); err != nil {
		return err
	}
	log.Println("[引擎] ✔ 所有数据已清空")
	return nil
}

// ==================== 巡检 ====================

// RunPass 对所有活跃标的执行一轮巡检。整轮持锁，
// 单标的/单档位的故障只上报不中断。
func (e *Engine) RunPass(ctx context.Context) (domain.PassReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	passStart := time.Now()
	report := domain.PassReport{
		ID:        uuid.NewString(),
		Status:    domain.PassStatusRunning,
		StartedAt: passStart.UTC(),
	}
	log.Printf("[巡检:%s] ▶ 开始执行", report.ID[:8])

	if err := e.journal.CreatePass(ctx, report); err != nil {
		log.Printf("[巡检:%s] ⚠ 写入巡检记录失败: %v", report.ID[:8], err)
	}

	addEvent := func(symbol, stage, message string) {
		entry := domain.PassEvent{
			PassID:    report.ID,
			Symbol:    symbol,
			Stage:     stage,
			Message:   message,
			CreatedAt: time.Now().UTC(),
		}
		if err := e.journal.InsertPassEvent(ctx, entry); err != nil {
			log.Printf("[巡检:%s] ⚠ 写入事件失败: %v", report.ID[:8], err)
		}
		report.Events = append(report.Events, entry)
	}
	addFault := func(f *domain.Fault) {
		report.Faults = append(report.Faults, *f)
		addEvent(f.Symbol, "故障", f.Message)
	}

	// 固定遍历顺序，巡检结果可复现
	symbols := make([]string, 0, len(e.ledger))
	for sym := range e.ledger {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	for _, sym := range symbols {
		tracked := e.ledger[sym]
		if tracked.Status != domain.StatusActive {
			continue
		}
		report.Symbols++
		e.runSymbol(ctx, tracked, &report, addEvent, addFault)
	}

	// 全量落盘。失败只上报，内存状态仍有效，下轮重试保存。
	saveErr := e.ledgerStore.Save(e.ledger)
	if saveErr != nil {
		log.Printf("[巡检:%s] ✘ 保存账本失败: %v", report.ID[:8], saveErr)
		report.Status = domain.PassStatusFailed
		report.ErrorMessage = saveErr.Error()
	} else if len(report.Faults) > 0 {
		report.Status = domain.PassStatusPartial
	} else {
		report.Status = domain.PassStatusSuccess
	}
	report.FinishedAt = time.Now().UTC()

	if err := e.journal.FinishPass(ctx, report); err != nil {
		log.Printf("[巡检:%s] ⚠ 更新巡检记录失败: %v", report.ID[:8], err)
	}

	log.Printf("[巡检:%s] ■ 执行完毕 状态=%s 标的=%d 下单=%d 故障=%d 总耗时=%s",
		report.ID[:8], report.Status, report.Symbols, report.OrdersPlaced, len(report.Faults), time.Since(passStart))
	return report, saveErr
}

// runSymbol 单标的状态机：确保底仓 → 解析入场价 → 补算梯档 → 逐档挂单
func (e *Engine) runSymbol(ctx context.Context, tracked *domain.TrackedSymbol, report *domain.PassReport, addEvent func(string, string, string), addFault func(*domain.Fault)) {
	sym := tracked.Symbol

	// ---- 确保底仓 ----
	if !tracked.HasPosition {
		has, err := e.rec.HasPosition(ctx, sym)
		if err != nil {
			// 查不到就按缺仓处理，先买再说，绝不在不确定上死等
			log.Printf("[巡检:%s] ⚠ %s 持仓查询失败: %v，按无持仓处理", report.ID[:8], sym, err)
			addFault(domain.AsFault(err, sym))
			has = false
		}
		if has {
			tracked.HasPosition = true
			addEvent(sym, "底仓", "券商侧已有持仓")
		} else {
			e.bootstrapPosition(ctx, tracked, report, addEvent, addFault)
		}
	}

	// ---- 解析入场价 ----
	entry, err := e.rec.ResolveEntryPrice(ctx, sym)
	if err != nil {
		// 入场价缺失本轮跳过该标的，阶梯状态不动
		log.Printf("[巡检:%s] ✘ %s 入场价解析失败: %v", report.ID[:8], sym, err)
		addFault(domain.AsFault(err, sym))
		return
	}
	addEvent(sym, "入场价", fmt.Sprintf("%.2f", entry))

	// ---- 补算梯档 ----
	// 档位总数在创建时固定（= 当前已知档位数），只为尚无记录的档位
	// 补入新价，既有 pending/consumed 档的记录价绝不覆盖。
	count := len(tracked.Rungs)
	if count > 0 {
		levels, err := ladder.ComputeLevels(entry, tracked.Drawdown, count)
		if err != nil {
			addFault(domain.AsFault(err, sym))
			return
		}
		for _, lv := range levels {
			if _, exists := tracked.Rungs[lv.Rung]; !exists {
				tracked.Rungs[lv.Rung] = domain.Rung{State: domain.RungPending, Price: lv.Price}
			}
		}
	}

	// ---- 逐档挂单 ----
	// 券商侧挂单价一次拉取，用于账本丢失后的防重复交叉核对
	openPrices := e.rec.OpenOrderPrices(ctx, sym)

	pending := tracked.PendingRungs()
	sort.Ints(pending)
	for _, k := range pending {
		e.placeRung(ctx, tracked, k, openPrices, report, addEvent, addFault)
	}

	// ---- 落账 ----
	tracked.EntryPrice = entry
}

// bootstrapPosition 缺底仓时市价买入固定数量，并有界等待成交可见。
// 失败只上报：本轮继续对账（历史成交或最新价仍可锚定阶梯），下轮再试。
func (e *Engine) bootstrapPosition(ctx context.Context, tracked *domain.TrackedSymbol, report *domain.PassReport, addEvent func(string, string, string), addFault func(*domain.Fault)) {
	sym := tracked.Symbol
	log.Printf("[巡检:%s] %s 无底仓，市价买入 %.2f", report.ID[:8], sym, e.orderQty)

	res, err := e.gw.SubmitMarketBuy(ctx, sym, e.orderQty)
	e.recordOrder(ctx, report.ID, domain.PlacedOrder{
		Symbol:        sym,
		Side:          "buy",
		Type:          "market",
		Qty:           e.orderQty,
		ClientOrderID: res.ClientOrderID,
		BrokerOrderID: res.OrderID,
		Status:        orderStatus(res, err),
	})
	if err != nil {
		log.Printf("[巡检:%s] ✘ %s 市价买入失败: %v", report.ID[:8], sym, err)
		addFault(domain.AsFault(err, sym))
		return
	}

	tracked.HasPosition = true
	report.OrdersPlaced++
	addEvent(sym, "底仓", fmt.Sprintf("市价买入已提交 订单=%s", res.OrderID))

	// 固定短暂停顿等成交可见；等不到也没关系，下轮会重新解析入场价
	if e.fillWait > 0 {
		select {
		case <-time.After(e.fillWait):
		case <-ctx.Done():
		}
	}
}

// placeRung 单档挂单策略（防重复三道闸门）
func (e *Engine) placeRung(ctx context.Context, tracked *domain.TrackedSymbol, rung int, openPrices []float64, report *domain.PassReport, addEvent func(string, string, string), addFault func(*domain.Fault)) {
	sym := tracked.Symbol
	r, ok := tracked.Rungs[rung]
	if !ok {
		return
	}

	// 闸门一：非正价格拒单，不触券商，档位保持待挂等下轮重算
	if r.Price <= 0 {
		addFault(domain.NewFault(domain.FaultInvalidPrice, sym, "第 %d 档价格非正: %.4f", rung, r.Price))
		return
	}

	// 闸门二：已挂档绝不重复提交
	if r.State == domain.RungConsumed {
		return
	}

	// 闸门三：券商侧已有同价挂单（本地账本可能丢失过），补记为已挂
	for _, p := range openPrices {
		if math.Abs(p-r.Price) < priceEpsilon {
			tracked.Rungs[rung] = domain.Rung{State: domain.RungConsumed, Price: r.Price}
			log.Printf("[巡检:%s] %s 第 %d 档券商侧已有 %.2f 挂单，补记为已挂", report.ID[:8], sym, rung, r.Price)
			addEvent(sym, "挂单", fmt.Sprintf("第 %d 档已有同价挂单，跳过提交", rung))
			return
		}
	}

	res, err := e.gw.SubmitLimitBuy(ctx, sym, e.orderQty, r.Price)
	e.recordOrder(ctx, report.ID, domain.PlacedOrder{
		Symbol:        sym,
		Side:          "buy",
		Type:          "limit",
		Qty:           e.orderQty,
		LimitPrice:    r.Price,
		Rung:          rung,
		ClientOrderID: res.ClientOrderID,
		BrokerOrderID: res.OrderID,
		Status:        orderStatus(res, err),
	})
	if err != nil {
		// 档位原样保留待挂，记录价不变，下轮重试
		log.Printf("[巡检:%s] ✘ %s 第 %d 档挂单失败: %v", report.ID[:8], sym, rung, err)
		addFault(domain.AsFault(err, sym))
		return
	}

	// 提交确认成功才翻转状态
	tracked.Rungs[rung] = domain.Rung{State: domain.RungConsumed, Price: r.Price}
	report.OrdersPlaced++
	log.Printf("[巡检:%s] ✔ %s 第 %d 档限价 %.2f 已挂", report.ID[:8], sym, rung, r.Price)
	addEvent(sym, "挂单", fmt.Sprintf("第 %d 档限价 %.2f 已提交 订单=%s", rung, r.Price, res.OrderID))
}

func (e *Engine) recordOrder(ctx context.Context, passID string, order domain.PlacedOrder) {
	order.ID = uuid.NewString()
	order.PassID = passID
	if order.ClientOrderID == "" {
		// 提交未达券商时也留档一条失败记录
		order.ClientOrderID = "lb-failed-" + order.ID[:8]
	}
	order.CreatedAt = time.Now().UTC()
	if err := e.journal.InsertOrder(ctx, order); err != nil {
		log.Printf("[引擎] ⚠ 订单留档失败: %v", err)
	}
}

func orderStatus(res broker.SubmitResult, err error) string {
	if err != nil {
		return "failed"
	}
	if res.Status != "" {
		return res.Status
	}
	return "accepted"
}
