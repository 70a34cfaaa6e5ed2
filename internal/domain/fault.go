package domain

import (
	"errors"
	"fmt"
)

// FaultKind 故障分类，用于区分可重试/需跳过的失败
type FaultKind string

const (
	FaultInvalidInput      FaultKind = "invalid_input"      // 用户输入非法，状态未变更
	FaultBrokerUnavailable FaultKind = "broker_unavailable" // 券商接口不可达，下轮重试
	FaultBrokerRejected    FaultKind = "broker_rejected"    // 券商拒绝请求，下轮重试
	FaultNoEntryPrice      FaultKind = "no_entry_price"     // 无法确定入场价，本轮跳过该标的
	FaultInvalidPrice      FaultKind = "invalid_price"      // 计算出非正价格，本轮跳过该档
	FaultCorruptLedger     FaultKind = "corrupt_ledger"     // 账本文件损坏，降级为空账本
)

// Fault 故障记录：分类 + 标的 + 描述。
// 单标的/单档位的故障只上报，不中断整轮巡检。
type Fault struct {
	Kind    FaultKind `json:"kind"`
	Symbol  string    `json:"symbol,omitempty"`
	Message string    `json:"message"`
}

func (f *Fault) Error() string {
	if f.Symbol != "" {
		return fmt.Sprintf("%s [%s]: %s", f.Kind, f.Symbol, f.Message)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// NewFault 构造一条故障记录
func NewFault(kind FaultKind, symbol, format string, args ...any) *Fault {
	return &Fault{Kind: kind, Symbol: symbol, Message: fmt.Sprintf(format, args...)}
}

// KindOf 提取错误的故障分类，非 Fault 错误归为券商不可达
func KindOf(err error) FaultKind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return FaultBrokerUnavailable
}

// AsFault 将任意错误转为故障记录，保留已有分类
func AsFault(err error, symbol string) *Fault {
	var f *Fault
	if errors.As(err, &f) {
		if f.Symbol == "" && symbol != "" {
			cp := *f
			cp.Symbol = symbol
			return &cp
		}
		return f
	}
	return &Fault{Kind: FaultBrokerUnavailable, Symbol: symbol, Message: err.Error()}
}
