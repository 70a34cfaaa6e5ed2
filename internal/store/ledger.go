package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"ladder_bot/internal/domain"
)

// LedgerStore 账本文件存储。磁盘格式与引擎内存模型解耦：
// 文件里档位用带符号的字符串键编码（"k"=待挂，"-k"=已挂），
// 内存里是按档位序号索引的显式状态，转换由本组件独占负责。
type LedgerStore struct {
	path string
	mu   sync.Mutex // 串行化 Save，避免并发写交错出损坏文件
}

// ledgerEntry 磁盘上单个标的的记录
type ledgerEntry struct {
	Position   int                `json:"position"`
	EntryPrice float64            `json:"entry_price"`
	Level      map[string]float64 `json:"level"`
	Drawdown   float64            `json:"drawdown"`
	Status     string             `json:"status"`
}

func NewLedgerStore(path string) *LedgerStore {
	return &LedgerStore{path: path}
}

// Load 读取账本。文件不存在返回空账本；文件损坏返回空账本并附带
// corrupt_ledger 故障，由调用方上报，进程不崩溃。
func (s *LedgerStore) Load() (domain.LedgerSnapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.LedgerSnapshot{}, nil
		}
		return domain.LedgerSnapshot{}, domain.NewFault(domain.FaultCorruptLedger, "", "读取账本失败: %v", err)
	}

	var raw map[string]ledgerEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		return domain.LedgerSnapshot{}, domain.NewFault(domain.FaultCorruptLedger, "", "账本文件无法解析: %v", err)
	}

	snap := make(domain.LedgerSnapshot, len(raw))
	for sym, entry := range raw {
		tracked, err := decodeEntry(sym, entry)
		if err != nil {
			return domain.LedgerSnapshot{}, err
		}
		snap[sym] = tracked
	}
	return snap, nil
}

// Save 全量替换账本内容。先写临时文件再原子改名，
// 并发 Load 永远看不到半截内容。
func (s *LedgerStore) Save(snap domain.LedgerSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw := make(map[string]ledgerEntry, len(snap))
	for sym, t := range snap {
		raw[sym] = encodeEntry(t)
	}

	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("编码账本失败: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".equities-*.json")
	if err != nil {
		return fmt.Errorf("创建临时文件失败: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("写入账本失败: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("关闭临时文件失败: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("替换账本文件失败: %w", err)
	}
	return nil
}

func encodeEntry(t *domain.TrackedSymbol) ledgerEntry {
	position := 0
	if t.HasPosition {
		position = 1
	}

	level := make(map[string]float64, len(t.Rungs))
	for k, r := range t.Rungs {
		key := strconv.Itoa(k)
		if r.State == domain.RungConsumed {
			key = strconv.Itoa(-k)
		}
		level[key] = r.Price
	}

	return ledgerEntry{
		Position:   position,
		EntryPrice: t.EntryPrice,
		Level:      level,
		Drawdown:   t.Drawdown,
		Status:     string(t.Status),
	}
}

func decodeEntry(sym string, e ledgerEntry) (*domain.TrackedSymbol, error) {
	rungs := make(map[int]domain.Rung, len(e.Level))
	for key, price := range e.Level {
		k, err := strconv.Atoi(key)
		if err != nil || k == 0 {
			return nil, domain.NewFault(domain.FaultCorruptLedger, sym, "档位键非法: %q", key)
		}
		state := domain.RungPending
		mag := k
		if k < 0 {
			state = domain.RungConsumed
			mag = -k
		}
		// 同一档位 "+k"/"-k" 同时出现属于脏数据，已挂优先，绝不重复下单
		if prev, ok := rungs[mag]; ok && prev.State == domain.RungConsumed {
			continue
		}
		rungs[mag] = domain.Rung{State: state, Price: price}
	}

	status := domain.SymbolStatus(e.Status)
	if status != domain.StatusActive && status != domain.StatusPaused {
		status = domain.StatusPaused
	}

	return &domain.TrackedSymbol{
		Symbol:      sym,
		Status:      status,
		HasPosition: e.Position != 0,
		EntryPrice:  e.EntryPrice,
		Drawdown:    e.Drawdown,
		Rungs:       rungs,
	}, nil
}
