package ladder

import (
	"math"

	"ladder_bot/internal/domain"
)

// Level 一个计算出的梯档目标价
type Level struct {
	Rung  int     // 档位序号，1 起
	Price float64 // 目标限价，四舍五入到分
}

// ComputeLevels 从入场价向下计算 count 个梯档目标价。
// 第 k 档价格 = round(entry * (1 - drawdown*k), 2)。纯函数，无副作用。
func ComputeLevels(entry, drawdown float64, count int) ([]Level, error) {
	if entry <= 0 {
		return nil, domain.NewFault(domain.FaultInvalidInput, "", "入场价必须为正: %.4f", entry)
	}
	if drawdown <= 0 || drawdown >= 1 {
		return nil, domain.NewFault(domain.FaultInvalidInput, "", "回撤比例必须在 (0,1) 区间: %.4f", drawdown)
	}
	if count <= 0 {
		return nil, domain.NewFault(domain.FaultInvalidInput, "", "档位数必须为正: %d", count)
	}

	levels := make([]Level, 0, count)
	for k := 1; k <= count; k++ {
		levels = append(levels, Level{
			Rung:  k,
			Price: round2(entry * (1 - drawdown*float64(k))),
		})
	}
	return levels, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
