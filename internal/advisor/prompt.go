package advisor

import (
	"bytes"
	"sort"
	"text/template"

	"ladder_bot/internal/domain"
)

// promptTemplate 用户提示词模板：组合快照 + 用户问题
const promptTemplate = `## 当前账本快照

{{- if .Symbols}}
{{- range .Symbols}}
### {{.Symbol}}
- 状态: {{.Status}} 底仓: {{if .HasPosition}}已建{{else}}未建{{end}}
- 入场价: {{printf "%.2f" .EntryPrice}} 每档回撤: {{printf "%.2f" .DrawdownPct}}%
- 梯档: {{range .Rungs}}[第{{.Rung}}档 {{printf "%.2f" .Price}} {{.State}}] {{end}}
{{- end}}
{{- else}}
（当前没有跟踪任何标的）
{{- end}}

## 近期订单
{{- if .Orders}}
{{- range .Orders}}
- {{.CreatedAt}} {{.Symbol}} {{.Type}} 数量={{printf "%.2f" .Qty}}{{if gt .LimitPrice 0.0}} 限价={{printf "%.2f" .LimitPrice}}{{end}} 状态={{.Status}}
{{- end}}
{{- else}}
（暂无订单记录）
{{- end}}

## 用户问题

{{.Question}}`

type rungView struct {
	Rung  int
	Price float64
	State string
}

type symbolView struct {
	Symbol      string
	Status      string
	HasPosition bool
	EntryPrice  float64
	DrawdownPct float64
	Rungs       []rungView
}

type orderView struct {
	CreatedAt  string
	Symbol     string
	Type       string
	Qty        float64
	LimitPrice float64
	Status     string
}

type promptData struct {
	Symbols  []symbolView
	Orders   []orderView
	Question string
}

var tpl = template.Must(template.New("advisor").Parse(promptTemplate))

func buildPrompt(question string, ledger domain.LedgerSnapshot, orders []domain.PlacedOrder) (string, error) {
	data := promptData{Question: question}

	syms := make([]string, 0, len(ledger))
	for sym := range ledger {
		syms = append(syms, sym)
	}
	sort.Strings(syms)

	for _, sym := range syms {
		t := ledger[sym]
		view := symbolView{
			Symbol:      t.Symbol,
			Status:      statusLabel(t.Status),
			HasPosition: t.HasPosition,
			EntryPrice:  t.EntryPrice,
			DrawdownPct: t.Drawdown * 100,
		}

		rungs := make([]int, 0, len(t.Rungs))
		for k := range t.Rungs {
			rungs = append(rungs, k)
		}
		sort.Ints(rungs)
		for _, k := range rungs {
			r := t.Rungs[k]
			view.Rungs = append(view.Rungs, rungView{
				Rung:  k,
				Price: r.Price,
				State: stateLabel(r.State),
			})
		}
		data.Symbols = append(data.Symbols, view)
	}

	// 只带最近 20 笔，避免提示词无限膨胀
	if len(orders) > 20 {
		orders = orders[:20]
	}
	for _, o := range orders {
		data.Orders = append(data.Orders, orderView{
			CreatedAt:  o.CreatedAt.Format("2006-01-02 15:04"),
			Symbol:     o.Symbol,
			Type:       o.Type,
			Qty:        o.Qty,
			LimitPrice: o.LimitPrice,
			Status:     o.Status,
		})
	}

	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func statusLabel(s domain.SymbolStatus) string {
	if s == domain.StatusActive {
		return "运行中"
	}
	return "已停用"
}

func stateLabel(s domain.RungState) string {
	if s == domain.RungConsumed {
		return "已挂"
	}
	return "待挂"
}
