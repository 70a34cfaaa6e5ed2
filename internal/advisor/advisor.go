package advisor

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"ladder_bot/internal/config"
	"ladder_bot/internal/domain"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
)

const systemPrompt = `你是一个交易组合顾问助手。用户运行一套越跌越买的阶梯补仓策略：
每个标的先建底仓，再在入场价下方按固定回撤比例挂一串限价买单。
下面会给你当前账本和近期订单的只读快照。请基于快照回答用户的问题，
不要编造快照中不存在的持仓或订单，不要给出具体的投资建议承诺。`

// Advisor 顾问助手：把账本/订单只读快照连同用户问题转发给大模型，
// 纯透传，自身不持有任何状态。
type Advisor struct {
	model     llms.Model
	modelName string
}

// New 创建顾问助手。未配置 API Key 时返回降级实例，Ask 直接报错。
func New(cfg config.Config) *Advisor {
	if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
		log.Println("[顾问] 未配置 OPENAI_API_KEY，顾问助手不可用")
		return &Advisor{}
	}

	opts := []openai.Option{
		openai.WithToken(cfg.OpenAIAPIKey),
		openai.WithModel(cfg.OpenAIModel),
	}
	if strings.TrimSpace(cfg.OpenAIBaseURL) != "" {
		opts = append(opts, openai.WithBaseURL(cfg.OpenAIBaseURL))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		log.Printf("[顾问] 初始化大模型客户端失败: %v，顾问助手不可用", err)
		return &Advisor{}
	}

	log.Printf("[顾问] 大模型已就绪 模型=%s", cfg.OpenAIModel)
	return &Advisor{model: llm, modelName: cfg.OpenAIModel}
}

// Available 顾问是否可用
func (a *Advisor) Available() bool {
	return a.model != nil
}

// Ask 把用户问题连同组合快照发给大模型，返回回复文本
func (a *Advisor) Ask(ctx context.Context, question string, ledger domain.LedgerSnapshot, orders []domain.PlacedOrder) (string, error) {
	if a.model == nil {
		return "", fmt.Errorf("顾问助手未配置，请设置 OPENAI_API_KEY")
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return "", domain.NewFault(domain.FaultInvalidInput, "", "问题不能为空")
	}

	userPrompt, err := buildPrompt(question, ledger, orders)
	if err != nil {
		return "", fmt.Errorf("渲染提示词失败: %w", err)
	}

	messages := []llms.MessageContent{
		{
			Role:  schema.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextContent{Text: systemPrompt}},
		},
		{
			Role:  schema.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextContent{Text: userPrompt}},
		},
	}

	t0 := time.Now()
	resp, err := a.model.GenerateContent(ctx, messages)
	if err != nil {
		log.Printf("[顾问] ✘ 大模型调用失败 (耗时%s): %v", time.Since(t0), err)
		return "", fmt.Errorf("大模型调用失败: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("大模型返回空结果")
	}

	reply := resp.Choices[0].Content
	log.Printf("[顾问] ✔ 回复就绪 (耗时%s) 长度=%d字符", time.Since(t0), len(reply))
	return reply, nil
}
