package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ladder_bot/internal/advisor"
	"ladder_bot/internal/domain"
	"ladder_bot/internal/engine"
	"ladder_bot/internal/store"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	engine  *engine.Engine
	journal store.Repository
	advisor *advisor.Advisor
	timeout time.Duration
}

type addSymbolRequest struct {
	Symbol          string  `json:"symbol"`
	Rungs           int     `json:"rungs"`
	DrawdownPercent float64 `json:"drawdown_percent"` // 百分比输入，如 5 表示 5%
}

type chatRequest struct {
	Message string `json:"message"`
}

func NewRouter(eng *engine.Engine, journal store.Repository, adv *advisor.Advisor, timeoutSec int) *gin.Engine {
	router := gin.Default()

	h := &Handler{
		engine:  eng,
		journal: journal,
		advisor: adv,
		timeout: time.Duration(timeoutSec) * time.Second,
	}

	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", h.health)
		v1.GET("/symbols", h.listSymbols)
		v1.POST("/symbols", h.addSymbol)
		v1.DELETE("/symbols/:symbol", h.removeSymbol)
		v1.POST("/symbols/:symbol/toggle", h.toggleSymbol)
		v1.POST("/passes/run", h.runPass)
		v1.GET("/passes", h.listPasses)
		v1.GET("/passes/:id", h.getPass)
		v1.GET("/orders", h.listOrders)
		v1.POST("/advisor/chat", h.chat)
		v1.POST("/data/reset", h.resetData)
	}

	return router
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"time":    time.Now().UTC(),
		"advisor": h.advisor.Available(),
	})
}

// listSymbols 账本快照，供展示层使用
func (h *Handler) listSymbols(c *gin.Context) {
	snap := h.engine.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"total":   len(snap),
		"symbols": snap,
	})
}

func (h *Handler) addSymbol(c *gin.Context) {
	var req addSymbolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	// 前端按百分比录入，引擎内部用比例
	tracked, err := h.engine.AddSymbol(ctx, req.Symbol, req.Rungs, req.DrawdownPercent/100)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, tracked)
}

func (h *Handler) removeSymbol(c *gin.Context) {
	symbol := strings.TrimSpace(c.Param("symbol"))
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing symbol"})
		return
	}

	if err := h.engine.RemoveSymbol(symbol); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "标的已移除"})
}

func (h *Handler) toggleSymbol(c *gin.Context) {
	symbol := strings.TrimSpace(c.Param("symbol"))
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing symbol"})
		return
	}

	status, err := h.engine.ToggleStatus(symbol)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"symbol": strings.ToUpper(symbol), "status": status})
}

// runPass 手动触发一轮巡检
func (h *Handler) runPass(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	report, err := h.engine.RunPass(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "report": report})
		return
	}

	c.JSON(http.StatusOK, report)
}

// listPasses 分页查询巡检记录
func (h *Handler) listPasses(c *gin.Context) {
	page := 1
	pageSize := 15
	if v := c.Query("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			page = n
		}
	}
	if v := c.Query("page_size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			pageSize = n
		}
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	total, err := h.journal.CountPasses(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	passes, err := h.journal.ListPasses(ctx, page, pageSize)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	totalPages := (total + pageSize - 1) / pageSize

	c.JSON(http.StatusOK, gin.H{
		"passes":      passes,
		"total":       total,
		"page":        page,
		"page_size":   pageSize,
		"total_pages": totalPages,
	})
}

func (h *Handler) getPass(c *gin.Context) {
	passID := strings.TrimSpace(c.Param("id"))
	if passID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing pass id"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	report, err := h.journal.GetPassReport(ctx, passID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, report)
}

func (h *Handler) listOrders(c *gin.Context) {
	symbol := strings.ToUpper(strings.TrimSpace(c.Query("symbol")))
	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	orders, err := h.journal.ListOrders(ctx, symbol, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total":  len(orders),
		"orders": orders,
	})
}

// chat 顾问助手：带只读组合快照透传给大模型
func (h *Handler) chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// 顾问调用比普通请求慢，给更长的超时
	ctx, cancel := context.WithTimeout(c.Request.Context(), 60*time.Second)
	defer cancel()

	orders, err := h.journal.ListOrders(ctx, "", 20)
	if err != nil {
		orders = nil
	}

	reply, err := h.advisor.Ask(ctx, req.Message, h.engine.Snapshot(), orders)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"reply": reply})
}

// resetData 清空账本与巡检流水
func (h *Handler) resetData(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	if err := h.engine.ResetData(ctx); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "所有数据已清空"})
}

// statusFor 把故障分类映射为 HTTP 状态码
func statusFor(err error) int {
	var f *domain.Fault
	if errors.As(err, &f) {
		switch f.Kind {
		case domain.FaultInvalidInput, domain.FaultInvalidPrice:
			return http.StatusBadRequest
		case domain.FaultBrokerUnavailable, domain.FaultBrokerRejected:
			return http.StatusBadGateway
		}
	}
	return http.StatusInternalServerError
}
