package scheduler

import (
	"context"
	"log"
	"time"

	"ladder_bot/internal/engine"
)

// Scheduler 固定间隔驱动阶梯引擎巡检
type Scheduler struct {
	engine      *engine.Engine
	interval    time.Duration
	passTimeout time.Duration
	stop        chan struct{}
}

// New 创建定时调度器
func New(eng *engine.Engine, intervalSec, passTimeoutSec int) *Scheduler {
	if intervalSec <= 0 {
		intervalSec = 5
	}
	if passTimeoutSec <= 0 {
		passTimeoutSec = 60
	}
	return &Scheduler{
		engine:      eng,
		interval:    time.Duration(intervalSec) * time.Second,
		passTimeout: time.Duration(passTimeoutSec) * time.Second,
		stop:        make(chan struct{}),
	}
}

// Start 启动定时巡检（非阻塞，在后台 goroutine 运行）
func (s *Scheduler) Start() {
	log.Printf("[定时器] 已启动 间隔=%s", s.interval)

	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.runOnce()
			case <-s.stop:
				log.Println("[定时器] 已停止")
				return
			}
		}
	}()
}

// Stop 停止定时巡检
func (s *Scheduler) Stop() {
	close(s.stop)
}

func (s *Scheduler) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.passTimeout)
	defer cancel()

	report, err := s.engine.RunPass(ctx)
	if err != nil {
		log.Printf("[定时器] ✘ 巡检失败: %v", err)
		return
	}
	if len(report.Faults) > 0 {
		log.Printf("[定时器] ⚠ 巡检完成 状态=%s 故障=%d", report.Status, len(report.Faults))
	}
}
