package main

import (
	"context"
	"log"

	"ladder_bot/internal/advisor"
	"ladder_bot/internal/broker"
	"ladder_bot/internal/config"
	"ladder_bot/internal/engine"
	httpapi "ladder_bot/internal/http"
	"ladder_bot/internal/reconcile"
	"ladder_bot/internal/scheduler"
	"ladder_bot/internal/store"
)

func main() {
	cfg := config.Load()

	journal, err := store.NewSQLiteRepository(cfg.JournalDSN)
	if err != nil {
		log.Fatalf("初始化数据库失败: %v", err)
	}
	defer journal.Close()

	if err := journal.Init(context.Background()); err != nil {
		log.Fatalf("数据库迁移失败: %v", err)
	}

	ledgerStore := store.NewLedgerStore(cfg.LedgerPath)

	gateway := broker.NewAlpaca(cfg)
	if gateway.IsDryRun() {
		log.Println("[券商] 模拟下单模式，订单不会提交到 Alpaca")
	}

	rec := reconcile.New(gateway, cfg.FilledOrdersLimit)
	eng := engine.New(cfg, gateway, rec, ledgerStore, journal)
	adv := advisor.New(cfg)

	// 启动定时巡检
	if cfg.EngineEnabled {
		sched := scheduler.New(eng, cfg.EngineIntervalSec, cfg.PassTimeoutSec)
		sched.Start()
		defer sched.Stop()
	} else {
		log.Println("[定时器] 未启用，设置 ENGINE_ENABLED=true 开启自动巡检")
	}

	router := httpapi.NewRouter(eng, journal, adv, cfg.RequestTimeoutSec)

	log.Printf("阶梯引擎服务启动 地址=%s 账本=%s 模拟=%v", cfg.HTTPAddr, cfg.LedgerPath, cfg.DryRun)
	if err := router.Run(cfg.HTTPAddr); err != nil {
		log.Fatalf("启动服务失败: %v", err)
	}
}
