package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config 集中管理运行时配置，启动时构造一次后按值传入各组件。
type Config struct {
	HTTPAddr          string
	LedgerPath        string
	JournalDSN        string
	RequestTimeoutSec int

	// Alpaca 券商凭据（环境变量提供）
	AlpacaAPIKey      string
	AlpacaSecretKey   string
	AlpacaBaseURL     string
	AlpacaDataBaseURL string
	BrokerTimeoutSec  int

	// 阶梯引擎
	OrderQty          float64 // 每单固定数量
	FilledOrdersLimit int     // 对账时拉取的成交记录上限
	FillWaitSec       int     // 市价单后等待成交可见的固定停顿
	EngineEnabled     bool
	EngineIntervalSec int // 巡检间隔（秒）
	PassTimeoutSec    int // 单轮巡检超时

	DryRun bool

	// 顾问助手（LLM）
	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string
}

func Load() Config {
	// 存在 .env 时自动加载（不覆盖已有环境变量）
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using system environment variables")
	}

	return Config{
		HTTPAddr:          getEnv("HTTP_ADDR", ":8080"),
		LedgerPath:        getEnv("LEDGER_PATH", "./equities.json"),
		JournalDSN:        getEnv("JOURNAL_DSN", "file:./ladder_journal.db?_pragma=busy_timeout(5000)"),
		RequestTimeoutSec: getEnvInt("REQUEST_TIMEOUT_SEC", 15),

		AlpacaAPIKey:      getEnv("APCA_API_KEY_ID", ""),
		AlpacaSecretKey:   getEnv("APCA_API_SECRET_KEY", ""),
		AlpacaBaseURL:     getEnv("APCA_API_BASE_URL", "https://paper-api.alpaca.markets"),
		AlpacaDataBaseURL: getEnv("APCA_DATA_BASE_URL", "https://data.alpaca.markets"),
		BrokerTimeoutSec:  getEnvInt("BROKER_TIMEOUT_SEC", 15),

		OrderQty:          getEnvFloat("ORDER_QTY", 1),
		FilledOrdersLimit: getEnvInt("FILLED_ORDERS_LIMIT", 100),
		FillWaitSec:       getEnvInt("FILL_WAIT_SEC", 2),
		EngineEnabled:     getEnvBool("ENGINE_ENABLED", true),
		EngineIntervalSec: getEnvInt("ENGINE_INTERVAL_SEC", 5),
		PassTimeoutSec:    getEnvInt("PASS_TIMEOUT_SEC", 60),

		DryRun: getEnvBool("DRY_RUN", true),

		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:   getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		parsed, err := strconv.Atoi(v)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err == nil {
			return parsed
		}
	}
	return fallback
}
