package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Config 描述了 EstateChain 在启动阶段需要加载的核心配置。
// 核心逻辑不读取任何进程级全局状态，所有取值都由引导层注入。
type Config struct {
	Server        ServerConfig        `json:"server"`
	Identity      IdentityConfig      `json:"identity"`
	Ledger        LedgerConfig        `json:"ledger"`
	Scoring       ScoringConfig       `json:"scoring"`
	DealStore     DealStoreConfig     `json:"deal_store"`
	Bus           BusConfig           `json:"bus"`
	Escrow        EscrowConfig        `json:"escrow"`
	Neighborhoods NeighborhoodsConfig `json:"neighborhoods"`
	Alerting      AlertingConfig      `json:"alerting"`
	Log           LogConfig           `json:"log"`
}

// ServerConfig 控制网关服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address"`
}

// IdentityConfig 描述经纪智能体自身的身份信息。
type IdentityConfig struct {
	AgentID string `json:"agent_id"`
	Seed    string `json:"seed"`
}

// LedgerConfig 描述账本后端的选择与连接方式。
type LedgerConfig struct {
	Driver  string `json:"driver"`
	Catalog string `json:"catalog"`
	Name    string `json:"name"`
	URL     string `json:"url"`
}

// ScoringConfig 控制欺诈初筛的提供方。
type ScoringConfig struct {
	FraudProvider        string `json:"fraud_provider"`
	RemoteURL            string `json:"remote_url"`
	RemoteAPIKey         string `json:"remote_api_key"`
	RemoteTimeoutSeconds int    `json:"remote_timeout_seconds"`
}

// DealStoreConfig 描述交易记录的存储后端。
type DealStoreConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `json:"conn_max_idle_time_seconds"`
}

// BusConfig 描述消息总线的驱动与消费参数。
type BusConfig struct {
	Driver   string         `json:"driver"`
	Inbound  string         `json:"inbound"`
	Workers  int            `json:"workers"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig 描述 Redis 总线的连接信息。
type RedisConfig struct {
	Address          string `json:"address"`
	Password         string `json:"password"`
	DB               int    `json:"db"`
	BlockWaitSeconds int    `json:"block_wait_seconds"`
}

// RabbitMQConfig 描述 RabbitMQ 总线的连接信息。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// EscrowConfig 描述托管资金核验的方式。
type EscrowConfig struct {
	Driver  string `json:"driver"`
	Approve bool   `json:"approve"`
	RPCURL  string `json:"rpc_url"`
	Account string `json:"account"`
}

// NeighborhoodsConfig 描述街区情报的来源。
type NeighborhoodsConfig struct {
	Source     string `json:"source"`
	MaxResults int    `json:"max_results"`
}

// AlertingConfig 描述告警推送的目标。
type AlertingConfig struct {
	WebhookURL string `json:"webhook_url"`
}

// LogConfig 描述日志输出方式。
type LogConfig struct {
	Level       string   `json:"level"`
	Format      string   `json:"format"`
	OutputPaths []string `json:"output_paths"`
	AuditPath   string   `json:"audit_path"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Identity.AgentID == "" {
		c.Identity.AgentID = "estatechain-broker"
	}

	if c.Ledger.Driver == "" {
		c.Ledger.Driver = "memory"
	}
	if c.Ledger.Catalog != "" && !filepath.IsAbs(c.Ledger.Catalog) {
		c.Ledger.Catalog = filepath.Join(baseDir, c.Ledger.Catalog)
	}
	if c.Ledger.Name == "" {
		c.Ledger.Name = "local"
	}

	if c.Scoring.FraudProvider == "" {
		c.Scoring.FraudProvider = "rules"
	}

	if c.DealStore.Driver == "" {
		c.DealStore.Driver = "memory"
	}

	if c.Bus.Driver == "" {
		c.Bus.Driver = "memory"
	}
	if c.Bus.Inbound == "" {
		c.Bus.Inbound = "estatechain.inbox"
	}
	if c.Bus.Workers <= 0 {
		c.Bus.Workers = 4
	}

	if c.Escrow.Driver == "" {
		c.Escrow.Driver = "static"
	}

	if c.Neighborhoods.Source != "" && !filepath.IsAbs(c.Neighborhoods.Source) {
		c.Neighborhoods.Source = filepath.Join(baseDir, c.Neighborhoods.Source)
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}
