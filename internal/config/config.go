package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// EnvPath 指定配置文件路径的环境变量。
	EnvPath = "ACE_CONFIG"
	// DefaultPath 为未设置 ACE_CONFIG 时的配置文件路径。
	DefaultPath = "configs/ace.json"
	// DefaultOperatorKeyEnv 保存链上操作者私钥的环境变量名。
	DefaultOperatorKeyEnv = "ACE_OPERATOR_KEY"
)

// Config 描述了 ACE 引擎在启动阶段需要加载的核心配置。
type Config struct {
	Server     ServerConfig     `json:"server"`
	Metrics    MetricsConfig    `json:"metrics"`
	Logging    LoggingConfig    `json:"logging"`
	ACE        ACEConfig        `json:"ace"`
	Storage    StorageConfig    `json:"storage"`
	ProofCache ProofCacheConfig `json:"proof_cache"`
	Events     EventsConfig     `json:"events"`
	Web3       Web3Config       `json:"web3"`
	Auth       AuthConfig       `json:"auth"`
	Alerting   AlertingConfig   `json:"alerting"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address"`
}

// MetricsConfig 控制 Prometheus 指标的暴露方式。Address 为空时指标挂在 API 服务的 /metrics 上。
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Address string `json:"address"`
}

// LoggingConfig 对应 pkg/logger 的配置。
type LoggingConfig struct {
	Level   string      `json:"level"`
	Format  string      `json:"format"`
	Outputs []string    `json:"outputs"`
	Audit   AuditConfig `json:"audit"`
}

// AuditConfig 控制审计日志的落盘与轮转。
type AuditConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
	Compress   bool   `json:"compress"`
}

// ACEConfig 描述引擎自身的身份与验证器配置。
type ACEConfig struct {
	// Owner 为可以设置 CRS 与绑定验证器的地址。
	Owner string `json:"owner"`
	// EngineAddress 为引擎在代币账本上的账户，配置了操作者私钥时以私钥地址为准。
	EngineAddress string `json:"engine_address"`
	// CRS 为十六进制编码的公共参考串，为空时使用内置默认值。
	CRS            string `json:"crs"`
	LockValidators bool   `json:"lock_validators"`
	ValidatorsFile string `json:"validators_file"`
	// AllowReferenceValidators 允许绑定内置的参考验证器，它们没有范围证明，仅限开发环境。
	AllowReferenceValidators bool `json:"allow_reference_validators"`
}

// StorageConfig 描述票据注册表的持久化后端。
type StorageConfig struct {
	NoteRegistry DatabaseConfig `json:"note_registry"`
}

// DatabaseConfig 选择 memory 或 mysql 实现。
type DatabaseConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
}

// ProofCacheConfig 选择校验缓存的后端。
type ProofCacheConfig struct {
	Driver string      `json:"driver"`
	Redis  RedisConfig `json:"redis"`
}

// RedisConfig 是各处共用的 Redis 连接参数。
type RedisConfig struct {
	Address   string `json:"address"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	KeyPrefix string `json:"key_prefix"`
	List      string `json:"list"`
}

// EventsConfig 选择事件发布后端。
type EventsConfig struct {
	Driver   string         `json:"driver"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RabbitMQConfig 描述 RabbitMQ 队列。
type RabbitMQConfig struct {
	URL     string `json:"url"`
	Queue   string `json:"queue"`
	Durable bool   `json:"durable"`
}

// Web3Config 描述代币账本与链上连接。
type Web3Config struct {
	RPCURL         string `json:"rpc_url"`
	OperatorKeyEnv string `json:"operator_key_env"`
	GasLimit       uint64 `json:"gas_limit"`
	TokensFile     string `json:"tokens_file"`
}

// AuthConfig 描述调用者身份确认方式。
type AuthConfig struct {
	Mode           string `json:"mode"`
	MaxSkewSeconds int    `json:"max_skew_seconds"`
}

// AlertingConfig 描述告警渠道，未配置的渠道不启用。
type AlertingConfig struct {
	WebhookURL            string `json:"webhook_url"`
	WebhookTimeoutSeconds int    `json:"webhook_timeout_seconds"`
	SlackWebhookURL       string `json:"slack_webhook_url"`
	SlackChannel          string `json:"slack_channel"`
}

// ResolvePath 返回 ACE_CONFIG 指定的路径，未设置时返回默认路径。
func ResolvePath() string {
	if path := strings.TrimSpace(os.Getenv(EnvPath)); path != "" {
		return path
	}
	return DefaultPath
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
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Audit.Enabled && c.Logging.Audit.Path == "" {
		c.Logging.Audit.Path = "logs/audit.log"
	}
	c.Logging.Audit.Path = resolve(baseDir, c.Logging.Audit.Path)

	if c.ACE.EngineAddress == "" {
		c.ACE.EngineAddress = "0x000000000000000000000000000000000000ace0"
	}
	c.ACE.ValidatorsFile = resolve(baseDir, c.ACE.ValidatorsFile)

	c.Storage.NoteRegistry.Driver = lowerOr(c.Storage.NoteRegistry.Driver, "memory")
	c.ProofCache.Driver = lowerOr(c.ProofCache.Driver, "memory")
	if c.ProofCache.Redis.KeyPrefix == "" {
		c.ProofCache.Redis.KeyPrefix = "ace:proof:"
	}
	c.Events.Driver = lowerOr(c.Events.Driver, "none")
	if c.Events.Redis.List == "" {
		c.Events.Redis.List = "ace:events"
	}
	if c.Events.RabbitMQ.Queue == "" {
		c.Events.RabbitMQ.Queue = "ace.events"
	}

	if c.Web3.OperatorKeyEnv == "" {
		c.Web3.OperatorKeyEnv = DefaultOperatorKeyEnv
	}
	c.Web3.TokensFile = resolve(baseDir, c.Web3.TokensFile)

	c.Auth.Mode = lowerOr(c.Auth.Mode, "signature")
	if c.Auth.MaxSkewSeconds <= 0 {
		c.Auth.MaxSkewSeconds = 300
	}
	if c.Alerting.WebhookTimeoutSeconds <= 0 {
		c.Alerting.WebhookTimeoutSeconds = 5
	}
}

// Validate 检查取值范围与必填项。
func (c *Config) Validate() error {
	var errs []error
	if !common.IsHexAddress(c.ACE.Owner) {
		errs = append(errs, fmt.Errorf("ace.owner 不是有效地址: %q", c.ACE.Owner))
	}
	if !common.IsHexAddress(c.ACE.EngineAddress) {
		errs = append(errs, fmt.Errorf("ace.engine_address 不是有效地址: %q", c.ACE.EngineAddress))
	}
	switch c.Storage.NoteRegistry.Driver {
	case "memory":
	case "mysql":
		if c.Storage.NoteRegistry.DSN == "" {
			errs = append(errs, errors.New("storage.note_registry.dsn 不能为空"))
		}
	default:
		errs = append(errs, fmt.Errorf("不支持的注册表存储驱动: %s", c.Storage.NoteRegistry.Driver))
	}
	switch c.ProofCache.Driver {
	case "memory":
	case "redis":
		if c.ProofCache.Redis.Address == "" {
			errs = append(errs, errors.New("proof_cache.redis.address 不能为空"))
		}
	default:
		errs = append(errs, fmt.Errorf("不支持的校验缓存驱动: %s", c.ProofCache.Driver))
	}
	switch c.Events.Driver {
	case "none", "memory":
	case "redis":
		if c.Events.Redis.Address == "" {
			errs = append(errs, errors.New("events.redis.address 不能为空"))
		}
	case "rabbitmq":
		if c.Events.RabbitMQ.URL == "" {
			errs = append(errs, errors.New("events.rabbitmq.url 不能为空"))
		}
	default:
		errs = append(errs, fmt.Errorf("不支持的事件驱动: %s", c.Events.Driver))
	}
	switch c.Auth.Mode {
	case "signature", "disabled":
	default:
		errs = append(errs, fmt.Errorf("不支持的认证模式: %s", c.Auth.Mode))
	}
	return errors.Join(errs...)
}

// OperatorKey 从环境变量读取链上操作者私钥，未设置时返回空串。
func (c *Config) OperatorKey() string {
	return strings.TrimSpace(os.Getenv(c.Web3.OperatorKeyEnv))
}

// MaxSkew 返回签名时间戳允许的偏差。
func (a AuthConfig) MaxSkew() time.Duration {
	return time.Duration(a.MaxSkewSeconds) * time.Second
}

// ConnMaxLifetime 返回连接最大存活时间。
func (d DatabaseConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(d.ConnMaxLifetimeSeconds) * time.Second
}

// WebhookTimeout 返回 webhook 请求超时。
func (a AlertingConfig) WebhookTimeout() time.Duration {
	return time.Duration(a.WebhookTimeoutSeconds) * time.Second
}

func resolve(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

func lowerOr(value, fallback string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return fallback
	}
	return value
}
