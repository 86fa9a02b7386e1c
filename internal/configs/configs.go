package configs

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/songzhibin97/quantaguard/internal/chain/evm"
	"github.com/songzhibin97/quantaguard/internal/distribution"
	"github.com/songzhibin97/quantaguard/internal/logging"
	"github.com/songzhibin97/quantaguard/internal/risk"
)

// DefaultPath is used when no --config flag is given.
const DefaultPath = "configs/config.yaml"

// 环境变量覆盖，优先级高于配置文件
const (
	EnvAIAPIKey          = "QG_AI_API_KEY"
	EnvExchangeAPIKey    = "QG_EXCHANGE_API_KEY"
	EnvExchangeSecretKey = "QG_EXCHANGE_SECRET_KEY"
	EnvDatabaseDSN       = "QG_DATABASE_DSN"
	EnvWalletPrivateKey  = "QG_WALLET_PRIVATE_KEY"
	EnvDryRun            = "QG_DRY_RUN"
)

type Config struct {
	// 纸交易模式，默认开启，必须显式关闭
	DryRun bool `json:"dry_run" yaml:"dry_run"`

	Log      logging.Config `json:"log" yaml:"log"`
	Database Database       `json:"database" yaml:"database"`

	// 任务周期
	Intervals Intervals `json:"intervals" yaml:"intervals"`

	// 风险控制参数
	Risk risk.Config `json:"risk" yaml:"risk"`

	// AI 模型参数
	AIConfig AIConfig `json:"ai_config" yaml:"ai_config"`

	// 交易所配置
	ExchangeConfig ExchangeConfig `json:"exchange_config" yaml:"exchange_config"`

	Chain        ChainConfig        `json:"chain" yaml:"chain"`
	Market       MarketConfig       `json:"market" yaml:"market"`
	Fees         FeeConfig          `json:"fees" yaml:"fees"`
	Distribution DistributionConfig `json:"distribution" yaml:"distribution"`
	Server       ServerConfig       `json:"server" yaml:"server"`
}

type Intervals struct {
	Cycle          time.Duration `json:"cycle" yaml:"cycle"`
	FeeClaim       time.Duration `json:"fee_claim" yaml:"fee_claim"`
	Monitor        time.Duration `json:"monitor" yaml:"monitor"`
	Snapshot       time.Duration `json:"snapshot" yaml:"snapshot"`
	CycleTimeout   time.Duration `json:"cycle_timeout" yaml:"cycle_timeout"`
	MonitorTimeout time.Duration `json:"monitor_timeout" yaml:"monitor_timeout"`
}

type AIConfig struct {
	Provider string `json:"provider" yaml:"provider"` // openai or deepseek
	APIKey   string `json:"api_key" yaml:"api_key"`   // AI服务API密钥
	Model    string `json:"model" yaml:"model"`
	BaseURL  string `json:"base_url" yaml:"base_url"` // OpenAI compatible endpoint
}

type Database struct {
	Driver  string `json:"driver" yaml:"driver"`     // postgres or sqlite3
	ConnStr string `json:"conn_str" yaml:"conn_str"` // 数据库连接字符串
}

type ExchangeConfig struct {
	Debug     bool   `json:"debug" yaml:"debug"`           // testnet
	APIKey    string `json:"api_key" yaml:"api_key"`       // 交易所API密钥
	SecretKey string `json:"secret_key" yaml:"secret_key"` // 交易所密钥
}

// ChainConfig enables the on-chain wallet when RPCURL is set.
type ChainConfig struct {
	RPCURL          string           `json:"rpc_url" yaml:"rpc_url"`
	PrivateKey      string           `json:"private_key" yaml:"private_key"`
	BaseSymbol      string           `json:"base_symbol" yaml:"base_symbol"`
	PositionManager string           `json:"position_manager" yaml:"position_manager"`
	Pools           []evm.PoolConfig `json:"pools" yaml:"pools"`
}

type MarketConfig struct {
	Watchlist   []string      `json:"watchlist" yaml:"watchlist"`
	OverviewTTL time.Duration `json:"overview_ttl" yaml:"overview_ttl"`
	AnalysisTTL time.Duration `json:"analysis_ttl" yaml:"analysis_ttl"`
}

type FeeConfig struct {
	ForwardWallet   string  `json:"forward_wallet" yaml:"forward_wallet"`
	ForwardFraction float64 `json:"forward_fraction" yaml:"forward_fraction"`
	ForwardMin      float64 `json:"forward_min" yaml:"forward_min"`
}

type DistributionConfig struct {
	HoldersURL          string `json:"holders_url" yaml:"holders_url"` // empty disables distribution
	distribution.Config `yaml:",inline"`
}

type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr"` // empty disables the operator API
}

// Default returns the configuration used for any value the file leaves out.
func Default() Config {
	return Config{
		DryRun: true,
		Log:    logging.Config{Level: "info", MaxSize: 100, MaxBackups: 5, MaxAge: 30},
		Database: Database{
			Driver: "postgres",
		},
		Intervals: Intervals{
			Cycle:          5 * time.Minute,
			FeeClaim:       time.Hour,
			Monitor:        30 * time.Second,
			Snapshot:       10 * time.Minute,
			CycleTimeout:   4 * time.Minute,
			MonitorTimeout: 25 * time.Second,
		},
		Risk:     risk.DefaultConfig(),
		AIConfig: AIConfig{Provider: "openai"},
		Chain:    ChainConfig{BaseSymbol: "ETH"},
		Market: MarketConfig{
			Watchlist:   []string{"BTC", "ETH", "SOL", "BNB"},
			OverviewTTL: 60 * time.Second,
			AnalysisTTL: 5 * time.Minute,
		},
		Fees: FeeConfig{ForwardFraction: 0.5, ForwardMin: 0.001},
		Distribution: DistributionConfig{Config: distribution.Config{
			Dust:       distribution.DefaultDust,
			BatchSize:  distribution.DefaultBatchSize,
			BatchDelay: distribution.DefaultBatchDelay,
		}},
		Server: ServerConfig{Addr: ":8080"},
	}
}

// Load reads .env if present, then path over the defaults, then the QG_* environment.
// The result is validated.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	overrides := map[string]*string{
		EnvAIAPIKey:          &c.AIConfig.APIKey,
		EnvExchangeAPIKey:    &c.ExchangeConfig.APIKey,
		EnvExchangeSecretKey: &c.ExchangeConfig.SecretKey,
		EnvDatabaseDSN:       &c.Database.ConnStr,
		EnvWalletPrivateKey:  &c.Chain.PrivateKey,
	}
	for key, dst := range overrides {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	if v, ok := os.LookupEnv(EnvDryRun); ok && v != "" {
		dry, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("failed to parse %s: %w", EnvDryRun, err)
		}
		c.DryRun = dry
	}
	return nil
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error
	if c.AIConfig.APIKey == "" {
		errs = append(errs, errors.New("ai_config.api_key is required"))
	}
	switch c.AIConfig.Provider {
	case "openai", "deepseek":
	default:
		errs = append(errs, fmt.Errorf("unsupported ai provider %q", c.AIConfig.Provider))
	}
	if c.Database.ConnStr == "" {
		errs = append(errs, errors.New("database.conn_str is required"))
	}
	switch c.Database.Driver {
	case "postgres", "sqlite3":
	default:
		errs = append(errs, fmt.Errorf("unsupported database driver %q", c.Database.Driver))
	}
	if c.ExchangeConfig.APIKey == "" || c.ExchangeConfig.SecretKey == "" {
		errs = append(errs, errors.New("exchange_config.api_key and secret_key are required"))
	}
	if c.Chain.RPCURL != "" && c.Chain.PrivateKey == "" {
		errs = append(errs, errors.New("chain.private_key is required when chain.rpc_url is set"))
	}
	if err := c.Risk.Validate(); err != nil {
		errs = append(errs, err)
	}

	iv := c.Intervals
	for _, d := range []struct {
		name string
		v    time.Duration
	}{
		{"cycle", iv.Cycle},
		{"fee_claim", iv.FeeClaim},
		{"monitor", iv.Monitor},
		{"snapshot", iv.Snapshot},
		{"cycle_timeout", iv.CycleTimeout},
		{"monitor_timeout", iv.MonitorTimeout},
	} {
		if d.v <= 0 {
			errs = append(errs, fmt.Errorf("intervals.%s must be positive", d.name))
		}
	}

	if c.Fees.ForwardFraction < 0 || c.Fees.ForwardFraction > 1 {
		errs = append(errs, fmt.Errorf("fees.forward_fraction must be in [0,1], got %v", c.Fees.ForwardFraction))
	}
	if c.Distribution.HoldersURL != "" && c.Chain.RPCURL == "" {
		errs = append(errs, errors.New("distribution needs chain.rpc_url"))
	}
	return errors.Join(errs...)
}
