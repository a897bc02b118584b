package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

const (
	DriverSqlite = "sqlite"
	DriverMysql  = "mysql"

	DefaultConfigFile = "config.toml"
	DefaultEnvFile    = ".env"
)

var (
	GlobalConfigCallback ConfigCallback[GlobalConfig] = ConfigCallback[GlobalConfig]{}
)

type GlobalConfig interface {
	LoggerConfig() LoggerConfig
}

type Config struct {
	DB      DBConfig      `toml:"db"`
	Logger  LoggerConfig  `toml:"logger"`
	Chain   ChainConfig   `toml:"chain"`
	Indexer IndexerConfig `toml:"indexer"`
	Server  ServerConfig  `toml:"server"`
	Metrics MetricsConfig `toml:"metrics"`
	Stats   StatsConfig   `toml:"stats"`
}

type LoggerConfig struct {
	Level       string `toml:"level" envconfig:"LOG_LEVEL"` // valid values are: DEBUG, INFO, WARN, ERROR, DPANIC, PANIC, FATAL (zap)
	File        string `toml:"file" envconfig:"LOG_FILE"`
	MaxFileSize int    `toml:"max_file_size"` // In megabytes
	Console     bool   `toml:"console"`
}

type DBConfig struct {
	Driver string `toml:"driver" envconfig:"DB_DRIVER"`

	// sqlite
	Path string `toml:"path" envconfig:"DB_PATH"`

	// mysql
	Host     string `toml:"host" envconfig:"DB_HOST"`
	Port     int    `toml:"port" envconfig:"DB_PORT"`
	Database string `toml:"database" envconfig:"DB_DATABASE"`
	Username string `toml:"username" envconfig:"DB_USERNAME"`
	Password string `toml:"password" envconfig:"DB_PASSWORD"`

	LogQueries       bool `toml:"log_queries"`
	DropTableAtStart bool `toml:"drop_table_at_start"`
}

type ChainConfig struct {
	NodeURL   string `toml:"node_url" envconfig:"RPC_URL"`
	ChainID   int64  `toml:"chain_id" envconfig:"CHAIN_ID"`
	ChainType string `toml:"chain_type" envconfig:"CHAIN_TYPE"` // eth or avax
}

type IndexerConfig struct {
	ContractAddress  string `toml:"contract_address" envconfig:"CONTRACT_ADDRESS"`
	BatchSize        uint64 `toml:"batch_size" envconfig:"BATCH_SIZE"`
	StartBlock       uint64 `toml:"start_block" envconfig:"START_BLOCK"`
	MaxRetries       int    `toml:"max_retries" envconfig:"MAX_RETRIES"`
	RetryDelayMillis int    `toml:"retry_delay_millis" envconfig:"RETRY_DELAY_MS"`
	TimeoutMillis    int    `toml:"timeout_millis" envconfig:"TIMEOUT_MS"`
	NumParallelReq   int    `toml:"num_parallel_req" envconfig:"NUM_PARALLEL_REQ"`
}

type ServerConfig struct {
	Host                  string `toml:"host" envconfig:"HTTP_HOST"`
	Port                  int    `toml:"port" envconfig:"HTTP_PORT"`
	ScanSchedule          string `toml:"scan_schedule" envconfig:"SCAN_SCHEDULE"` // cron spec, empty disables
	ShutdownTimeoutMillis int    `toml:"shutdown_timeout_millis"`
}

type MetricsConfig struct {
	PrometheusAddress string `toml:"prometheus_address" envconfig:"PROMETHEUS_ADDRESS"`
}

type StatsConfig struct {
	GasDecimals int32 `toml:"gas_decimals" envconfig:"GAS_DECIMALS"`
	TopN        int   `toml:"top_n" envconfig:"TOP_N"`
}

func newConfig() *Config {
	return &Config{
		DB: DBConfig{
			Driver: DriverSqlite,
			Path:   "swap-metrics.db",
			Port:   3306,
		},
		Logger: LoggerConfig{
			Level:   "INFO",
			Console: true,
		},
		Chain: ChainConfig{
			NodeURL:   "http://localhost:8545",
			ChainID:   1,
			ChainType: "eth",
		},
		Indexer: IndexerConfig{
			BatchSize:        2000,
			MaxRetries:       3,
			RetryDelayMillis: 1000,
			TimeoutMillis:    10000,
		},
		Server: ServerConfig{
			Host:                  "127.0.0.1",
			Port:                  8080,
			ShutdownTimeoutMillis: 5000,
		},
		Stats: StatsConfig{
			GasDecimals: 18,
			TopN:        10,
		},
	}
}

// BuildConfig layers defaults, the optional TOML file, the optional .env
// file and the process environment, in that order.
func BuildConfig(cfgFileName string) (*Config, error) {
	cfg := newConfig()

	err := ParseConfigFile(cfg, cfgFileName, cfgFileName == DefaultConfigFile)
	if err != nil {
		return nil, err
	}

	err = LoadEnvFile(DefaultEnvFile)
	if err != nil {
		return nil, err
	}

	err = ReadEnv(cfg)
	if err != nil {
		return nil, err
	}

	err = cfg.Validate()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

func ParseConfigFile(cfg *Config, fileName string, allowMissing bool) error {
	content, err := os.ReadFile(fileName)
	if err != nil {
		if allowMissing && os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("error opening config file: %w", err)
	}

	_, err = toml.Decode(string(content), cfg)
	if err != nil {
		return fmt.Errorf("error parsing config file: %w", err)
	}
	return nil
}

func LoadEnvFile(fileName string) error {
	if _, err := os.Stat(fileName); os.IsNotExist(err) {
		return nil
	}

	if err := godotenv.Load(fileName); err != nil {
		return fmt.Errorf("error loading env file: %w", err)
	}
	return nil
}

func ReadEnv(cfg interface{}) error {
	err := envconfig.Process("", cfg)
	if err != nil {
		return fmt.Errorf("error reading env config: %w", err)
	}
	return nil
}

func (c *Config) Validate() error {
	switch c.DB.Driver {
	case DriverSqlite:
		if c.DB.Path == "" {
			return errors.New("db.path is required for the sqlite driver")
		}
	case DriverMysql:
		if c.DB.Host == "" || c.DB.Database == "" {
			return errors.New("db.host and db.database are required for the mysql driver")
		}
	default:
		return errors.Errorf("unknown db driver %q", c.DB.Driver)
	}

	if c.Chain.NodeURL == "" {
		return errors.New("chain.node_url is required")
	}

	if c.Indexer.ContractAddress != "" && !common.IsHexAddress(c.Indexer.ContractAddress) {
		return errors.Errorf("invalid contract address %q", c.Indexer.ContractAddress)
	}

	if c.Indexer.BatchSize == 0 {
		return errors.New("indexer.batch_size must be positive")
	}

	if c.Indexer.MaxRetries < 1 {
		c.Indexer.MaxRetries = 1
	}

	if c.Stats.TopN <= 0 {
		c.Stats.TopN = 10
	}

	return nil
}

func (c Config) LoggerConfig() LoggerConfig {
	return c.Logger
}

func (c IndexerConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMillis) * time.Millisecond
}

func (c IndexerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMillis) * time.Millisecond
}

func (c IndexerConfig) Address() common.Address {
	return common.HexToAddress(strings.ToLower(c.ContractAddress))
}

func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutMillis) * time.Millisecond
}
