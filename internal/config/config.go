// Package config loads process configuration from an optional YAML file and
// the environment.
//
// Every key can be overridden with a RAILVERIFY_ environment variable where
// dots become underscores (database.dsn is RAILVERIFY_DATABASE_DSN). The
// environment names of the original deployment (BTC_RPC_URL, RPC_MAINNET,
// PI_API_KEY and friends) are honoured as fallbacks.
//
// Secrets (RPC credentials, per-chain RPC URLs, the platform API key) only
// ever come from here. Rail rows in the database never carry them.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/roach88/railverify/internal/rails"
	"github.com/roach88/railverify/internal/store"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "RAILVERIFY"

// DefaultConfigName is looked up in the working directory when no file is
// given explicitly.
const DefaultConfigName = "railverify"

type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Rails    RailsConfig    `mapstructure:"rails"`
	EVM      EVMConfig      `mapstructure:"evm"`
	BTC      BTCConfig      `mapstructure:"btc"`
	XRP      XRPConfig      `mapstructure:"xrp"`
	Pi       PiConfig       `mapstructure:"pi"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Log      LogConfig      `mapstructure:"log"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type HTTPConfig struct {
	Addr          string        `mapstructure:"addr"`
	BuyerHeader   string        `mapstructure:"buyer_header"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	VerifyTimeout time.Duration `mapstructure:"verify_timeout"`
}

type RailsConfig struct {
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type EVMConfig struct {
	SupportedChains []int64 `mapstructure:"supported_chains"`
	// RPCURLs maps a decimal chain id to a JSON-RPC endpoint.
	RPCURLs map[string]string `mapstructure:"rpc_urls"`
}

type BTCConfig struct {
	RPCURL  string `mapstructure:"rpc_url"`
	RPCUser string `mapstructure:"rpc_user"`
	RPCPass string `mapstructure:"rpc_pass"`
}

type XRPConfig struct {
	RPCURL      string `mapstructure:"rpc_url"`
	StrictDepth bool   `mapstructure:"strict_depth"`
}

type PiConfig struct {
	APIBase          string `mapstructure:"api_base"`
	APIKey           string `mapstructure:"api_key"`
	StrictCompletion bool   `mapstructure:"strict_completion"`
}

type WorkerConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	BatchSize     int           `mapstructure:"batch_size"`
	VerifyTimeout time.Duration `mapstructure:"verify_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// legacyEnv maps keys to the environment names used before the RAILVERIFY_
// prefix existed.
var legacyEnv = map[string]string{
	"btc.rpc_url":       "BTC_RPC_URL",
	"btc.rpc_user":      "BTC_RPC_USER",
	"btc.rpc_pass":      "BTC_RPC_PASS",
	"xrp.rpc_url":       "XRPL_RPC_URL",
	"pi.api_base":       "PI_API_BASE",
	"pi.api_key":        "PI_API_KEY",
	"evm.rpc_urls.1":    "RPC_MAINNET",
	"evm.rpc_urls.8453": "RPC_BASE",
	"evm.rpc_urls.137":  "RPC_POLYGON",
	"worker.batch_size": "PURCHASE_FINALIZER_BATCH",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", store.DriverSQLite)
	v.SetDefault("database.dsn", "railverify.db")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.buyer_header", "X-Buyer-Address")
	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", 30*time.Second)
	v.SetDefault("http.verify_timeout", 20*time.Second)

	v.SetDefault("rails.request_timeout", rails.DefaultRequestTimeout)

	v.SetDefault("evm.supported_chains", rails.DefaultSupportedChains)

	v.SetDefault("btc.rpc_url", "")
	v.SetDefault("btc.rpc_user", "")
	v.SetDefault("btc.rpc_pass", "")

	v.SetDefault("xrp.rpc_url", "")
	v.SetDefault("xrp.strict_depth", false)

	v.SetDefault("pi.api_base", "")
	v.SetDefault("pi.api_key", "")
	v.SetDefault("pi.strict_completion", false)

	v.SetDefault("worker.interval", 15*time.Second)
	v.SetDefault("worker.batch_size", 50)
	v.SetDefault("worker.verify_timeout", 30*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads configuration. An empty path looks for railverify.yaml in the
// working directory and carries on with defaults if there is none; an
// explicit path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName(DefaultConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case store.DriverSQLite, store.DriverPostgres:
	default:
		return fmt.Errorf("config: database.driver %q: must be %s or %s", c.Database.Driver, store.DriverSQLite, store.DriverPostgres)
	}
	if c.Database.DSN == "" {
		return errors.New("config: database.dsn is required")
	}
	if c.HTTP.BuyerHeader == "" {
		return errors.New("config: http.buyer_header is required")
	}
	if len(c.EVM.SupportedChains) == 0 {
		return errors.New("config: evm.supported_chains must not be empty")
	}
	if _, err := c.evmEndpoints(); err != nil {
		return err
	}
	if c.Worker.BatchSize <= 0 {
		return fmt.Errorf("config: worker.batch_size must be positive, got %d", c.Worker.BatchSize)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: log.format %q: must be text or json", c.Log.Format)
	}
	return nil
}

func (c *Config) evmEndpoints() (map[int64]string, error) {
	out := make(map[int64]string, len(c.EVM.RPCURLs))
	for key, url := range c.EVM.RPCURLs {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("config: evm.rpc_urls key %q is not a chain id", key)
		}
		if url != "" {
			out[id] = url
		}
	}
	return out, nil
}

// RegistryOptions assembles the verifier registry options, secrets included.
func (c *Config) RegistryOptions(client *http.Client) rails.Options {
	endpoints, _ := c.evmEndpoints()
	return rails.Options{
		Secrets: rails.Secrets{
			EVMRPCURLs: endpoints,
			BTCRPCURL:  c.BTC.RPCURL,
			BTCRPCUser: c.BTC.RPCUser,
			BTCRPCPass: c.BTC.RPCPass,
			XRPLRPCURL: c.XRP.RPCURL,
			PiAPIBase:  c.Pi.APIBase,
			PiAPIKey:   c.Pi.APIKey,
		},
		SupportedChains:    c.EVM.SupportedChains,
		RequestTimeout:     c.Rails.RequestTimeout,
		XRPLStrictDepth:    c.XRP.StrictDepth,
		PiStrictCompletion: c.Pi.StrictCompletion,
		HTTPClient:         client,
	}
}

// ParseLevel maps a log level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("config: log.level %q: %w", s, err)
	}
	return l, nil
}
