package config

import (
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config carries everything the exit engine needs at process start. The RPC
// fallback list and fee parameters are loaded once and treated as immutable;
// per-source price credentials live in the API configuration store instead.
type Config struct {
	ListenAddr  string `mapstructure:"listen_addr"`
	AuthToken   string `mapstructure:"auth_token"`
	PostgresURL string `mapstructure:"postgres_url"`

	RPCPrimary   string   `mapstructure:"rpc_primary"`
	RPCFallbacks []string `mapstructure:"rpc_fallbacks"`

	RequestTimeoutSec int `mapstructure:"request_timeout_sec"`

	ExitSlippagePercent float64 `mapstructure:"exit_slippage_percent"`

	FeeFloorLow        uint64 `mapstructure:"fee_floor_low"`
	FeeFloorMedium     uint64 `mapstructure:"fee_floor_medium"`
	FeeFloorHigh       uint64 `mapstructure:"fee_floor_high"`
	FeeFloorVeryHigh   uint64 `mapstructure:"fee_floor_very_high"`
	FeeRefreshCooldown int    `mapstructure:"fee_refresh_cooldown_sec"`

	AuditFile    string `mapstructure:"audit_file"`
	DebugLogging bool   `mapstructure:"debug_logging"`
}

const (
	DefaultListenAddr         = ":8080"
	DefaultRequestTimeoutSec  = 10
	DefaultExitSlippage       = 5.0
	DefaultFeeFloorLow        = 1_000
	DefaultFeeFloorMedium     = 5_000
	DefaultFeeFloorHigh       = 10_000
	DefaultFeeFloorVeryHigh   = 50_000
	DefaultFeeRefreshCooldown = 30
	DefaultAuditFile          = "logs/exits.csv"
)

// DefaultRPCFallbacks are the public endpoints tried after the configured
// primary. Order matters: candidates are attempted front to back.
var DefaultRPCFallbacks = []string{
	"https://api.mainnet-beta.solana.com",
	"https://solana-rpc.publicnode.com",
	"https://rpc.ankr.com/solana",
}

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	defaults := map[string]interface{}{
		"listen_addr":              DefaultListenAddr,
		"request_timeout_sec":      DefaultRequestTimeoutSec,
		"exit_slippage_percent":    DefaultExitSlippage,
		"fee_floor_low":            DefaultFeeFloorLow,
		"fee_floor_medium":         DefaultFeeFloorMedium,
		"fee_floor_high":           DefaultFeeFloorHigh,
		"fee_floor_very_high":      DefaultFeeFloorVeryHigh,
		"fee_refresh_cooldown_sec": DefaultFeeRefreshCooldown,
		"rpc_fallbacks":            DefaultRPCFallbacks,
		"audit_file":               DefaultAuditFile,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := loadEnvironmentVariables(v, &cfg); err != nil {
		return nil, err
	}

	return &cfg, validateConfig(&cfg)
}

// RequestTimeout is the per-call deadline applied to every outbound
// price, RPC and trade request.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSec) * time.Second
}

// FeeCooldown is the minimum interval between fee estimate refreshes.
func (c *Config) FeeCooldown() time.Duration {
	return time.Duration(c.FeeRefreshCooldown) * time.Second
}

func validateConfig(cfg *Config) error {
	if cfg.AuthToken == "" {
		return errors.New("missing auth_token in configuration")
	}
	if cfg.PostgresURL == "" {
		return errors.New("missing postgres_url in configuration")
	}
	if cfg.RPCPrimary != "" {
		if err := validateURL(cfg.RPCPrimary, "http"); err != nil {
			return errors.New("invalid rpc_primary URL")
		}
	}
	if len(cfg.RPCFallbacks) == 0 {
		return errors.New("rpc_fallbacks is empty")
	}
	for _, rpcURL := range cfg.RPCFallbacks {
		if err := validateURL(rpcURL, "http"); err != nil {
			return errors.New("invalid RPC fallback URL")
		}
	}
	return validateNumericParams(cfg)
}

func validateNumericParams(cfg *Config) error {
	if cfg.RequestTimeoutSec <= 0 {
		return errors.New("invalid request_timeout_sec")
	}
	if cfg.ExitSlippagePercent <= 0 {
		return errors.New("invalid exit_slippage_percent")
	}
	if cfg.FeeRefreshCooldown <= 0 {
		return errors.New("invalid fee_refresh_cooldown_sec")
	}
	return nil
}

func validateURL(rawURL string, protocol string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid URL format")
	}
	if !strings.HasPrefix(parsed.Scheme, protocol) {
		return errors.New("invalid URL protocol")
	}
	return nil
}

func loadEnvironmentVariables(v *viper.Viper, cfg *Config) error {
	v.AutomaticEnv()
	v.SetEnvPrefix("EXITWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if token := v.GetString("AUTH_TOKEN"); token != "" {
		cfg.AuthToken = token
	}
	if dsn := v.GetString("POSTGRES_URL"); dsn != "" {
		cfg.PostgresURL = dsn
	}

	envRPCList := v.GetString("RPC_FALLBACKS")
	if envRPCList != "" {
		rpcs := strings.Split(envRPCList, ",")
		var cleanRPCs []string
		for _, rpc := range rpcs {
			clean := strings.TrimSpace(rpc)
			if clean != "" {
				cleanRPCs = append(cleanRPCs, clean)
			}
		}
		if len(cleanRPCs) > 0 {
			cfg.RPCFallbacks = cleanRPCs
		}
	}
	return nil
}
