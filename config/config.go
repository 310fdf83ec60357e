// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config loads coordinator configuration from the environment.
// Every knob has a typed default so a zero-config process comes up in a
// sane local-development shape.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/luxfi/geth/common"
)

// Environment variable names understood by Load.
const (
	EnvEnvironment          = "ENVIRONMENT"
	EnvTestMode             = "TEST_MODE"
	EnvEventsAutoStart      = "BLOCKCHAIN_EVENTS_AUTO_START"
	EnvPassetHubSettlement  = "ENABLE_PASSETHUB_TRANSACT_SETTLEMENT"
	EnvVaultRPCURL          = "VAULT_RPC_URL"
	EnvProxyRPCURL          = "PROXY_RPC_URL"
	EnvVaultAddress         = "VAULT_CONTRACT_ADDRESS"
	EnvProxyAddress         = "PROXY_CONTRACT_ADDRESS"
	EnvOperatorKey          = "OPERATOR_PRIVATE_KEY"
	EnvVaultParaID          = "VAULT_PARA_ID"
	EnvProxyParaID          = "PROXY_PARA_ID"
	EnvXTokensPrecompile    = "XTOKENS_PRECOMPILE_ADDRESS"
	EnvTransactorPrecompile = "XCM_TRANSACTOR_PRECOMPILE_ADDRESS"
	EnvXCMPrecompile        = "XCM_PRECOMPILE_ADDRESS"
	EnvRetryMaxAttempts     = "RETRY_MAX_ATTEMPTS"
	EnvRetryBaseDelayMs     = "RETRY_BASE_DELAY_MS"
	EnvRetryMultiplier      = "RETRY_BACKOFF_MULTIPLIER"
	EnvRetryMaxDelayMs      = "RETRY_MAX_DELAY_MS"
	EnvRPCTimeout           = "RPC_TIMEOUT_MS"
	EnvDatabaseURL          = "DATABASE_URL"
	EnvRangeCheckInterval   = "RANGE_CHECK_INTERVAL_MS"
	EnvEventQueueHighWater  = "EVENT_QUEUE_HIGH_WATER"
)

// Default values applied when the corresponding variable is unset.
const (
	DefaultVaultParaID        = 1000 // AssetHub-family custodial chain
	DefaultProxyParaID        = 2004 // Moonbeam-family execution chain
	DefaultRPCTimeout         = 30 * time.Second
	DefaultRetryMaxAttempts   = 3
	DefaultRetryBaseDelay     = 1 * time.Second
	DefaultRetryMultiplier    = 2.0
	DefaultRetryMaxDelay      = 30 * time.Second
	DefaultQueueHighWater     = 1024
	DefaultRangeCheckInterval = 0 // disabled
)

// Moonbeam-family precompile addresses used by the production XCM path.
const (
	DefaultXTokensPrecompile    = "0x0000000000000000000000000000000000000804"
	DefaultTransactorPrecompile = "0x000000000000000000000000000000000000080D"
	DefaultXCMPrecompile        = "0x000000000000000000000000000000000000081A"
)

var (
	ErrMissingRPCURL     = errors.New("chain RPC URL not configured")
	ErrMissingContract   = errors.New("contract address not configured")
	ErrInvalidAddress    = errors.New("invalid contract address")
	ErrInvalidNumeric    = errors.New("invalid numeric value")
	ErrMissingDatabase   = errors.New("database URL not configured")
	ErrFrozenAfterLoad   = errors.New("configuration is frozen after load")
	ErrMissingSigningKey = errors.New("operator signing key not configured")
)

// ChainConfig holds the connection parameters for one chain endpoint.
type ChainConfig struct {
	RPCURL     string         // JSON-RPC endpoint (ws:// or wss:// for subscriptions)
	Contract   common.Address // Vault or Proxy contract address
	ParaID     uint32         // Parachain ID in the consensus system
	SigningKey string         // hex-encoded operator key; empty = read-only
}

// RetryConfig mirrors the retry engine policy knobs.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
}

// Config is the full coordinator configuration. It is assembled once by
// Load and treated as immutable afterwards; components copy the values
// they need instead of holding the struct.
type Config struct {
	Environment string // development | test | staging | production

	Vault ChainConfig
	Proxy ChainConfig

	// Moonbeam-side precompiles used by the production XCM path.
	XTokensPrecompile    common.Address
	TransactorPrecompile common.Address
	XCMPrecompile        common.Address

	Retry      RetryConfig
	RPCTimeout time.Duration

	DatabaseURL string

	TestMode                  bool
	EventsAutoStart           bool
	PassetHubSettlementEnable bool

	// Range watcher poll interval; zero disables the watcher.
	RangeCheckInterval time.Duration

	// Listener queue depth before informational events are dropped.
	EventQueueHighWater int
}

// Load reads configuration from the environment. Only structurally invalid
// values fail; missing endpoints are deferred to Validate so read-only and
// test setups can load a partial config.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:         strings.ToLower(getEnv(EnvEnvironment, "development")),
		RPCTimeout:          DefaultRPCTimeout,
		EventsAutoStart:     true,
		EventQueueHighWater: DefaultQueueHighWater,
		Retry: RetryConfig{
			MaxAttempts: DefaultRetryMaxAttempts,
			BaseDelay:   DefaultRetryBaseDelay,
			Multiplier:  DefaultRetryMultiplier,
			MaxDelay:    DefaultRetryMaxDelay,
		},
	}

	cfg.Vault.RPCURL = os.Getenv(EnvVaultRPCURL)
	cfg.Proxy.RPCURL = os.Getenv(EnvProxyRPCURL)
	cfg.Vault.SigningKey = strings.TrimPrefix(os.Getenv(EnvOperatorKey), "0x")
	cfg.Proxy.SigningKey = cfg.Vault.SigningKey
	cfg.DatabaseURL = os.Getenv(EnvDatabaseURL)

	var err error
	if cfg.Vault.Contract, err = optionalAddress(EnvVaultAddress); err != nil {
		return nil, err
	}
	if cfg.Proxy.Contract, err = optionalAddress(EnvProxyAddress); err != nil {
		return nil, err
	}
	if cfg.XTokensPrecompile, err = addressOrDefault(EnvXTokensPrecompile, DefaultXTokensPrecompile); err != nil {
		return nil, err
	}
	if cfg.TransactorPrecompile, err = addressOrDefault(EnvTransactorPrecompile, DefaultTransactorPrecompile); err != nil {
		return nil, err
	}
	if cfg.XCMPrecompile, err = addressOrDefault(EnvXCMPrecompile, DefaultXCMPrecompile); err != nil {
		return nil, err
	}

	if cfg.Vault.ParaID, err = uint32Env(EnvVaultParaID, DefaultVaultParaID); err != nil {
		return nil, err
	}
	if cfg.Proxy.ParaID, err = uint32Env(EnvProxyParaID, DefaultProxyParaID); err != nil {
		return nil, err
	}

	if v := os.Getenv(EnvRetryMaxAttempts); v != "" {
		n, convErr := strconv.Atoi(v)
		if convErr != nil || n < 1 {
			return nil, fmt.Errorf("%w: %s=%q", ErrInvalidNumeric, EnvRetryMaxAttempts, v)
		}
		cfg.Retry.MaxAttempts = n
	}
	if cfg.Retry.BaseDelay, err = millisEnv(EnvRetryBaseDelayMs, DefaultRetryBaseDelay); err != nil {
		return nil, err
	}
	if cfg.Retry.MaxDelay, err = millisEnv(EnvRetryMaxDelayMs, DefaultRetryMaxDelay); err != nil {
		return nil, err
	}
	if v := os.Getenv(EnvRetryMultiplier); v != "" {
		m, convErr := strconv.ParseFloat(v, 64)
		if convErr != nil || m < 1 {
			return nil, fmt.Errorf("%w: %s=%q", ErrInvalidNumeric, EnvRetryMultiplier, v)
		}
		cfg.Retry.Multiplier = m
	}
	if cfg.RPCTimeout, err = millisEnv(EnvRPCTimeout, DefaultRPCTimeout); err != nil {
		return nil, err
	}
	if cfg.RangeCheckInterval, err = millisEnv(EnvRangeCheckInterval, DefaultRangeCheckInterval); err != nil {
		return nil, err
	}
	if v := os.Getenv(EnvEventQueueHighWater); v != "" {
		n, convErr := strconv.Atoi(v)
		if convErr != nil || n < 1 {
			return nil, fmt.Errorf("%w: %s=%q", ErrInvalidNumeric, EnvEventQueueHighWater, v)
		}
		cfg.EventQueueHighWater = n
	}

	cfg.TestMode = boolEnv(EnvTestMode, false) ||
		cfg.Environment == "development" || cfg.Environment == "test"
	cfg.EventsAutoStart = boolEnv(EnvEventsAutoStart, true)
	cfg.PassetHubSettlementEnable = boolEnv(EnvPassetHubSettlement, false)

	return cfg, nil
}

// Validate checks that the config is complete enough to run the full
// coordinator (both chains writable, database reachable).
func (c *Config) Validate() error {
	if c.Vault.RPCURL == "" || c.Proxy.RPCURL == "" {
		return ErrMissingRPCURL
	}
	if c.Vault.Contract == (common.Address{}) || c.Proxy.Contract == (common.Address{}) {
		return ErrMissingContract
	}
	if c.Vault.SigningKey == "" {
		return ErrMissingSigningKey
	}
	if c.DatabaseURL == "" {
		return ErrMissingDatabase
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func boolEnv(key string, fallback bool) bool {
	v := strings.ToLower(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func uint32Env(key string, fallback uint32) (uint32, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", ErrInvalidNumeric, key, v)
	}
	return uint32(n), nil
}

func millisEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s=%q", ErrInvalidNumeric, key, v)
	}
	return time.Duration(n) * time.Millisecond, nil
}

func optionalAddress(key string) (common.Address, error) {
	v := os.Getenv(key)
	if v == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("%w: %s=%q", ErrInvalidAddress, key, v)
	}
	return common.HexToAddress(v), nil
}

func addressOrDefault(key, fallback string) (common.Address, error) {
	v := getEnv(key, fallback)
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("%w: %s=%q", ErrInvalidAddress, key, v)
	}
	return common.HexToAddress(v), nil
}
