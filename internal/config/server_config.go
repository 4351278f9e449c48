// Package config assembles the full service configuration from the
// environment. Every knob has a default that works for local development
// against a dockerized Postgres and public testnet RPC endpoints.
package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

type Database struct {
	Host     string
	Port     int
	Username string
	Password string `json:"-"` // sensitive
	Database string
	SSLMode  string
}

// ConnectionString builds a keyword/value DSN for lib/pq.
func (d Database) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.Username, d.Password, d.Database, d.SSLMode)
}

type EchoServer struct {
	ListenAddress                  string
	HideInternalServerErrorDetails bool
	EnableRecoverMiddleware        bool
	EnableRequestIDMiddleware      bool
	EnableLoggerMiddleware         bool
}

type Logger struct {
	Level              zerolog.Level
	PrettyPrintConsole bool
}

type Management struct {
	Secret string `json:"-"` // sensitive
}

type NATS struct {
	Enabled bool
	URL     string
}

// Token describes a watched asset on a chain. An empty contract means the
// chain's native asset.
type Token struct {
	Symbol   string
	Contract string
	Decimals int
}

// Chain describes one supported network.
type Chain struct {
	ID                    string
	Family                string
	NumericID             int64
	RPCURLs               []string
	WSURL                 string
	RequiredConfirmations int64
	LogPageSize           int64
	PaymentContract       string
	HotWalletIndex        int64
	Tokens                []Token
}

// Tier holds the caps for one verification tier. Amounts are decimal
// strings in the token's smallest unit; a zero withdrawal cap means the
// tier cannot withdraw at all.
type Tier struct {
	DepositWindowCap      string
	WithdrawalLifetimeCap string
}

type Limits struct {
	DefaultTier   string
	DepositWindow time.Duration
	Tiers         map[string]Tier
}

type Scanner struct {
	Interval      time.Duration
	LeaseTTL      time.Duration
	Lookback      int64
	Workers       int
	InitialHeight int64
}

type Withdrawals struct {
	Interval time.Duration
}

type Reconciler struct {
	SweepInterval    time.Duration
	PendingAge       time.Duration
	ReconnectBackoff time.Duration
	MaxReconnects    int
}

type Server struct {
	Database    Database
	Echo        EchoServer
	Logger      Logger
	Management  Management
	NATS        NATS
	Chains      []Chain
	Limits      Limits
	Scanner     Scanner
	Withdrawals Withdrawals
	Reconciler  Reconciler
}

var loadDotEnv sync.Once

// DefaultServiceConfigFromEnv returns the full service config, reading
// .env.local once if present.
func DefaultServiceConfigFromEnv() Server {
	loadDotEnv.Do(func() {
		if _, err := os.Stat(".env.local"); err == nil {
			_ = gotenv.Load(".env.local")
		}
	})

	v := viper.New()
	v.AutomaticEnv()

	setDefaults(v)

	return Server{
		Database: Database{
			Host:     v.GetString("PGHOST"),
			Port:     v.GetInt("PGPORT"),
			Username: v.GetString("PGUSER"),
			Password: v.GetString("PGPASSWORD"),
			Database: v.GetString("PGDATABASE"),
			SSLMode:  v.GetString("PGSSLMODE"),
		},
		Echo: EchoServer{
			ListenAddress:                  v.GetString("SERVER_ECHO_LISTEN_ADDRESS"),
			HideInternalServerErrorDetails: v.GetBool("SERVER_ECHO_HIDE_INTERNAL_SERVER_ERROR_DETAILS"),
			EnableRecoverMiddleware:        v.GetBool("SERVER_ECHO_ENABLE_RECOVER_MIDDLEWARE"),
			EnableRequestIDMiddleware:      v.GetBool("SERVER_ECHO_ENABLE_REQUEST_ID_MIDDLEWARE"),
			EnableLoggerMiddleware:         v.GetBool("SERVER_ECHO_ENABLE_LOGGER_MIDDLEWARE"),
		},
		Logger: Logger{
			Level:              parseLogLevel(v.GetString("SERVER_LOGGER_LEVEL")),
			PrettyPrintConsole: v.GetBool("SERVER_LOGGER_PRETTY_PRINT_CONSOLE"),
		},
		Management: Management{
			Secret: v.GetString("SERVER_MANAGEMENT_SECRET"),
		},
		NATS: NATS{
			Enabled: v.GetBool("SERVER_NATS_ENABLED"),
			URL:     v.GetString("SERVER_NATS_URL"),
		},
		Chains: chainsFromEnv(v),
		Limits: Limits{
			DefaultTier:   v.GetString("SERVER_LIMITS_DEFAULT_TIER"),
			DepositWindow: v.GetDuration("SERVER_LIMITS_DEPOSIT_WINDOW"),
			Tiers:         tiersFromEnv(v),
		},
		Scanner: Scanner{
			Interval:      v.GetDuration("SERVER_SCANNER_INTERVAL"),
			LeaseTTL:      v.GetDuration("SERVER_SCANNER_LEASE_TTL"),
			Lookback:      v.GetInt64("SERVER_SCANNER_LOOKBACK"),
			Workers:       v.GetInt("SERVER_SCANNER_WORKERS"),
			InitialHeight: v.GetInt64("SERVER_SCANNER_INITIAL_HEIGHT"),
		},
		Withdrawals: Withdrawals{
			Interval: v.GetDuration("SERVER_WITHDRAWALS_INTERVAL"),
		},
		Reconciler: Reconciler{
			SweepInterval:    v.GetDuration("SERVER_RECONCILER_SWEEP_INTERVAL"),
			PendingAge:       v.GetDuration("SERVER_RECONCILER_PENDING_AGE"),
			ReconnectBackoff: v.GetDuration("SERVER_RECONCILER_RECONNECT_BACKOFF"),
			MaxReconnects:    v.GetInt("SERVER_RECONCILER_MAX_RECONNECTS"),
		},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PGHOST", "localhost")
	v.SetDefault("PGPORT", 5432)
	v.SetDefault("PGUSER", "postgres")
	v.SetDefault("PGPASSWORD", "")
	v.SetDefault("PGDATABASE", "custody")
	v.SetDefault("PGSSLMODE", "disable")

	v.SetDefault("SERVER_ECHO_LISTEN_ADDRESS", ":8080")
	v.SetDefault("SERVER_ECHO_HIDE_INTERNAL_SERVER_ERROR_DETAILS", true)
	v.SetDefault("SERVER_ECHO_ENABLE_RECOVER_MIDDLEWARE", true)
	v.SetDefault("SERVER_ECHO_ENABLE_REQUEST_ID_MIDDLEWARE", true)
	v.SetDefault("SERVER_ECHO_ENABLE_LOGGER_MIDDLEWARE", true)

	v.SetDefault("SERVER_LOGGER_LEVEL", "info")
	v.SetDefault("SERVER_LOGGER_PRETTY_PRINT_CONSOLE", false)

	v.SetDefault("SERVER_NATS_ENABLED", false)
	v.SetDefault("SERVER_NATS_URL", "nats://localhost:4222")

	v.SetDefault("SERVER_CHAINS", "ethereum")
	v.SetDefault("SERVER_CHAIN_ETHEREUM_FAMILY", "evm")
	v.SetDefault("SERVER_CHAIN_ETHEREUM_NUMERIC_ID", 1)
	v.SetDefault("SERVER_CHAIN_ETHEREUM_RPC_URLS", "http://localhost:8545")
	v.SetDefault("SERVER_CHAIN_ETHEREUM_CONFIRMATIONS", 12)
	v.SetDefault("SERVER_CHAIN_ETHEREUM_LOG_PAGE_SIZE", 2000)

	v.SetDefault("SERVER_LIMITS_DEFAULT_TIER", "unverified")
	v.SetDefault("SERVER_LIMITS_DEPOSIT_WINDOW", 24*time.Hour)
	v.SetDefault("SERVER_LIMITS_TIERS", "unverified,basic,premium")
	v.SetDefault("SERVER_LIMITS_TIER_UNVERIFIED_DEPOSIT_CAP", "1000000000")
	v.SetDefault("SERVER_LIMITS_TIER_UNVERIFIED_WITHDRAWAL_CAP", "0")
	v.SetDefault("SERVER_LIMITS_TIER_BASIC_DEPOSIT_CAP", "10000000000")
	v.SetDefault("SERVER_LIMITS_TIER_BASIC_WITHDRAWAL_CAP", "10000000000")
	v.SetDefault("SERVER_LIMITS_TIER_PREMIUM_DEPOSIT_CAP", "1000000000000")
	v.SetDefault("SERVER_LIMITS_TIER_PREMIUM_WITHDRAWAL_CAP", "1000000000000")

	v.SetDefault("SERVER_SCANNER_INTERVAL", 30*time.Second)
	v.SetDefault("SERVER_SCANNER_LEASE_TTL", 2*time.Minute)
	v.SetDefault("SERVER_SCANNER_LOOKBACK", 1000)
	v.SetDefault("SERVER_SCANNER_WORKERS", 4)
	v.SetDefault("SERVER_SCANNER_INITIAL_HEIGHT", 0)

	v.SetDefault("SERVER_WITHDRAWALS_INTERVAL", 30*time.Second)

	v.SetDefault("SERVER_RECONCILER_SWEEP_INTERVAL", 5*time.Minute)
	v.SetDefault("SERVER_RECONCILER_PENDING_AGE", 2*time.Minute)
	v.SetDefault("SERVER_RECONCILER_RECONNECT_BACKOFF", 5*time.Second)
	v.SetDefault("SERVER_RECONCILER_MAX_RECONNECTS", 10)
}

func chainsFromEnv(v *viper.Viper) []Chain {
	ids := splitTrimmed(v.GetString("SERVER_CHAINS"))
	chains := make([]Chain, 0, len(ids))
	for _, id := range ids {
		prefix := "SERVER_CHAIN_" + strings.ToUpper(strings.ReplaceAll(id, "-", "_")) + "_"
		chains = append(chains, Chain{
			ID:                    id,
			Family:                v.GetString(prefix + "FAMILY"),
			NumericID:             v.GetInt64(prefix + "NUMERIC_ID"),
			RPCURLs:               splitTrimmed(v.GetString(prefix + "RPC_URLS")),
			WSURL:                 v.GetString(prefix + "WS_URL"),
			RequiredConfirmations: v.GetInt64(prefix + "CONFIRMATIONS"),
			LogPageSize:           v.GetInt64(prefix + "LOG_PAGE_SIZE"),
			PaymentContract:       v.GetString(prefix + "PAYMENT_CONTRACT"),
			HotWalletIndex:        v.GetInt64(prefix + "HOT_WALLET_INDEX"),
			Tokens:                parseTokens(v.GetString(prefix + "TOKENS")),
		})
	}

	return chains
}

func tiersFromEnv(v *viper.Viper) map[string]Tier {
	names := splitTrimmed(v.GetString("SERVER_LIMITS_TIERS"))
	tiers := make(map[string]Tier, len(names))
	for _, name := range names {
		prefix := "SERVER_LIMITS_TIER_" + strings.ToUpper(name) + "_"
		tiers[name] = Tier{
			DepositWindowCap:      v.GetString(prefix + "DEPOSIT_CAP"),
			WithdrawalLifetimeCap: v.GetString(prefix + "WITHDRAWAL_CAP"),
		}
	}

	return tiers
}

// parseTokens parses "SYMBOL:contract:decimals" triples, comma separated.
// An empty contract segment means the chain's native asset.
func parseTokens(s string) []Token {
	var tokens []Token
	for _, part := range splitTrimmed(s) {
		fields := strings.Split(part, ":")
		if len(fields) != 3 {
			continue
		}
		decimals := 0
		fmt.Sscanf(fields[2], "%d", &decimals) //nolint:errcheck
		tokens = append(tokens, Token{
			Symbol:   strings.ToUpper(strings.TrimSpace(fields[0])),
			Contract: strings.TrimSpace(fields[1]),
			Decimals: decimals,
		})
	}

	return tokens
}

func splitTrimmed(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}

	return out
}

func parseLogLevel(s string) zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(s))
	if err != nil {
		return zerolog.InfoLevel
	}

	return level
}
