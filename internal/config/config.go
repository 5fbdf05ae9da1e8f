// Package config defines the top-level configuration for the index and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openfloor/nftindex/internal/protocol"
)

// duration wraps time.Duration so TOML values can be written as "30s".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by NFTINDEX_* environment
// variables.
type Config struct {
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Chain     ChainConfig     `toml:"chain"`
	Feed      FeedConfig      `toml:"feed"`
	Relay     RelayConfig     `toml:"relay"`
	Oracle    OracleConfig    `toml:"oracle"`
	Server    ServerConfig    `toml:"server"`
	Jobs      JobsConfig      `toml:"jobs"`
	Engine    EngineConfig    `toml:"engine"`
	Contracts ContractsConfig `toml:"contracts"`
	LogLevel  string          `toml:"log_level"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds object storage parameters for raw payload archival.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	KeyPrefix      string `toml:"key_prefix"`
}

// ChainConfig holds the Ethereum RPC parameters used by the validity checker
// and the event watcher.
type ChainConfig struct {
	RPCURL            string   `toml:"rpc_url"`
	RequestsPerSecond float64  `toml:"requests_per_second"`
	CallTimeout       duration `toml:"call_timeout"`

	WatchEvents   bool     `toml:"watch_events"`
	PollInterval  duration `toml:"poll_interval"`
	Confirmations uint64   `toml:"confirmations"`
	StartBlock    uint64   `toml:"start_block"`
	BatchBlocks   uint64   `toml:"batch_blocks"`
}

// FeedConfig holds the upstream order firehose parameters.
type FeedConfig struct {
	Enabled bool     `toml:"enabled"`
	URL     string   `toml:"url"`
	Sources []string `toml:"sources"`
	// ArchiveRaw enqueues raw payloads for blob archival; requires S3.
	ArchiveRaw bool `toml:"archive_raw"`
}

// RelayConfig holds parameters for forwarding orders to an external relayer.
type RelayConfig struct {
	Enabled           bool     `toml:"enabled"`
	BaseURL           string   `toml:"base_url"`
	APIKey            string   `toml:"api_key"`
	RequestsPerSecond float64  `toml:"requests_per_second"`
	Timeout           duration `toml:"timeout"`
}

// OracleConfig holds pricing API parameters.
type OracleConfig struct {
	BaseURL  string   `toml:"base_url"`
	Timeout  duration `toml:"timeout"`
	CacheTTL duration `toml:"cache_ttl"`
}

// ServerConfig holds the HTTP API server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
}

// JobsConfig holds background worker parameters.
type JobsConfig struct {
	Workers     int `toml:"workers"`
	MaxAttempts int `toml:"max_attempts"`
}

// EngineConfig holds upsert engine parameters.
type EngineConfig struct {
	Concurrency int `toml:"concurrency"`
}

// ContractsConfig holds per-protocol contract addresses and flat fee
// schedules. Defaults target Ethereum mainnet.
type ContractsConfig struct {
	WETH string `toml:"weth"`

	SeaportExchange      string `toml:"seaport_exchange"`
	SeaportConduit       string `toml:"seaport_conduit"`
	LooksRareExchange    string `toml:"looksrare_exchange"`
	LooksRareTransferMgr string `toml:"looksrare_transfer_manager"`
	X2Y2Exchange         string `toml:"x2y2_exchange"`
	ZoraModule           string `toml:"zora_module"`
	ElementExchange      string `toml:"element_exchange"`
	ManifoldExchange     string `toml:"manifold_exchange"`
	CryptoPunksMarket    string `toml:"cryptopunks_market"`
	FoundationMarket     string `toml:"foundation_market"`
	InfinityExchange     string `toml:"infinity_exchange"`
	WyvernExchange       string `toml:"wyvern_exchange"`
	WyvernTokenProxy     string `toml:"wyvern_token_proxy"`
	PaymentProcessor     string `toml:"payment_processor"`

	LooksRareFeeBps  int `toml:"looksrare_fee_bps"`
	FoundationFeeBps int `toml:"foundation_fee_bps"`
	X2Y2FeeBps       int `toml:"x2y2_fee_bps"`

	LooksRareFeeRecipient  string `toml:"looksrare_fee_recipient"`
	FoundationFeeRecipient string `toml:"foundation_fee_recipient"`
	X2Y2FeeRecipient       string `toml:"x2y2_fee_recipient"`
}

// Protocol converts the string addresses into a protocol.Config.
func (c ContractsConfig) Protocol() protocol.Config {
	return protocol.Config{
		WETH:                 common.HexToAddress(c.WETH),
		SeaportExchange:      common.HexToAddress(c.SeaportExchange),
		SeaportConduit:       common.HexToAddress(c.SeaportConduit),
		LooksRareExchange:    common.HexToAddress(c.LooksRareExchange),
		LooksRareTransferMgr: common.HexToAddress(c.LooksRareTransferMgr),
		X2Y2Exchange:         common.HexToAddress(c.X2Y2Exchange),
		ZoraModule:           common.HexToAddress(c.ZoraModule),
		ElementExchange:      common.HexToAddress(c.ElementExchange),
		ManifoldExchange:     common.HexToAddress(c.ManifoldExchange),
		CryptoPunksMarket:    common.HexToAddress(c.CryptoPunksMarket),
		FoundationMarket:     common.HexToAddress(c.FoundationMarket),
		InfinityExchange:     common.HexToAddress(c.InfinityExchange),
		WyvernExchange:       common.HexToAddress(c.WyvernExchange),
		WyvernTokenProxy:     common.HexToAddress(c.WyvernTokenProxy),
		PaymentProcessor:     common.HexToAddress(c.PaymentProcessor),

		LooksRareFeeBps:  c.LooksRareFeeBps,
		FoundationFeeBps: c.FoundationFeeBps,
		X2Y2FeeBps:       c.X2Y2FeeBps,

		LooksRareFeeRecipient:  common.HexToAddress(c.LooksRareFeeRecipient),
		FoundationFeeRecipient: common.HexToAddress(c.FoundationFeeRecipient),
		X2Y2FeeRecipient:       common.HexToAddress(c.X2Y2FeeRecipient),
	}
}

// Defaults returns the built-in configuration. Contract addresses default to
// the canonical Ethereum mainnet deployments.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "nftindex",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "nftindex-raw",
			UseSSL:         false,
			ForcePathStyle: true,
			KeyPrefix:      "raw-orders",
		},
		Chain: ChainConfig{
			RPCURL:            "http://localhost:8545",
			RequestsPerSecond: 20,
			CallTimeout:       duration{10 * time.Second},
			WatchEvents:       true,
			PollInterval:      duration{12 * time.Second},
			Confirmations:     2,
			BatchBlocks:       10,
		},
		Feed: FeedConfig{
			Enabled: true,
		},
		Relay: RelayConfig{
			RequestsPerSecond: 5,
			Timeout:           duration{30 * time.Second},
		},
		Oracle: OracleConfig{
			Timeout:  duration{10 * time.Second},
			CacheTTL: duration{time.Minute},
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8080,
		},
		Jobs: JobsConfig{
			Workers:     2,
			MaxAttempts: 3,
		},
		Engine: EngineConfig{
			Concurrency: 20,
		},
		Contracts: ContractsConfig{
			WETH: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2",

			SeaportExchange:      "0x00000000000000ADc04C56Bf30aC9d3c0aAF14dC",
			SeaportConduit:       "0x1E0049783F008A0085193E00003D00cd54003c71",
			LooksRareExchange:    "0x59728544B08AB483533076417FbBB2fD0B17CE3a",
			LooksRareTransferMgr: "0xf42aa99F011A1fA7CDA90E5E98b277E306BcA83e",
			X2Y2Exchange:         "0x74312363e45DCaBA76c59ec49a7Aa8A65a67EeD3",
			ZoraModule:           "0x6170B3C3A54C3d8c854934cBC314eD479b2B29A3",
			ElementExchange:      "0x20F780A973856B93f63670377900C1d2a50a77c4",
			ManifoldExchange:     "0x3A3548e060Be10c2614d0a4Cb0c03CC9093fD799",
			CryptoPunksMarket:    "0xb47e3cd837dDF8e4c57F05d70Ab865de6e193BBB",
			FoundationMarket:     "0xcDA72070E455bb31C7690a170224Ce43623d0B6f",
			InfinityExchange:     "0xbADa5555fe632ace2C90Fee8C060703369c25f1c",
			WyvernExchange:       "0x7f268357A8c2552623316e2562D90e642bB538E5",
			WyvernTokenProxy:     "0xE5c783EE536cf5E63E792988335c4255169be4E1",
			PaymentProcessor:     "0x009a1dC629242961C9E4f089b437aFD394474cc0",

			LooksRareFeeBps:  200,
			FoundationFeeBps: 500,
			X2Y2FeeBps:       50,
		},
		LogLevel: "info",
	}
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks the configuration for internal consistency and returns an
// error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Postgres.DSN == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty when dsn is unset")
		}
		if c.Postgres.Port <= 0 {
			errs = append(errs, "postgres: port must be positive")
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}

	if c.Chain.RPCURL == "" {
		errs = append(errs, "chain: rpc_url must not be empty")
	}

	if c.Feed.Enabled && c.Feed.URL == "" {
		errs = append(errs, "feed: url must not be empty when the feed is enabled")
	}
	if c.Feed.ArchiveRaw && !c.S3.Enabled {
		errs = append(errs, "feed: archive_raw requires s3 to be enabled")
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	if c.Relay.Enabled && c.Relay.BaseURL == "" {
		errs = append(errs, "relay: base_url must not be empty when the relay is enabled")
	}

	if c.Oracle.BaseURL == "" {
		errs = append(errs, "oracle: base_url must not be empty")
	}

	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server: port %d out of range", c.Server.Port))
	}

	if c.Jobs.Workers <= 0 {
		errs = append(errs, "jobs: workers must be positive")
	}
	if c.Jobs.MaxAttempts <= 0 {
		errs = append(errs, "jobs: max_attempts must be positive")
	}

	for name, addr := range map[string]string{
		"weth":              c.Contracts.WETH,
		"seaport_exchange":  c.Contracts.SeaportExchange,
		"seaport_conduit":   c.Contracts.SeaportConduit,
		"cryptopunks_market": c.Contracts.CryptoPunksMarket,
	} {
		if addr != "" && !common.IsHexAddress(addr) {
			errs = append(errs, fmt.Sprintf("contracts: %s is not a hex address", name))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}
