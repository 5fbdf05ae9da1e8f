package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

// validConfig is Defaults plus the endpoints that have no sane default.
func validConfig() Config {
	cfg := Defaults()
	cfg.Feed.URL = "wss://feed.example.com/v1"
	cfg.Oracle.BaseURL = "https://oracle.example.com"
	return cfg
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidateCollectsAllProblems(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.LogLevel = "verbose"
	cfg.Redis.Addr = ""
	cfg.Jobs.Workers = 0
	cfg.Contracts.WETH = "not-an-address"

	err := cfg.Validate()
	require.Error(t, err)
	require.ErrorContains(t, err, "log_level")
	require.ErrorContains(t, err, "redis")
	require.ErrorContains(t, err, "workers")
	require.ErrorContains(t, err, "weth")
}

func TestValidateFeedRequiresURL(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Feed.URL = ""
	require.ErrorContains(t, cfg.Validate(), "feed")

	cfg.Feed.Enabled = false
	require.NoError(t, cfg.Validate())
}

func TestValidateArchiveRawRequiresS3(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Feed.ArchiveRaw = true
	require.ErrorContains(t, cfg.Validate(), "archive_raw")

	cfg.S3.Enabled = true
	require.NoError(t, cfg.Validate())
}

func TestLoadTOMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
log_level = "debug"

[postgres]
host = "db.internal"
port = 5433

[chain]
poll_interval = "3s"
confirmations = 5

[server]
port = 9090
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, "db.internal", cfg.Postgres.Host)
	require.Equal(t, 5433, cfg.Postgres.Port)
	require.Equal(t, 3*time.Second, cfg.Chain.PollInterval.Duration)
	require.Equal(t, uint64(5), cfg.Chain.Confirmations)
	require.Equal(t, 9090, cfg.Server.Port)

	// Untouched sections keep their defaults.
	require.Equal(t, "localhost:6379", cfg.Redis.Addr)
	require.Equal(t, 20, cfg.Engine.Concurrency)
}

func TestLoadEnvOverridesWinOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`[postgres]`+"\n"+`host = "from-file"`), 0o600))

	t.Setenv("NFTINDEX_POSTGRES_HOST", "from-env")
	t.Setenv("NFTINDEX_POSTGRES_PASSWORD", "s3cret")
	t.Setenv("NFTINDEX_CHAIN_POLL_INTERVAL", "500ms")
	t.Setenv("NFTINDEX_FEED_SOURCES", "opensea, looksrare ,x2y2")
	t.Setenv("NFTINDEX_SERVER_ENABLED", "false")

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "from-env", cfg.Postgres.Host)
	require.Equal(t, "s3cret", cfg.Postgres.Password)
	require.Equal(t, 500*time.Millisecond, cfg.Chain.PollInterval.Duration)
	require.Equal(t, []string{"opensea", "looksrare", "x2y2"}, cfg.Feed.Sources)
	require.False(t, cfg.Server.Enabled)
}

func TestLoadMissingFileFails(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestContractsProtocolParsesAddresses(t *testing.T) {
	t.Parallel()

	p := Defaults().Contracts.Protocol()
	require.Equal(t, common.HexToAddress("0x00000000000000ADc04C56Bf30aC9d3c0aAF14dC"), p.SeaportExchange)
	require.Equal(t, common.HexToAddress("0xb47e3cd837dDF8e4c57F05d70Ab865de6e193BBB"), p.CryptoPunksMarket)
	require.Equal(t, 200, p.LooksRareFeeBps)
	require.Equal(t, common.Address{}, p.NativeToken, "native coin is the zero-address sentinel")
}
