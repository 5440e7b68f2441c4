package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/tolstake/clock"
	"github.com/tolelom/tolstake/crypto"
	"github.com/tolelom/tolstake/events"
	"github.com/tolelom/tolstake/internal/testutil"
	"github.com/tolelom/tolstake/ledger"
)

const sample = `
data_dir = "/var/lib/tolstake"
allow_time_override = true

[rpc]
addr = "0.0.0.0:9000"
allowed_origins = ["https://app.example"]

[clock]
ntp_server = "pool.ntp.org"
max_offset = "500ms"

[[genesis.alloc]]
token = "TOK"
address = "admin"
balance = 1000

[[genesis.pools]]
id = "p1"
admin = "admin"
token = "TOK"
reward_rate = 10
fund = 400
`

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tolstake.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadTOML(t *testing.T) {
	cfg, err := Load(writeFile(t, sample))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/var/lib/tolstake", cfg.DataDir)
	assert.True(t, cfg.AllowTimeOverride)
	assert.Equal(t, "0.0.0.0:9000", cfg.RPC.Addr)
	assert.Equal(t, []string{"https://app.example"}, cfg.RPC.AllowedOrigins)
	assert.Equal(t, 500*time.Millisecond, cfg.Clock.MaxOffset.Duration)
	assert.Equal(t, 4096, cfg.CacheSize) // default kept
	require.Len(t, cfg.Genesis.Pools, 1)
	assert.Equal(t, uint64(400), cfg.Genesis.Pools[0].Fund)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TOLSTAKE_RPC_ADDR", "127.0.0.1:1")
	t.Setenv("TOLSTAKE_RPC_ALLOWED_ORIGINS", "a, b,")
	t.Setenv("TOLSTAKE_ALLOW_TIME_OVERRIDE", "true")
	t.Setenv("TOLSTAKE_CACHE_SIZE", "not-a-number")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:1", cfg.RPC.Addr)
	assert.Equal(t, []string{"a", "b"}, cfg.RPC.AllowedOrigins)
	assert.True(t, cfg.AllowTimeOverride)
	assert.Equal(t, 4096, cfg.CacheSize)
}

func TestSaveRoundTrip(t *testing.T) {
	cfg, err := Load(writeFile(t, sample))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "out.toml")
	require.NoError(t, Save(cfg, path))
	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.DataDir = ""
	cfg.Verbosity = 9
	cfg.RPC.TLS.Cert = "cert.pem"
	cfg.Genesis.Pools = []GenesisPool{
		{ID: "x", Admin: "a", Token: "T", RewardRate: 101},
		{ID: "x", Admin: "a", Token: "T"},
	}
	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"data_dir", "verbosity", "cert and key", "reward_rate", "duplicate id"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestLoadTLSConfigEmpty(t *testing.T) {
	tc, err := LoadTLSConfig(&TLSConfig{})
	require.NoError(t, err)
	assert.Nil(t, tc)

	_, err = LoadTLSConfig(&TLSConfig{Cert: "missing.pem", Key: "missing.key"})
	assert.Error(t, err)
}

func TestApplyGenesis(t *testing.T) {
	cfg, err := Load(writeFile(t, sample))
	require.NoError(t, err)
	state := testutil.NewStateDB()
	em := events.NewEmitter()
	var seen []events.EventType
	em.SubscribeAll(func(ev events.Event) { seen = append(seen, ev.Type) })

	root, ran, err := ApplyGenesis(cfg, state, clock.NewManual(100), em)
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, root, state.ComputeRoot())
	assert.Equal(t, []events.EventType{events.EventPoolInitialized, events.EventPoolFunded}, seen)

	bank := ledger.NewStateBank(state)
	bal, err := bank.BalanceOf("TOK", "admin")
	require.NoError(t, err)
	assert.Equal(t, uint64(600), bal)
	custody, err := bank.BalanceOf("TOK", crypto.CustodyAddress("p1"))
	require.NoError(t, err)
	assert.Equal(t, uint64(400), custody)

	pool, err := state.GetPool("p1")
	require.NoError(t, err)
	assert.Equal(t, uint64(400), pool.RewardBudget)
	assert.Equal(t, int64(100), pool.CreatedAt)

	again, ran, err := ApplyGenesis(cfg, state, clock.NewManual(200), em)
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Equal(t, root, again)
	assert.Len(t, seen, 2)
}

func TestApplyGenesisFailureLeavesNothing(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Genesis.Pools = []GenesisPool{{ID: "p", Admin: "admin", Token: "TOK", Fund: 10}}
	state := testutil.NewStateDB()
	empty := state.ComputeRoot()

	_, _, err := ApplyGenesis(cfg, state, clock.NewManual(0), nil)
	require.Error(t, err)
	assert.Equal(t, empty, state.ComputeRoot())
}
