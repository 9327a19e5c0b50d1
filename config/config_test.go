package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/tolauction/crypto"
	"github.com/tolelom/tolauction/house"
	"github.com/tolelom/tolauction/internal/testutil"
	"github.com/tolelom/tolauction/storage"
)

func TestParsePercent(t *testing.T) {
	cases := map[string]uint32{
		"2.5":    250,
		"0":      0,
		"100":    10_000,
		"0.01":   1,
		"12.340": 1234,
		"":       0,
	}
	for in, want := range cases {
		got, err := ParsePercent(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, bad := range []string{"-1", "100.01", "0.005", "abc"} {
		_, err := ParsePercent(bad)
		assert.Error(t, err, bad)
	}
	_, err := ParsePercent("101")
	assert.ErrorIs(t, err, house.ErrRateOutOfBounds)
}

func TestFormatPercent(t *testing.T) {
	assert.Equal(t, "2.5", FormatPercent(250))
	assert.Equal(t, "100", FormatPercent(10_000))
	assert.Equal(t, "0.01", FormatPercent(1))
	assert.Equal(t, "0", FormatPercent(0))
}

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
node_id = "house-1"
rpc_port = 9000
block_interval = "3s"
validators = ["aa"]

[genesis]
chain_id = "tolauction-test"
[genesis.alloc]
bb = 500

[[genesis.templates]]
id = "swords"
name = "Swords"
tradeable = true
creator = "bb"

[[peers]]
id = "authority"
addr = "10.0.0.1:30303"

[tls]
ca_cert = "certs/ca.crt"
node_cert = "certs/house-1.crt"
node_key = "certs/house-1.key"

[house]
operator = "cc"
commission_percent = "5"
block_time_seconds = 3
min_duration_seconds = 90
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "house-1", cfg.NodeID)
	assert.Equal(t, 9000, cfg.RPCPort)
	assert.Equal(t, 3*time.Second, cfg.BlockInterval.Duration)
	assert.Equal(t, 500, cfg.MaxBlockTxs)
	assert.Equal(t, uint64(500), cfg.Genesis.Alloc["bb"])
	require.Len(t, cfg.Genesis.Templates, 1)
	assert.Equal(t, "swords", cfg.Genesis.Templates[0].ID)
	assert.Equal(t, 30303, cfg.P2PPort)
	assert.Equal(t, []PeerConfig{{ID: "authority", Addr: "10.0.0.1:30303"}}, cfg.Peers)
	assert.True(t, cfg.TLS.Enabled())
	assert.Equal(t, "certs/house-1.key", cfg.TLS.NodeKey)
	assert.True(t, cfg.IsValidator("aa"))
	assert.False(t, cfg.IsValidator("bb"))

	params, err := cfg.HouseParams()
	require.NoError(t, err)
	assert.Equal(t, uint32(500), params.CommissionBps)
	assert.Equal(t, "cc", params.FeeAccount)
	assert.Equal(t, uint64(90), params.MinDurationSeconds)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.ErrorIs(t, err, os.ErrNotExist)
	require.NotNil(t, cfg)
	assert.Equal(t, "tolauction-dev", cfg.Genesis.ChainID)
}

func TestSaveRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.House.Operator = "op"
	path := filepath.Join(t.TempDir(), "out.toml")
	require.NoError(t, Save(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.BlockInterval, loaded.BlockInterval)
	assert.Equal(t, "op", loaded.House.Operator)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	assert.Error(t, cfg.Validate(), "operator is required")

	cfg.House.Operator = "op"
	require.NoError(t, cfg.Validate())

	cfg.House.BlockTimeSeconds = 0
	assert.Error(t, cfg.Validate())

	cfg.House.BlockTimeSeconds = 14
	cfg.House.MinDurationSeconds = 30
	assert.Error(t, cfg.Validate(), "auctions shorter than a minute")
	cfg.House.MinDurationSeconds = 0
	assert.Error(t, cfg.Validate())

	cfg.House.MinDurationSeconds = 60
	cfg.House.CommissionPercent = "150"
	assert.ErrorIs(t, cfg.Validate(), house.ErrRateOutOfBounds)

	cfg.House.CommissionPercent = "2.5"
	cfg.Peers = []PeerConfig{{ID: "authority"}}
	assert.Error(t, cfg.Validate(), "peer without addr")
}

func TestCreateGenesisBlock(t *testing.T) {
	cfg := DefaultConfig()
	cfg.House.Operator = "op"
	cfg.Genesis.Alloc["alice"] = 1000
	cfg.Genesis.Templates = []TemplateConfig{{ID: "swords", Name: "Swords", Tradeable: true, Creator: "alice"}}

	db := testutil.NewMemDB()
	state := storage.NewStateDB(db)
	priv, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	block, err := CreateGenesisBlock(cfg, state, priv)
	require.NoError(t, err)
	assert.Equal(t, int64(0), block.Header.Height)
	assert.True(t, IsGenesisHash(block.Header.PrevHash))

	// Committed: a fresh view over the DB sees the genesis state.
	view := storage.NewStateDB(db)
	acc, err := view.GetAccount("alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), acc.Balance)

	tmpl, err := view.GetTemplate("swords")
	require.NoError(t, err)
	assert.True(t, tmpl.Tradeable)

	params, err := view.GetHouseParams()
	require.NoError(t, err)
	assert.Equal(t, uint32(250), params.CommissionBps)
	assert.Equal(t, "op", params.Operator)
}

func TestSoloDefaultsOnlyWithoutPeers(t *testing.T) {
	solo := DefaultConfig()
	require.NoError(t, solo.UseSoloDefaults("me"))
	assert.Equal(t, []string{"me"}, solo.Validators)
	assert.Equal(t, "me", solo.House.Operator)
	require.NoError(t, solo.Validate())

	configured := DefaultConfig()
	configured.Validators = []string{"authority-key"}
	configured.House.Operator = "op"
	require.NoError(t, configured.UseSoloDefaults("me"))
	assert.Equal(t, []string{"authority-key"}, configured.Validators)
	assert.Equal(t, "op", configured.House.Operator)

	replica := DefaultConfig()
	replica.Peers = []PeerConfig{{ID: "authority", Addr: "10.0.0.1:30303"}}
	assert.Error(t, replica.UseSoloDefaults("me"))
	assert.Empty(t, replica.Validators, "a replica never promotes its own key")
	assert.Empty(t, replica.House.Operator)

	replica.House.Operator = "op"
	assert.Error(t, replica.UseSoloDefaults("me"), "validators still missing")
	assert.Error(t, replica.Validate())

	replica.Validators = []string{"authority-key"}
	require.NoError(t, replica.UseSoloDefaults("me"))
	require.NoError(t, replica.Validate())
	assert.False(t, replica.IsValidator("me"))
}
