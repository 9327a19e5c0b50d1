// Package config loads the node configuration, including the auction house
// parameters fixed at genesis.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/shopspring/decimal"

	"github.com/tolelom/tolauction/core"
	"github.com/tolelom/tolauction/house"
)

// Duration is a time.Duration written as a string ("2s", "1m30s") in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// TemplateConfig is an asset template created at genesis.
type TemplateConfig struct {
	ID        string `toml:"id"`
	Name      string `toml:"name"`
	Tradeable bool   `toml:"tradeable"`
	Creator   string `toml:"creator"` // pubkey hex allowed to mint
}

// GenesisConfig describes the chain's initial state.
type GenesisConfig struct {
	ChainID   string            `toml:"chain_id"`
	Alloc     map[string]uint64 `toml:"alloc"` // pubkey hex → initial balance
	Templates []TemplateConfig  `toml:"templates"`
}

// PeerConfig is a node to replicate from.
type PeerConfig struct {
	ID   string `toml:"id"`
	Addr string `toml:"addr"` // host:port of the peer's p2p listener
}

// TLSConfig holds PEM paths for mutual TLS between nodes. All empty means
// plain TCP.
type TLSConfig struct {
	CACert   string `toml:"ca_cert"`
	NodeCert string `toml:"node_cert"`
	NodeKey  string `toml:"node_key"`
}

// HouseConfig holds the auction house parameters.
type HouseConfig struct {
	Operator   string `toml:"operator"`    // pubkey hex that may cancel and pause
	FeeAccount string `toml:"fee_account"` // ledger identity credited with the house cut
	// CommissionPercent is a decimal percent, e.g. "2.5".
	CommissionPercent  string `toml:"commission_percent"`
	BlockTimeSeconds   uint64 `toml:"block_time_seconds"`
	MinDurationSeconds uint64 `toml:"min_duration_seconds"`
}

// Config holds all node configuration.
type Config struct {
	NodeID        string        `toml:"node_id"`
	DataDir       string        `toml:"data_dir"`
	RPCPort       int           `toml:"rpc_port"`
	RPCAuthToken  string        `toml:"rpc_auth_token"` // empty disables bearer auth
	P2PPort       int           `toml:"p2p_port"`       // 0 disables replication
	Peers         []PeerConfig  `toml:"peers"`
	TLS           TLSConfig     `toml:"tls"`
	BlockInterval Duration      `toml:"block_interval"`
	MaxBlockTxs   int           `toml:"max_block_txs"` // max transactions per block; 0 → 500
	LogLevel      string        `toml:"log_level"`
	Validators    []string      `toml:"validators"` // authorised proposer pubkey hexes
	Genesis       GenesisConfig `toml:"genesis"`
	House         HouseConfig   `toml:"house"`
}

// DefaultConfig returns a single-node development configuration. The
// operator and fee account are left empty; Validate requires the operator.
func DefaultConfig() *Config {
	return &Config{
		NodeID:        "node0",
		DataDir:       "./data",
		RPCPort:       8545,
		P2PPort:       30303,
		BlockInterval: Duration{14 * time.Second},
		MaxBlockTxs:   500,
		LogLevel:      "info",
		Genesis: GenesisConfig{
			ChainID: "tolauction-dev",
			Alloc:   map[string]uint64{},
		},
		House: HouseConfig{
			CommissionPercent:  "2.5",
			BlockTimeSeconds:   14,
			MinDurationSeconds: 60,
		},
	}
}

// Load reads a TOML config file from path on top of the defaults. A missing
// file yields the defaults and an error wrapping os.ErrNotExist.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, err
		}
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config to path as TOML.
func Save(cfg *Config, path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

// Validate checks the fields the node cannot run without.
func (c *Config) Validate() error {
	if c.Genesis.ChainID == "" {
		return errors.New("genesis.chain_id is required")
	}
	if c.BlockInterval.Duration <= 0 {
		return errors.New("block_interval must be positive")
	}
	if c.House.Operator == "" {
		return errors.New("house.operator is required")
	}
	if c.House.BlockTimeSeconds == 0 {
		return errors.New("house.block_time_seconds must be > 0")
	}
	if c.House.MinDurationSeconds < house.MinAuctionSeconds {
		return fmt.Errorf("house.min_duration_seconds must be at least %d", house.MinAuctionSeconds)
	}
	if _, err := ParsePercent(c.House.CommissionPercent); err != nil {
		return fmt.Errorf("house.commission_percent: %w", err)
	}
	if c.P2PPort < 0 || c.P2PPort > 65535 {
		return fmt.Errorf("p2p_port %d out of range", c.P2PPort)
	}
	for i, p := range c.Peers {
		if p.ID == "" || p.Addr == "" {
			return fmt.Errorf("peers[%d]: id and addr are required", i)
		}
	}
	if len(c.Peers) > 0 && len(c.Validators) == 0 {
		return errors.New("validators are required when peers are configured")
	}
	return nil
}

// UseSoloDefaults makes pubHex the validator and house operator when either
// is unset. Only a node without peers gets these defaults: a replica must
// rebuild the authority's genesis, so it has to name both explicitly.
func (c *Config) UseSoloDefaults(pubHex string) error {
	if len(c.Peers) > 0 {
		if len(c.Validators) == 0 || c.House.Operator == "" {
			return errors.New("validators and house.operator must be set when peers are configured")
		}
		return nil
	}
	if len(c.Validators) == 0 {
		c.Validators = []string{pubHex}
	}
	if c.House.Operator == "" {
		c.House.Operator = pubHex
	}
	return nil
}

// IsValidator reports whether pubHex may propose blocks.
func (c *Config) IsValidator(pubHex string) bool {
	for _, v := range c.Validators {
		if v == pubHex {
			return true
		}
	}
	return false
}

// HouseParams converts the house section into the parameters stored at genesis.
func (c *Config) HouseParams() (*core.HouseParams, error) {
	bps, err := ParsePercent(c.House.CommissionPercent)
	if err != nil {
		return nil, err
	}
	feeAccount := c.House.FeeAccount
	if feeAccount == "" {
		feeAccount = c.House.Operator
	}
	return &core.HouseParams{
		Operator:           c.House.Operator,
		FeeAccount:         feeAccount,
		CommissionBps:      bps,
		BlockTimeSeconds:   c.House.BlockTimeSeconds,
		MinDurationSeconds: c.House.MinDurationSeconds,
	}, nil
}

var hundred = decimal.NewFromInt(100)

// ParsePercent converts a decimal percent such as "2.5" into basis points.
// Values outside [0, 100] or finer than one basis point are rejected.
func ParsePercent(s string) (uint32, error) {
	if s == "" {
		return 0, nil
	}
	pct, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse percent %q: %w", s, err)
	}
	if pct.IsNegative() || pct.GreaterThan(hundred) {
		return 0, fmt.Errorf("percent %s: %w", s, house.ErrRateOutOfBounds)
	}
	bps := pct.Shift(2)
	if !bps.Equal(bps.Truncate(0)) {
		return 0, fmt.Errorf("percent %s is finer than one basis point: %w", s, house.ErrRateOutOfBounds)
	}
	v := uint32(bps.IntPart())
	if err := house.ValidateRate(v); err != nil {
		return 0, err
	}
	return v, nil
}

// FormatPercent renders basis points as a decimal percent ("250" → "2.5").
func FormatPercent(bps uint32) string {
	return decimal.New(int64(bps), -2).String()
}
