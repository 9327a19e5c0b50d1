package config

import (
	"strings"

	"github.com/tolelom/tolauction/core"
	"github.com/tolelom/tolauction/crypto"
)

// GenesisHash is a canonical all-zeros previous hash for the genesis block.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// ApplyGenesis writes the initial balances, templates and house parameters
// into state without committing.
func ApplyGenesis(cfg *Config, state core.State) error {
	for pubkeyHex, balance := range cfg.Genesis.Alloc {
		acc := &core.Account{
			Address: pubkeyHex,
			Balance: balance,
		}
		if err := state.SetAccount(acc); err != nil {
			return err
		}
	}
	for _, t := range cfg.Genesis.Templates {
		if err := state.SetTemplate(&core.AssetTemplate{
			ID:        t.ID,
			Name:      t.Name,
			Tradeable: t.Tradeable,
			Creator:   t.Creator,
		}); err != nil {
			return err
		}
	}
	params, err := cfg.HouseParams()
	if err != nil {
		return err
	}
	if err := state.SetHouseParams(params); err != nil {
		return err
	}
	return state.SetHouseTotals(&core.HouseTotals{})
}

// CreateGenesisBlock builds and signs block #0, applying and committing the
// genesis state.
func CreateGenesisBlock(cfg *Config, state core.State, proposerPriv crypto.PrivateKey) (*core.Block, error) {
	if err := ApplyGenesis(cfg, state); err != nil {
		state.Discard()
		return nil, err
	}

	stateRoot := state.ComputeRoot()
	if err := state.Commit(); err != nil {
		return nil, err
	}

	block := core.NewBlock(0, GenesisHash, proposerPriv.Public().Hex(), nil)
	block.Header.StateRoot = stateRoot
	// TxRoot of the genesis block identifies the chain.
	block.Header.TxRoot = crypto.Hash([]byte(cfg.Genesis.ChainID))
	block.Sign(proposerPriv)
	return block, nil
}

// IsGenesisHash returns true if the hash is the canonical genesis prev-hash.
func IsGenesisHash(h string) bool {
	return strings.Count(h, "0") == len(h) && len(h) == 64
}
