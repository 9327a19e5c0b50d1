// Package testnode assembles a complete in-memory node for tests: state,
// chain, executor, consensus, indexer and RPC handler, with blocks produced
// on demand instead of by a ticker.
package testnode

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tolelom/tolauction/config"
	"github.com/tolelom/tolauction/consensus"
	"github.com/tolelom/tolauction/core"
	"github.com/tolelom/tolauction/events"
	"github.com/tolelom/tolauction/indexer"
	"github.com/tolelom/tolauction/internal/testutil"
	"github.com/tolelom/tolauction/rpc"
	"github.com/tolelom/tolauction/storage"
	"github.com/tolelom/tolauction/vm"
	"github.com/tolelom/tolauction/wallet"

	_ "github.com/tolelom/tolauction/vm/modules/asset"
	_ "github.com/tolelom/tolauction/vm/modules/auction"
	_ "github.com/tolelom/tolauction/vm/modules/economy"
)

// ChainID is the chain id of every test node.
const ChainID = "tolauction-test"

// Node is an in-memory auction house node.
type Node struct {
	t testing.TB

	Config    *config.Config
	DB        *testutil.MemDB
	State     *storage.StateDB
	Chain     *core.Blockchain
	Mempool   *core.Mempool
	Emitter   *events.Emitter
	Exec      *vm.Executor
	PoA       *consensus.PoA
	Indexer   *indexer.Indexer
	RPC       *rpc.Handler
	Validator *wallet.Wallet
	Operator  *wallet.Wallet
}

// New starts a node whose genesis is the default config with a validator,
// an operator, and the given adjustments applied.
func New(t testing.TB, opts ...func(*config.Config)) *Node {
	t.Helper()
	validator, err := wallet.Generate()
	require.NoError(t, err)
	operator, err := wallet.Generate()
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	cfg.Validators = []string{validator.PubKey()}
	cfg.Genesis.ChainID = ChainID
	cfg.House.Operator = operator.PubKey()
	for _, opt := range opts {
		opt(cfg)
	}
	require.NoError(t, cfg.Validate())

	n := assemble(t, cfg, validator, operator)
	genesis, err := config.CreateGenesisBlock(cfg, n.State, validator.PrivKey())
	require.NoError(t, err)
	require.NoError(t, n.Chain.AddBlock(genesis))
	return n
}

// Replica starts a second node on the genesis config of n with no blocks.
// It shares no storage with n and adopts n's chain through replication.
func (n *Node) Replica() *Node {
	n.t.Helper()
	r := assemble(n.t, n.Config, n.Validator, n.Operator)
	require.NoError(n.t, config.ApplyGenesis(n.Config, r.State))
	require.NoError(n.t, r.State.Commit())
	return r
}

// Follower is a Replica that has already adopted n's genesis block.
func (n *Node) Follower() *Node {
	n.t.Helper()
	f := n.Replica()
	genesis, err := n.Chain.GetBlockByHeight(0)
	require.NoError(n.t, err)
	require.NoError(n.t, f.PoA.ImportGenesis(genesis))
	return f
}

func assemble(t testing.TB, cfg *config.Config, validator, operator *wallet.Wallet) *Node {
	t.Helper()
	log := zaptest.NewLogger(t)

	db := testutil.NewMemDB()
	state := storage.NewStateDB(db)
	bc := core.NewBlockchain(storage.NewBlockStore(db))
	require.NoError(t, bc.Init())

	emitter := events.NewEmitter(log)
	idx, err := indexer.New(db, emitter, log)
	require.NoError(t, err)
	mempool := core.NewMempool()
	exec := vm.NewExecutor(state, emitter, log)
	exec.RequireChainID(cfg.Genesis.ChainID)

	return &Node{
		t:         t,
		Config:    cfg,
		DB:        db,
		State:     state,
		Chain:     bc,
		Mempool:   mempool,
		Emitter:   emitter,
		Exec:      exec,
		PoA:       consensus.New(cfg, bc, state, mempool, exec, emitter, validator.PrivKey(), log),
		Indexer:   idx,
		RPC:       rpc.NewHandler(bc, mempool, db, idx, cfg.Genesis.ChainID, log),
		Validator: validator,
		Operator:  operator,
	}
}

// WithAlloc funds accounts at genesis.
func WithAlloc(alloc map[string]uint64) func(*config.Config) {
	return func(c *config.Config) {
		for k, v := range alloc {
			c.Genesis.Alloc[k] = v
		}
	}
}

// Produce seals the next block from the mempool.
func (n *Node) Produce() *core.Block {
	n.t.Helper()
	block, err := n.PoA.ProduceBlock()
	require.NoError(n.t, err)
	return block
}

// Commit submits txs and seals them into the next block.
func (n *Node) Commit(txs ...*core.Transaction) *core.Block {
	n.t.Helper()
	for _, tx := range txs {
		require.NoError(n.t, n.Mempool.Add(tx))
	}
	return n.Produce()
}

// AdvanceTo produces empty blocks until the chain reaches height.
func (n *Node) AdvanceTo(height int64) {
	n.t.Helper()
	for n.Chain.Height() < height {
		n.Produce()
	}
}

// View opens a read view of committed state.
func (n *Node) View() *storage.StateDB {
	return storage.NewStateDB(n.DB)
}

// Nonce returns the committed nonce of w.
func (n *Node) Nonce(w *wallet.Wallet) uint64 {
	n.t.Helper()
	acc, err := n.View().GetAccount(w.PubKey())
	require.NoError(n.t, err)
	return acc.Nonce
}

// Balance returns the committed native balance of addr.
func (n *Node) Balance(addr string) uint64 {
	n.t.Helper()
	acc, err := n.View().GetAccount(addr)
	require.NoError(n.t, err)
	return acc.Balance
}

// Receipt returns the indexed receipt of txID.
func (n *Node) Receipt(txID string) *core.Receipt {
	n.t.Helper()
	rc, err := n.Indexer.GetReceipt(txID)
	require.NoError(n.t, err)
	return rc
}
