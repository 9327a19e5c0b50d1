package consensus_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/tolauction/consensus"
	"github.com/tolelom/tolauction/core"
	"github.com/tolelom/tolauction/events"
	"github.com/tolelom/tolauction/internal/testnode"
	"github.com/tolelom/tolauction/wallet"
)

func TestProduceBlockLeavesOutFailedTxs(t *testing.T) {
	alice, err := wallet.Generate()
	require.NoError(t, err)
	bob, err := wallet.Generate()
	require.NoError(t, err)
	n := testnode.New(t, testnode.WithAlloc(map[string]uint64{alice.PubKey(): 100}))

	var commits []events.Event
	n.Emitter.Subscribe(events.EventBlockCommit, func(ev events.Event) { commits = append(commits, ev) })

	ok, err := alice.Transfer(testnode.ChainID, bob.PubKey(), 60, 0, 0)
	require.NoError(t, err)
	tooMuch, err := bob.Transfer(testnode.ChainID, alice.PubKey(), 500, 0, 0)
	require.NoError(t, err)
	block := n.Commit(ok, tooMuch)

	require.Len(t, block.Transactions, 1)
	assert.Equal(t, ok.ID, block.Transactions[0].ID)
	assert.Equal(t, core.ComputeTxRoot(block.Transactions), block.Header.TxRoot)
	assert.Zero(t, n.Mempool.Size(), "failed candidates are dropped from the mempool")

	rc := n.Receipt(tooMuch.ID)
	assert.Equal(t, core.ReceiptFailed, rc.Status)
	assert.Equal(t, block.Header.Height, rc.BlockHeight)

	assert.Equal(t, uint64(40), n.Balance(alice.PubKey()))
	assert.Equal(t, uint64(60), n.Balance(bob.PubKey()))

	require.Len(t, commits, 1)
	assert.EqualValues(t, 1, commits[0].Data["txs"])
	assert.EqualValues(t, 1, commits[0].Data["failed"])
}

func TestProduceBlockRequiresProposer(t *testing.T) {
	n := testnode.New(t)
	outsider, err := wallet.Generate()
	require.NoError(t, err)

	poa := consensus.New(n.Config, n.Chain, n.State, n.Mempool, n.Exec, n.Emitter, outsider.PrivKey(), nil)
	assert.False(t, poa.IsProposer())
	_, err = poa.ProduceBlock()
	assert.ErrorIs(t, err, consensus.ErrNotProposer)
}

func TestFollowerImportsBlocks(t *testing.T) {
	seller, err := wallet.Generate()
	require.NoError(t, err)
	alice, err := wallet.Generate()
	require.NoError(t, err)
	leader := testnode.New(t, testnode.WithAlloc(map[string]uint64{alice.PubKey(): 300}))
	follower := leader.Follower()

	reg, err := seller.RegisterTemplate(testnode.ChainID, core.RegisterTemplatePayload{ID: "maps", Tradeable: true}, 0, 0)
	require.NoError(t, err)
	mint, err := seller.MintAsset(testnode.ChainID, "maps", "", nil, 1, 0)
	require.NoError(t, err)
	b1 := leader.Commit(reg, mint)

	owned, err := leader.Indexer.GetAssetsByOwner(seller.PubKey())
	require.NoError(t, err)
	require.Len(t, owned, 1)
	ref := core.AssetRef{Collection: "maps", AssetID: owned[0]}

	create, err := seller.CreateAuction(testnode.ChainID, ref, 5, 60, 2, 0)
	require.NoError(t, err)
	b2 := leader.Commit(create)
	bid, err := alice.Bid(testnode.ChainID, 0, 25, 100, 0, 0)
	require.NoError(t, err)
	b3 := leader.Commit(bid)

	for _, b := range []*core.Block{b1, b2, b3} {
		require.NoError(t, follower.PoA.ImportBlock(b))
	}
	assert.Equal(t, leader.Chain.Height(), follower.Chain.Height())
	assert.Equal(t, uint64(200), follower.Balance(alice.PubKey()))

	a, err := follower.View().GetAuction(0)
	require.NoError(t, err)
	assert.Equal(t, alice.PubKey(), a.HighestBidder)

	rc := follower.Receipt(bid.ID)
	assert.Equal(t, core.ReceiptOK, rc.Status)
}

func TestImportRejectsTamperedBlock(t *testing.T) {
	alice, err := wallet.Generate()
	require.NoError(t, err)
	leader := testnode.New(t, testnode.WithAlloc(map[string]uint64{alice.PubKey(): 300}))
	follower := leader.Follower()

	tx, err := alice.Transfer(testnode.ChainID, leader.Operator.PubKey(), 10, 0, 0)
	require.NoError(t, err)
	block := leader.Commit(tx)

	forged := *block
	forged.Header.StateRoot = "00"
	assert.Error(t, follower.PoA.ImportBlock(&forged))

	dropped := *block
	dropped.Transactions = nil
	assert.Error(t, follower.PoA.ImportBlock(&dropped))

	require.NoError(t, follower.PoA.ImportBlock(block))
	assert.Equal(t, uint64(290), follower.Balance(alice.PubKey()))
}
