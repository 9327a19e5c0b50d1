package network_test

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tolelom/tolauction/config"
	"github.com/tolelom/tolauction/core"
	"github.com/tolelom/tolauction/crypto/certgen"
	"github.com/tolelom/tolauction/internal/testnode"
	"github.com/tolelom/tolauction/network"
	"github.com/tolelom/tolauction/rpc"
	"github.com/tolelom/tolauction/wallet"
)

const (
	waitFor = 5 * time.Second
	tick    = 10 * time.Millisecond
)

type link struct {
	node *network.Node
	repl *network.Replicator
}

func start(t *testing.T, n *testnode.Node, id string, tlsCfg *tls.Config) link {
	t.Helper()
	p2p := network.NewNode(id, "127.0.0.1:0", tlsCfg, zaptest.NewLogger(t))
	repl := network.NewReplicator(p2p, n.Chain, n.PoA, n.Mempool, zaptest.NewLogger(t))
	require.NoError(t, p2p.Start())
	t.Cleanup(p2p.Stop)
	return link{node: p2p, repl: repl}
}

func connect(t *testing.T, replica, authority link) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, replica.repl.Connect(ctx, "authority", authority.node.Addr().String()))
}

func caughtUp(leader, replica *testnode.Node) func() bool {
	return func() bool {
		return replica.Chain.Tip() != nil && replica.Chain.Height() == leader.Chain.Height()
	}
}

func funded(t *testing.T) (*testnode.Node, *wallet.Wallet, *wallet.Wallet) {
	t.Helper()
	alice, err := wallet.Generate()
	require.NoError(t, err)
	bob, err := wallet.Generate()
	require.NoError(t, err)
	leader := testnode.New(t, testnode.WithAlloc(map[string]uint64{alice.PubKey(): 1000}))
	return leader, alice, bob
}

func TestReplicaSyncsOnConnect(t *testing.T) {
	leader, alice, bob := funded(t)
	tx, err := alice.Transfer(testnode.ChainID, bob.PubKey(), 10, 0, 1)
	require.NoError(t, err)
	leader.Commit(tx)
	leader.AdvanceTo(3)

	replica := leader.Replica()
	auth := start(t, leader, "authority", nil)
	connect(t, start(t, replica, "replica", nil), auth)

	require.Eventually(t, caughtUp(leader, replica), waitFor, tick)
	assert.Equal(t, uint64(10), replica.Balance(bob.PubKey()))
	assert.Equal(t, uint64(989), replica.Balance(alice.PubKey()))
	assert.Equal(t, leader.State.ComputeRoot(), replica.State.ComputeRoot())

	want, err := leader.Chain.GetBlockByHeight(1)
	require.NoError(t, err)
	got, err := replica.Chain.GetBlockByHeight(1)
	require.NoError(t, err)
	assert.Equal(t, want.Hash, got.Hash)
}

func TestSyncFollowsBatches(t *testing.T) {
	leader := testnode.New(t)
	leader.AdvanceTo(120)

	replica := leader.Replica()
	auth := start(t, leader, "authority", nil)
	connect(t, start(t, replica, "replica", nil), auth)

	require.Eventually(t, caughtUp(leader, replica), waitFor, tick)
}

func TestCommittedBlocksAreAnnounced(t *testing.T) {
	leader, alice, bob := funded(t)
	replica := leader.Replica()

	auth := start(t, leader, "authority", nil)
	auth.repl.AnnounceCommits(leader.Emitter)
	connect(t, start(t, replica, "replica", nil), auth)
	require.Eventually(t, caughtUp(leader, replica), waitFor, tick)
	require.Eventually(t, func() bool { return auth.node.PeerCount() == 1 }, waitFor, tick)

	tx, err := alice.Transfer(testnode.ChainID, bob.PubKey(), 25, 0, 0)
	require.NoError(t, err)
	leader.Commit(tx)
	leader.Produce()

	require.Eventually(t, caughtUp(leader, replica), waitFor, tick)
	assert.Equal(t, int64(2), replica.Chain.Height())
	assert.Equal(t, uint64(25), replica.Balance(bob.PubKey()))
}

func TestReplicaRelaysTransactions(t *testing.T) {
	leader, alice, bob := funded(t)
	replica := leader.Replica()

	auth := start(t, leader, "authority", nil)
	auth.repl.AnnounceCommits(leader.Emitter)
	rep := start(t, replica, "replica", nil)
	replica.RPC.OnTxAccepted(rep.repl.BroadcastTx)
	connect(t, rep, auth)
	require.Eventually(t, caughtUp(leader, replica), waitFor, tick)

	tx, err := alice.Transfer(testnode.ChainID, bob.PubKey(), 40, 0, 0)
	require.NoError(t, err)
	params, err := json.Marshal(tx)
	require.NoError(t, err)
	resp := replica.RPC.Dispatch(rpc.Request{JSONRPC: "2.0", ID: 1, Method: "sendTx", Params: params})
	require.Nil(t, resp.Error)
	assert.Equal(t, 1, replica.Mempool.Size())

	require.Eventually(t, func() bool { return leader.Mempool.Size() == 1 }, waitFor, tick)
	leader.Produce()

	require.Eventually(t, caughtUp(leader, replica), waitFor, tick)
	assert.Equal(t, uint64(40), replica.Balance(bob.PubKey()))
	assert.Equal(t, 0, replica.Mempool.Size(), "included txs leave the replica's mempool")
	assert.Equal(t, core.ReceiptOK, replica.Receipt(tx.ID).Status)
}

func TestReplicationOverMutualTLS(t *testing.T) {
	dir := t.TempDir()
	load := func(id string) *tls.Config {
		files, err := certgen.Issue(dir, id, certgen.Options{})
		require.NoError(t, err)
		cfg, err := config.TLSConfig{CACert: files.CACert, NodeCert: files.NodeCert, NodeKey: files.NodeKey}.Load()
		require.NoError(t, err)
		return cfg
	}

	leader, alice, bob := funded(t)
	tx, err := alice.Transfer(testnode.ChainID, bob.PubKey(), 5, 0, 0)
	require.NoError(t, err)
	leader.Commit(tx)

	replica := leader.Replica()
	auth := start(t, leader, "authority", load("authority"))
	connect(t, start(t, replica, "replica", load("replica")), auth)

	require.Eventually(t, caughtUp(leader, replica), waitFor, tick)
	assert.Equal(t, uint64(5), replica.Balance(bob.PubKey()))
}

func TestPlainPeerCannotJoinTLSNetwork(t *testing.T) {
	files, err := certgen.Issue(t.TempDir(), "authority", certgen.Options{})
	require.NoError(t, err)
	tlsCfg, err := config.TLSConfig{CACert: files.CACert, NodeCert: files.NodeCert, NodeKey: files.NodeKey}.Load()
	require.NoError(t, err)

	leader := testnode.New(t)
	leader.AdvanceTo(2)
	auth := start(t, leader, "authority", tlsCfg)

	replica := leader.Replica()
	rep := start(t, replica, "replica", nil)
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	// The plain dial succeeds at TCP level; the handshake never completes.
	_ = rep.repl.Connect(ctx, "authority", auth.node.Addr().String())

	assert.Never(t, func() bool { return replica.Chain.Tip() != nil }, 300*time.Millisecond, tick)
}
