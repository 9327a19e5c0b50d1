package rpc_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/tolauction/core"
	"github.com/tolelom/tolauction/internal/testnode"
	"github.com/tolelom/tolauction/rpc"
	"github.com/tolelom/tolauction/wallet"
)

type client struct {
	t     *testing.T
	srv   *httptest.Server
	token string
}

func newClient(t *testing.T, n *testnode.Node, token string) *client {
	t.Helper()
	srv := httptest.NewServer(rpc.NewServer("", n.RPC, token, nil))
	t.Cleanup(srv.Close)
	return &client{t: t, srv: srv, token: token}
}

func (c *client) post(method string, params any, header http.Header) (*http.Response, rpc.Response) {
	c.t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(c.t, err)
	body, err := json.Marshal(rpc.Request{JSONRPC: "2.0", ID: 1, Method: method, Params: raw})
	require.NoError(c.t, err)

	req, err := http.NewRequest(http.MethodPost, c.srv.URL, bytes.NewReader(body))
	require.NoError(c.t, err)
	for k, vs := range header {
		req.Header[k] = vs
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	httpResp, err := c.srv.Client().Do(req)
	require.NoError(c.t, err)
	defer httpResp.Body.Close()

	var resp struct {
		rpc.Response
		Result json.RawMessage `json:"result"`
	}
	require.NoError(c.t, json.NewDecoder(httpResp.Body).Decode(&resp))
	resp.Response.Result = resp.Result
	return httpResp, resp.Response
}

// call invokes method and decodes its result into out. It returns the
// JSON-RPC error, if any.
func (c *client) call(method string, params, out any) *rpc.Error {
	c.t.Helper()
	_, resp := c.post(method, params, nil)
	if resp.Error != nil {
		return resp.Error
	}
	if out != nil {
		require.NoError(c.t, json.Unmarshal(resp.Result.(json.RawMessage), out))
	}
	return nil
}

func TestGetBlockHeight(t *testing.T) {
	n := testnode.New(t)
	c := newClient(t, n, "")

	var height int64
	require.Nil(t, c.call("getBlockHeight", struct{}{}, &height))
	assert.Equal(t, int64(0), height)

	n.Produce()
	require.Nil(t, c.call("getBlockHeight", struct{}{}, &height))
	assert.Equal(t, int64(1), height)

	var block core.Block
	require.Nil(t, c.call("getBlock", map[string]int64{"height": 1}, &block))
	assert.Equal(t, n.Chain.Tip().Hash, block.Hash)
}

func TestGetBalanceUnknownAccount(t *testing.T) {
	c := newClient(t, testnode.New(t), "")

	var acc core.Account
	require.Nil(t, c.call("getBalance", map[string]string{"address": "nonexistent"}, &acc))
	assert.Zero(t, acc.Balance)
}

func TestGetMempoolSize(t *testing.T) {
	c := newClient(t, testnode.New(t), "")

	var size int
	require.Nil(t, c.call("getMempoolSize", struct{}{}, &size))
	assert.Zero(t, size)
}

func TestMethodNotFound(t *testing.T) {
	c := newClient(t, testnode.New(t), "")

	rpcErr := c.call("nonExistentMethod", struct{}{}, nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, rpc.CodeMethodNotFound, rpcErr.Code)
}

func TestGetHouseParams(t *testing.T) {
	n := testnode.New(t)
	c := newClient(t, n, "")

	var p rpc.HouseParamsResult
	require.Nil(t, c.call("getHouseParams", struct{}{}, &p))
	assert.Equal(t, n.Operator.PubKey(), p.Operator)
	assert.Equal(t, n.Operator.PubKey(), p.FeeAccount)
	assert.Equal(t, uint32(250), p.CommissionBps)
	assert.Equal(t, "2.5", p.CommissionPercent)
	assert.False(t, p.Paused)
}

func TestUnknownAuctionIsStateError(t *testing.T) {
	c := newClient(t, testnode.New(t), "")

	rpcErr := c.call("getAuction", map[string]uint64{"id": 7}, nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, rpc.CodeState, rpcErr.Code)
	require.NotNil(t, rpcErr.Data)
	assert.Equal(t, "auction_not_found", rpcErr.Data.Code)

	rpcErr = c.call("getReceipt", map[string]string{"tx_id": "missing"}, nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, rpc.CodeNotFound, rpcErr.Code)
}

func TestSendTxAndReceipt(t *testing.T) {
	alice, err := wallet.Generate()
	require.NoError(t, err)
	bob, err := wallet.Generate()
	require.NoError(t, err)
	n := testnode.New(t, testnode.WithAlloc(map[string]uint64{alice.PubKey(): 500}))
	c := newClient(t, n, "")

	tx, err := alice.Transfer(testnode.ChainID, bob.PubKey(), 200, 0, 1)
	require.NoError(t, err)
	var sent map[string]string
	require.Nil(t, c.call("sendTx", tx, &sent))
	assert.Equal(t, tx.ID, sent["tx_id"])

	var size int
	require.Nil(t, c.call("getMempoolSize", struct{}{}, &size))
	assert.Equal(t, 1, size)

	n.Produce()

	var rc core.Receipt
	require.Nil(t, c.call("getReceipt", map[string]string{"tx_id": tx.ID}, &rc))
	assert.Equal(t, core.ReceiptOK, rc.Status)
	assert.Equal(t, int64(1), rc.BlockHeight)

	var acc core.Account
	require.Nil(t, c.call("getBalance", map[string]string{"address": bob.PubKey()}, &acc))
	assert.Equal(t, uint64(200), acc.Balance)
}

func TestSendTxWrongChain(t *testing.T) {
	alice, err := wallet.Generate()
	require.NoError(t, err)
	c := newClient(t, testnode.New(t), "")

	tx, err := alice.Transfer("other-chain", alice.PubKey(), 1, 0, 0)
	require.NoError(t, err)
	rpcErr := c.call("sendTx", tx, nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, rpc.CodeInvalidParams, rpcErr.Code)

	unknown, err := alice.NewTx(testnode.ChainID, "buy_market", 0, 0, struct{}{})
	require.NoError(t, err)
	rpcErr = c.call("sendTx", unknown, nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, rpc.CodeInvalidParams, rpcErr.Code)
}

func TestSimulateTxClassifiesFailure(t *testing.T) {
	alice, err := wallet.Generate()
	require.NoError(t, err)
	n := testnode.New(t, testnode.WithAlloc(map[string]uint64{alice.PubKey(): 50}))
	c := newClient(t, n, "")

	// No auction exists yet.
	bid, err := alice.Bid(testnode.ChainID, 0, 10, 10, 0, 0)
	require.NoError(t, err)
	rpcErr := c.call("simulateTx", bid, nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, rpc.CodeState, rpcErr.Code)
	assert.Equal(t, "state", rpcErr.Data.Kind)

	// Simulation leaves no trace in committed state or the mempool.
	var rc core.Receipt
	transfer, err := alice.Transfer(testnode.ChainID, n.Operator.PubKey(), 20, 0, 0)
	require.NoError(t, err)
	require.Nil(t, c.call("simulateTx", transfer, &rc))
	assert.Equal(t, core.ReceiptOK, rc.Status)
	assert.Equal(t, uint64(50), n.Balance(alice.PubKey()))
	assert.Zero(t, n.Mempool.Size())
}

func TestHouseQueries(t *testing.T) {
	n := testnode.New(t)
	c := newClient(t, n, "")

	var count uint64
	require.Nil(t, c.call("getAuctionsCount", struct{}{}, &count))
	assert.Zero(t, count)

	var bal struct {
		Balance uint64 `json:"balance"`
	}
	require.Nil(t, c.call("getHouseBalance", map[string]string{"address": n.Operator.PubKey()}, &bal))
	assert.Zero(t, bal.Balance)

	var totals core.HouseTotals
	require.Nil(t, c.call("getHouseTotals", struct{}{}, &totals))
	assert.Equal(t, core.HouseTotals{}, totals)

	rpcErr := c.call("getAuctionByAsset", map[string]string{"collection": "swords"}, nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, rpc.CodeInvalidParams, rpcErr.Code)
}

func TestServerAuthAndRequestID(t *testing.T) {
	c := newClient(t, testnode.New(t), "s3cret")

	id := uuid.NewString()
	httpResp, resp := c.post("getBlockHeight", struct{}{}, http.Header{rpc.HeaderRequestID: {id}})
	assert.Nil(t, resp.Error)
	assert.Equal(t, id, httpResp.Header.Get(rpc.HeaderRequestID))

	httpResp, _ = c.post("getBlockHeight", struct{}{}, http.Header{rpc.HeaderRequestID: {"not-a-uuid"}})
	_, err := uuid.Parse(httpResp.Header.Get(rpc.HeaderRequestID))
	assert.NoError(t, err)

	c.token = "wrong"
	_, resp = c.post("getBlockHeight", struct{}{}, nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, rpc.CodeUnauthorized, resp.Error.Code)
}

func TestHealthSkipsAuth(t *testing.T) {
	n := testnode.New(t)
	n.AdvanceTo(2)
	c := newClient(t, n, "s3cret")

	httpResp, err := c.srv.Client().Get(c.srv.URL + "/health")
	require.NoError(t, err)
	defer httpResp.Body.Close()
	assert.Equal(t, http.StatusOK, httpResp.StatusCode)
	assert.NotEmpty(t, httpResp.Header.Get(rpc.HeaderRequestID))

	var body struct {
		Status string `json:"status"`
		Height int64  `json:"height"`
	}
	require.NoError(t, json.NewDecoder(httpResp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, int64(2), body.Height)
}
