package eth_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/lthibault/log"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/blocknative/ethrpc/client"
	"github.com/blocknative/ethrpc/client/fallback"
	"github.com/blocknative/ethrpc/eth"
	"github.com/blocknative/ethrpc/jsonrpc"
	"github.com/blocknative/ethrpc/schema"
)

var (
	blockHash = common.HexToHash("0xb10c")
	txHash    = common.HexToHash("0x7a")
	sender    = common.HexToAddress("0x5e")
	receiver  = common.HexToAddress("0x4ec")
)

type revertError struct{}

func (revertError) Error() string          { return "execution reverted" }
func (revertError) ErrorCode() int         { return 3 }
func (revertError) ErrorData() interface{} { return "0x08c379a0" }

type ethService struct {
	blockCalls *atomic.Int64
	lastFilter map[string]interface{}
	syncing    bool
}

func newService() *ethService {
	return &ethService{blockCalls: atomic.NewInt64(0)}
}

func (s *ethService) BlockNumber() hexutil.Uint64 { return 0x10 }

func (s *ethService) ChainId() *hexutil.Big { return (*hexutil.Big)(big.NewInt(1)) }

func (s *ethService) GetBalance(addr common.Address, block rpc.BlockNumberOrHash) (*hexutil.Big, error) {
	if addr != sender {
		return (*hexutil.Big)(new(big.Int)), nil
	}
	if n, ok := block.Number(); ok && n == rpc.PendingBlockNumber {
		return (*hexutil.Big)(big.NewInt(2)), nil
	}
	// 2^200 wei
	return (*hexutil.Big)(new(big.Int).Lsh(big.NewInt(1), 200)), nil
}

func testTx() map[string]interface{} {
	return map[string]interface{}{
		"blockHash":        blockHash,
		"blockNumber":      "0x10",
		"from":             sender,
		"gas":              "0x5208",
		"gasPrice":         "0x3b9aca00",
		"hash":             txHash,
		"input":            "0x",
		"nonce":            "0x1",
		"to":               receiver,
		"transactionIndex": "0x0",
		"value":            "0xde0b6b3a7640000",
		"type":             "0x0",
		"v":                "0x25",
		"r":                "0x1",
		"s":                "0x2",
	}
}

func testBlock(full bool) map[string]interface{} {
	var txs []interface{}
	if full {
		txs = []interface{}{testTx()}
	} else {
		txs = []interface{}{txHash}
	}
	return map[string]interface{}{
		"number":           "0x10",
		"hash":             blockHash,
		"parentHash":       common.HexToHash("0xb10b"),
		"nonce":            "0x0000000000000000",
		"mixHash":          common.Hash{},
		"sha3Uncles":       common.Hash{},
		"logsBloom":        hexutil.Bytes(make([]byte, 256)),
		"transactionsRoot": common.Hash{},
		"stateRoot":        common.Hash{},
		"receiptsRoot":     common.Hash{},
		"miner":            receiver,
		"difficulty":       "0x0",
		"totalDifficulty":  "0x1",
		"extraData":        "0x",
		"size":             "0x220",
		"gasLimit":         "0x1c9c380",
		"gasUsed":          "0x5208",
		"timestamp":        "0x64000000",
		"baseFeePerGas":    "0x7",
		"withdrawals":      []interface{}{},
		"transactions":     txs,
		"uncles":           []interface{}{},
	}
}

func (s *ethService) GetBlockByHash(hash common.Hash, full bool) (map[string]interface{}, error) {
	s.blockCalls.Inc()
	if hash != blockHash {
		return nil, nil
	}
	return testBlock(full), nil
}

func (s *ethService) GetBlockByNumber(number rpc.BlockNumber, full bool) (map[string]interface{}, error) {
	if number != rpc.LatestBlockNumber && number != 0x10 {
		return nil, nil
	}
	return testBlock(full), nil
}

func (s *ethService) GetTransactionReceipt(hash common.Hash) (map[string]interface{}, error) {
	if hash != txHash {
		return nil, nil
	}
	return map[string]interface{}{
		"blockHash":         blockHash,
		"blockNumber":       "0x10",
		"contractAddress":   nil,
		"cumulativeGasUsed": "0x5208",
		"effectiveGasPrice": "0x3b9aca00",
		"from":              sender,
		"gasUsed":           "0x5208",
		"logs": []interface{}{map[string]interface{}{
			"address":          receiver,
			"topics":           []common.Hash{common.HexToHash("0xdd")},
			"data":             "0x01",
			"blockNumber":      "0x10",
			"blockHash":        blockHash,
			"transactionHash":  txHash,
			"transactionIndex": "0x0",
			"logIndex":         "0x0",
			"removed":          false,
		}},
		"logsBloom":        hexutil.Bytes(make([]byte, 256)),
		"to":               receiver,
		"transactionHash":  txHash,
		"transactionIndex": "0x0",
		"type":             "0x2",
		"status":           "0x1",
	}, nil
}

func (s *ethService) GetLogs(crit map[string]interface{}) ([]interface{}, error) {
	s.lastFilter = crit
	return []interface{}{}, nil
}

func (s *ethService) Call(args map[string]interface{}, block *rpc.BlockNumberOrHash) (hexutil.Bytes, error) {
	if args["data"] == "0xdead" {
		return nil, revertError{}
	}
	return hexutil.Bytes{0x2a}, nil
}

func (s *ethService) Syncing() (interface{}, error) {
	if !s.syncing {
		return false, nil
	}
	return map[string]interface{}{
		"startingBlock": "0x0",
		"currentBlock":  "0x8",
		"highestBlock":  "0x10",
	}, nil
}

func (s *ethService) NewHeads(ctx context.Context) (*rpc.Subscription, error) {
	notifier, ok := rpc.NotifierFromContext(ctx)
	if !ok {
		return nil, rpc.ErrNotificationsUnsupported
	}
	sub := notifier.CreateSubscription()
	go func() {
		_ = notifier.Notify(sub.ID, map[string]interface{}{"number": "0x11", "hash": blockHash})
	}()
	return sub, nil
}

func newServer(t *testing.T, svc *ethService) *rpc.Server {
	t.Helper()

	server := rpc.NewServer()
	require.NoError(t, server.RegisterName("eth", svc))
	t.Cleanup(server.Stop)
	return server
}

func dialHTTP(t *testing.T, svc *ethService, opts ...client.Option) *client.Client {
	t.Helper()

	srv := httptest.NewServer(newServer(t, svc))
	t.Cleanup(srv.Close)

	opts = append([]client.Option{client.WithLogger(log.New(log.WithWriter(io.Discard)))}, opts...)
	c, err := eth.Dial(context.Background(), srv.URL, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestTypedCalls(t *testing.T) {
	t.Parallel()

	svc := newService()
	ec, err := eth.New(dialHTTP(t, svc))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	n, err := ec.BlockNumber(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(16), n)

	id, err := ec.ChainID(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), id.Int64())

	bal, err := ec.BalanceAt(ctx, sender, eth.Latest)
	require.NoError(t, err)
	require.Equal(t, 201, bal.BitLen())

	bal, err = ec.BalanceAt(ctx, sender, eth.Pending)
	require.NoError(t, err)
	require.Equal(t, int64(2), bal.Int64())

	u, err := ec.BalanceU256(ctx, sender, eth.Latest)
	require.NoError(t, err)
	require.Equal(t, 201, u.BitLen())

	out, err := ec.CallContract(ctx, eth.CallMsg{To: &receiver, Data: hexutil.Bytes{0x01}}, eth.Latest)
	require.NoError(t, err)
	require.Equal(t, []byte{0x2a}, out)

	_, err = ec.CallContract(ctx, eth.CallMsg{To: &receiver, Data: hexutil.Bytes{0xde, 0xad}}, eth.Latest)
	require.ErrorIs(t, err, eth.ErrExecutionReverted)
	var rpcErr *jsonrpc.Error
	require.ErrorAs(t, err, &rpcErr)
	require.EqualValues(t, 3, rpcErr.Code)
	require.Equal(t, "eth_call", rpcErr.Method)
	require.JSONEq(t, `"0x08c379a0"`, string(rpcErr.Data))

	p, syncing, err := ec.Syncing(ctx)
	require.NoError(t, err)
	require.False(t, syncing)
	require.Nil(t, p)
}

func TestBlocksAndReceipts(t *testing.T) {
	t.Parallel()

	svc := newService()
	ec, err := eth.New(dialHTTP(t, svc))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	b, err := ec.BlockByHash(ctx, blockHash, false)
	require.NoError(t, err)
	require.Equal(t, uint64(16), b.NumberU64())
	require.Equal(t, blockHash, *b.Hash)
	require.Equal(t, []common.Hash{txHash}, b.TxHashes)
	require.Empty(t, b.Transactions)
	require.Equal(t, uint64(0x5208), uint64(b.GasUsed))

	b, err = ec.BlockByNumber(ctx, eth.Latest, true)
	require.NoError(t, err)
	require.Len(t, b.Transactions, 1)
	tx := b.Transactions[0]
	require.Equal(t, txHash, tx.Hash)
	require.Equal(t, receiver, *tx.To)
	require.Equal(t, "1000000000000000000", tx.Value.ToInt().String())

	_, err = ec.BlockByHash(ctx, common.HexToHash("0x01"), false)
	require.ErrorIs(t, err, eth.ErrNotFound)

	r, err := ec.TransactionReceipt(ctx, txHash)
	require.NoError(t, err)
	require.Equal(t, uint64(eth.ReceiptStatusSuccessful), uint64(r.Status))
	require.Nil(t, r.ContractAddress)
	require.Len(t, r.Logs, 1)
	require.Equal(t, []byte{0x01}, []byte(r.Logs[0].Data))

	_, err = ec.TransactionReceipt(ctx, common.HexToHash("0x02"))
	require.ErrorIs(t, err, eth.ErrNotFound)
}

func TestGenericCallKeepsUnknownFields(t *testing.T) {
	t.Parallel()

	c := dialHTTP(t, newService())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	v, err := c.Do(ctx, "eth_getBlockByHash", blockHash, false)
	require.NoError(t, err)

	raw, err := json.Marshal(v)
	require.NoError(t, err)

	var got map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &got))
	require.Contains(t, got, "withdrawals")
	require.JSONEq(t, `"0x10"`, string(got["number"]))
}

func TestCache(t *testing.T) {
	t.Parallel()

	svc := newService()
	ec, err := eth.New(dialHTTP(t, svc), eth.WithCache(16))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for i := 0; i < 3; i++ {
		_, err := ec.BlockByHash(ctx, blockHash, true)
		require.NoError(t, err)
	}
	require.EqualValues(t, 1, svc.blockCalls.Load())

	// hits do not share values
	v, err := ec.Do(ctx, "eth_getBlockByHash", blockHash, true)
	require.NoError(t, err)
	first := v.(*schema.Object)
	first.Quantity("number").SetInt64(99)
	first.Set("hash", nil)
	first.Array("transactions")[0] = "gone"

	v, err = ec.Do(ctx, "eth_getBlockByHash", blockHash, true)
	require.NoError(t, err)
	again := v.(*schema.Object)
	require.NotSame(t, first, again)
	require.EqualValues(t, 0x10, again.Uint64("number"))
	require.Equal(t, blockHash.Bytes(), again.Bytes("hash"))
	require.IsType(t, &schema.Object{}, again.Array("transactions")[0])
	require.EqualValues(t, 1, svc.blockCalls.Load())

	// misses are not cached
	for i := 0; i < 2; i++ {
		_, err := ec.BlockByHash(ctx, common.HexToHash("0x01"), true)
		require.ErrorIs(t, err, eth.ErrNotFound)
	}
	require.EqualValues(t, 3, svc.blockCalls.Load())

	_, err = eth.New(dialHTTP(t, svc), eth.WithCache(0))
	require.Error(t, err)
}

func TestFilterLogs(t *testing.T) {
	t.Parallel()

	svc := newService()
	ec, err := eth.New(dialHTTP(t, svc))
	require.NoError(t, err)

	from := eth.Number(1)
	logs, err := ec.FilterLogs(context.Background(), eth.FilterQuery{
		FromBlock: &from,
		Addresses: []common.Address{receiver, sender},
		Topics:    [][]common.Hash{nil, {txHash}},
	})
	require.NoError(t, err)
	require.Empty(t, logs)

	require.Equal(t, "0x1", svc.lastFilter["fromBlock"])
	require.Len(t, svc.lastFilter["address"], 2)
	require.Len(t, svc.lastFilter["topics"], 2)
}

func TestSubscription(t *testing.T) {
	t.Parallel()

	server := newServer(t, newService())
	srv := httptest.NewServer(server.WebsocketHandler([]string{"*"}))
	t.Cleanup(srv.Close)

	events := make(chan *eth.SubscriptionEvent, 1)
	c, err := eth.Dial(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"),
		client.WithLogger(log.New(log.WithWriter(io.Discard))),
		client.WithNotificationHandler(func(method string, params json.RawMessage) {
			if method != "eth_subscription" {
				return
			}
			ev, err := eth.ParseSubscriptionEvent(params)
			if err == nil {
				events <- ev
			}
		}))
	require.NoError(t, err)
	defer c.Close()

	ec, err := eth.New(c)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	id, err := ec.Subscribe(ctx, "newHeads", nil)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	select {
	case ev := <-events:
		require.Equal(t, id, ev.Subscription)
		var h eth.Header
		require.NoError(t, json.Unmarshal(ev.Result, &h))
		require.Equal(t, uint64(0x11), h.NumberU64())
	case <-ctx.Done():
		t.Fatal("no subscription event")
	}

	ok, err := ec.Unsubscribe(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = ec.Subscribe(ctx, "blocks", nil)
	require.Error(t, err)
	require.False(t, errors.Is(err, eth.ErrNotFound))
}

func TestFallbackToLiveNode(t *testing.T) {
	t.Parallel()

	l := log.New(log.WithWriter(io.Discard))

	dead := httptest.NewServer(newServer(t, newService()))
	deadURL := dead.URL
	dead.Close()

	down, err := eth.Dial(context.Background(), deadURL, client.WithLogger(l), client.WithTimeout(5*time.Second))
	require.NoError(t, err)
	defer down.Close()

	f := fallback.NewFallback(l)
	f.AddClient(down)
	f.AddClient(dialHTTP(t, newService()))

	ec, err := eth.New(f)
	require.NoError(t, err)

	n, err := ec.BlockNumber(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(16), n)
}
