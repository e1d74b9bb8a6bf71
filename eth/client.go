package eth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/holiman/uint256"

	"github.com/blocknative/ethrpc/client"
	"github.com/blocknative/ethrpc/schema"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrResultType = errors.New("unexpected result type")
	ErrOverflow   = errors.New("value does not fit")
)

// Caller is satisfied by *client.Client and *fallback.Fallback. The
// underlying catalog must be the one returned by Catalog.
type Caller interface {
	Do(ctx context.Context, method string, args ...any) (any, error)
}

type Client struct {
	c     Caller
	cat   *schema.Catalog
	cache *lru.Cache[string, json.RawMessage]
}

type Option func(*Client) error

// WithCache keeps up to size results of lookups by block hash, which never
// change once found.
func WithCache(size int) Option {
	return func(c *Client) error {
		cache, err := lru.New[string, json.RawMessage](size)
		if err != nil {
			return fmt.Errorf("failed to initialize cache: %w", err)
		}
		c.cache = cache
		return nil
	}
}

func New(c Caller, opts ...Option) (*Client, error) {
	cat, err := Catalog()
	if err != nil {
		return nil, err
	}

	ec := &Client{c: c, cat: cat}
	for _, opt := range opts {
		if err := opt(ec); err != nil {
			return nil, err
		}
	}
	return ec, nil
}

// Dial connects a generic client with the embedded catalog to endpoint.
func Dial(ctx context.Context, endpoint string, opts ...client.Option) (*client.Client, error) {
	cat, err := Catalog()
	if err != nil {
		return nil, err
	}
	return client.Dial(ctx, cat, endpoint, opts...)
}

// Do calls any method of the catalog, serving cacheable lookups from the
// cache when one is configured. The cache holds wire form, so every hit
// decodes to values of its own.
func (c *Client) Do(ctx context.Context, method string, args ...any) (any, error) {
	key, result, ok := c.cacheKey(method, args)
	if ok {
		if raw, hit := c.cache.Get(key); hit {
			if v, err := c.cat.DecodeValue(result, raw); err == nil {
				return v, nil
			}
			c.cache.Remove(key)
		}
	}

	v, err := c.c.Do(ctx, method, args...)
	if err == nil && ok && v != nil {
		if raw, err := json.Marshal(schema.ToWire(v)); err == nil {
			c.cache.Add(key, raw)
		}
	}
	return v, err
}

func (c *Client) cacheKey(method string, args []any) (string, *schema.Spec, bool) {
	if c.cache == nil {
		return "", nil, false
	}
	m, err := c.cat.Lookup(method)
	if err != nil || !m.Cacheable {
		return "", nil, false
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return "", nil, false
	}
	return method + string(raw), m.ResultFor(args), true
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	v, err := c.Do(ctx, "eth_blockNumber")
	if err != nil {
		return 0, err
	}
	return asUint64(v)
}

func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	v, err := c.Do(ctx, "eth_chainId")
	if err != nil {
		return nil, err
	}
	return asBig(v)
}

func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	v, err := c.Do(ctx, "eth_gasPrice")
	if err != nil {
		return nil, err
	}
	return asBig(v)
}

func (c *Client) BalanceAt(ctx context.Context, account common.Address, block BlockNumber) (*big.Int, error) {
	v, err := c.Do(ctx, "eth_getBalance", account, block.arg())
	if err != nil {
		return nil, err
	}
	return asBig(v)
}

// BalanceU256 is BalanceAt for callers working in 256-bit words.
func (c *Client) BalanceU256(ctx context.Context, account common.Address, block BlockNumber) (*uint256.Int, error) {
	b, err := c.BalanceAt(ctx, account, block)
	if err != nil {
		return nil, err
	}
	u, overflow := uint256.FromBig(b)
	if overflow {
		return nil, fmt.Errorf("%w: balance %s", ErrOverflow, b)
	}
	return u, nil
}

func (c *Client) CodeAt(ctx context.Context, account common.Address, block BlockNumber) ([]byte, error) {
	v, err := c.Do(ctx, "eth_getCode", account, block.arg())
	if err != nil {
		return nil, err
	}
	return asBytes(v)
}

func (c *Client) StorageAt(ctx context.Context, account common.Address, key common.Hash, block BlockNumber) (common.Hash, error) {
	v, err := c.Do(ctx, "eth_getStorageAt", account, key.Big(), block.arg())
	if err != nil {
		return common.Hash{}, err
	}
	b, err := asBytes(v)
	if err != nil {
		return common.Hash{}, err
	}
	return common.BytesToHash(b), nil
}

func (c *Client) NonceAt(ctx context.Context, account common.Address, block BlockNumber) (uint64, error) {
	v, err := c.Do(ctx, "eth_getTransactionCount", account, block.arg())
	if err != nil {
		return 0, err
	}
	return asUint64(v)
}

func (c *Client) BlockByHash(ctx context.Context, hash common.Hash, full bool) (*Block, error) {
	return c.block(ctx, "eth_getBlockByHash", hash, full)
}

func (c *Client) BlockByNumber(ctx context.Context, number BlockNumber, full bool) (*Block, error) {
	return c.block(ctx, "eth_getBlockByNumber", number.arg(), full)
}

func (c *Client) block(ctx context.Context, method string, ref any, full bool) (*Block, error) {
	v, err := c.Do(ctx, method, ref, full)
	if err != nil {
		return nil, err
	}
	b := new(Block)
	if err := into(v, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (c *Client) UncleByBlockHashAndIndex(ctx context.Context, hash common.Hash, index uint64) (*Header, error) {
	v, err := c.Do(ctx, "eth_getUncleByBlockHashAndIndex", hash, index)
	if err != nil {
		return nil, err
	}
	h := new(Header)
	if err := into(v, h); err != nil {
		return nil, err
	}
	return h, nil
}

func (c *Client) TransactionByHash(ctx context.Context, hash common.Hash) (*Transaction, error) {
	v, err := c.Do(ctx, "eth_getTransactionByHash", hash)
	if err != nil {
		return nil, err
	}
	tx := new(Transaction)
	if err := into(v, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

func (c *Client) TransactionInBlock(ctx context.Context, block common.Hash, index uint64) (*Transaction, error) {
	v, err := c.Do(ctx, "eth_getTransactionByBlockHashAndIndex", block, index)
	if err != nil {
		return nil, err
	}
	tx := new(Transaction)
	if err := into(v, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

func (c *Client) TransactionCount(ctx context.Context, block common.Hash) (uint64, error) {
	v, err := c.Do(ctx, "eth_getBlockTransactionCountByHash", block)
	if err != nil {
		return 0, err
	}
	if v == nil {
		return 0, ErrNotFound
	}
	return asUint64(v)
}

func (c *Client) TransactionReceipt(ctx context.Context, hash common.Hash) (*Receipt, error) {
	v, err := c.Do(ctx, "eth_getTransactionReceipt", hash)
	if err != nil {
		return nil, err
	}
	r := new(Receipt)
	if err := into(v, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (c *Client) FilterLogs(ctx context.Context, q FilterQuery) ([]*Log, error) {
	v, err := c.Do(ctx, "eth_getLogs", q.arg())
	if err != nil {
		return nil, err
	}
	var logs []*Log
	if err := into(v, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}

func (c *Client) CallContract(ctx context.Context, msg CallMsg, block BlockNumber) ([]byte, error) {
	v, err := c.Do(ctx, "eth_call", msg, block.arg())
	if err != nil {
		return nil, err
	}
	return asBytes(v)
}

func (c *Client) EstimateGas(ctx context.Context, msg CallMsg) (uint64, error) {
	v, err := c.Do(ctx, "eth_estimateGas", msg)
	if err != nil {
		return 0, err
	}
	return asUint64(v)
}

func (c *Client) SendRawTransaction(ctx context.Context, signed []byte) (common.Hash, error) {
	v, err := c.Do(ctx, "eth_sendRawTransaction", hexutil.Bytes(signed))
	if err != nil {
		return common.Hash{}, err
	}
	return asHash(v)
}

func (c *Client) Accounts(ctx context.Context) ([]common.Address, error) {
	v, err := c.Do(ctx, "eth_accounts")
	if err != nil {
		return nil, err
	}
	var accounts []common.Address
	if err := into(v, &accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

func (c *Client) Coinbase(ctx context.Context) (common.Address, error) {
	v, err := c.Do(ctx, "eth_coinbase")
	if err != nil {
		return common.Address{}, err
	}
	b, err := asBytes(v)
	if err != nil {
		return common.Address{}, err
	}
	return common.BytesToAddress(b), nil
}

func (c *Client) Mining(ctx context.Context) (bool, error) {
	v, err := c.Do(ctx, "eth_mining")
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%w: %T", ErrResultType, v)
	}
	return b, nil
}

// Syncing returns nil and false when the node is in sync.
func (c *Client) Syncing(ctx context.Context) (*SyncProgress, bool, error) {
	v, err := c.Do(ctx, "eth_syncing")
	if err != nil {
		return nil, false, err
	}
	if b, ok := v.(bool); ok {
		if b {
			return nil, false, fmt.Errorf("%w: syncing reported as true", ErrResultType)
		}
		return nil, false, nil
	}
	p := new(SyncProgress)
	if err := into(v, p); err != nil {
		return nil, false, err
	}
	return p, true, nil
}

func (c *Client) Proof(ctx context.Context, account common.Address, keys []common.Hash, block BlockNumber) (*AccountResult, error) {
	if keys == nil {
		keys = []common.Hash{}
	}
	v, err := c.Do(ctx, "eth_getProof", account, keys, block.arg())
	if err != nil {
		return nil, err
	}
	res := new(AccountResult)
	if err := into(v, res); err != nil {
		return nil, err
	}
	return res, nil
}

// Subscribe starts a subscription. Events are delivered to the notification
// handler of the underlying client; decode them with ParseSubscriptionEvent.
func (c *Client) Subscribe(ctx context.Context, kind string, q *FilterQuery) (string, error) {
	args := []any{kind}
	if q != nil {
		args = append(args, q.arg())
	}
	v, err := c.Do(ctx, "eth_subscribe", args...)
	if err != nil {
		return "", err
	}
	id, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %T", ErrResultType, v)
	}
	return id, nil
}

func (c *Client) Unsubscribe(ctx context.Context, id string) (bool, error) {
	v, err := c.Do(ctx, "eth_unsubscribe", id)
	if err != nil {
		return false, err
	}
	ok, _ := v.(bool)
	return ok, nil
}

// into renders a decoded result back to wire JSON and unmarshals it into
// out. A null result is ErrNotFound.
func into(v any, out any) error {
	if v == nil {
		return ErrNotFound
	}
	raw, err := json.Marshal(schema.ToWire(v))
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func asBig(v any) (*big.Int, error) {
	b, ok := v.(*big.Int)
	if !ok || b == nil {
		return nil, fmt.Errorf("%w: %T", ErrResultType, v)
	}
	return b, nil
}

func asUint64(v any) (uint64, error) {
	b, err := asBig(v)
	if err != nil {
		return 0, err
	}
	if !b.IsUint64() {
		return 0, fmt.Errorf("%w: %s", ErrOverflow, b)
	}
	return b.Uint64(), nil
}

func asBytes(v any) ([]byte, error) {
	b, ok := v.([]byte)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrResultType, v)
	}
	return b, nil
}

func asHash(v any) (common.Hash, error) {
	b, err := asBytes(v)
	if err != nil {
		return common.Hash{}, err
	}
	return common.BytesToHash(b), nil
}
