package eth

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

type Header struct {
	Number          *hexutil.Uint64 `json:"number"`
	Hash            *common.Hash    `json:"hash"`
	ParentHash      common.Hash     `json:"parentHash"`
	Nonce           hexutil.Bytes   `json:"nonce"`
	MixDigest       common.Hash     `json:"mixHash"`
	UncleHash       common.Hash     `json:"sha3Uncles"`
	Bloom           hexutil.Bytes   `json:"logsBloom"`
	TxHash          common.Hash     `json:"transactionsRoot"`
	Root            common.Hash     `json:"stateRoot"`
	ReceiptHash     common.Hash     `json:"receiptsRoot"`
	Coinbase        *common.Address `json:"miner"`
	Difficulty      *hexutil.Big    `json:"difficulty"`
	TotalDifficulty *hexutil.Big    `json:"totalDifficulty"`
	Extra           hexutil.Bytes   `json:"extraData"`
	Size            hexutil.Uint64  `json:"size"`
	GasLimit        hexutil.Uint64  `json:"gasLimit"`
	GasUsed         hexutil.Uint64  `json:"gasUsed"`
	Time            hexutil.Uint64  `json:"timestamp"`
	BaseFee         *hexutil.Big    `json:"baseFeePerGas"`
	Uncles          []common.Hash   `json:"uncles"`
}

// NumberU64 returns 0 for pending blocks.
func (h *Header) NumberU64() uint64 {
	if h.Number == nil {
		return 0
	}
	return uint64(*h.Number)
}

// Block carries either full transactions or only their hashes, depending on
// how it was requested. TxHashes is filled in both cases.
type Block struct {
	Header
	Transactions []*Transaction `json:"-"`
	TxHashes     []common.Hash  `json:"-"`
}

func (b *Block) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, &b.Header); err != nil {
		return err
	}

	var body struct {
		Transactions []json.RawMessage `json:"transactions"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return err
	}

	b.Transactions, b.TxHashes = nil, nil
	for _, raw := range body.Transactions {
		if len(raw) > 0 && raw[0] == '"' {
			var h common.Hash
			if err := json.Unmarshal(raw, &h); err != nil {
				return err
			}
			b.TxHashes = append(b.TxHashes, h)
			continue
		}
		tx := new(Transaction)
		if err := json.Unmarshal(raw, tx); err != nil {
			return err
		}
		b.Transactions = append(b.Transactions, tx)
		b.TxHashes = append(b.TxHashes, tx.Hash)
	}
	return nil
}

type Transaction struct {
	BlockHash        *common.Hash    `json:"blockHash"`
	BlockNumber      *hexutil.Uint64 `json:"blockNumber"`
	From             common.Address  `json:"from"`
	Gas              hexutil.Uint64  `json:"gas"`
	GasPrice         *hexutil.Big    `json:"gasPrice"`
	GasFeeCap        *hexutil.Big    `json:"maxFeePerGas,omitempty"`
	GasTipCap        *hexutil.Big    `json:"maxPriorityFeePerGas,omitempty"`
	Hash             common.Hash     `json:"hash"`
	Input            hexutil.Bytes   `json:"input"`
	Nonce            hexutil.Uint64  `json:"nonce"`
	To               *common.Address `json:"to"`
	TransactionIndex *hexutil.Uint64 `json:"transactionIndex"`
	Value            *hexutil.Big    `json:"value"`
	Type             hexutil.Uint64  `json:"type"`
	ChainID          *hexutil.Big    `json:"chainId,omitempty"`
	AccessList       json.RawMessage `json:"accessList,omitempty"`
	V                *hexutil.Big    `json:"v"`
	R                *hexutil.Big    `json:"r"`
	S                *hexutil.Big    `json:"s"`
}

type Log struct {
	Address     common.Address `json:"address"`
	Topics      []common.Hash  `json:"topics"`
	Data        hexutil.Bytes  `json:"data"`
	BlockNumber hexutil.Uint64 `json:"blockNumber"`
	BlockHash   common.Hash    `json:"blockHash"`
	TxHash      common.Hash    `json:"transactionHash"`
	TxIndex     hexutil.Uint64 `json:"transactionIndex"`
	Index       hexutil.Uint64 `json:"logIndex"`
	Removed     bool           `json:"removed"`
}

type Receipt struct {
	BlockHash         common.Hash     `json:"blockHash"`
	BlockNumber       hexutil.Uint64  `json:"blockNumber"`
	ContractAddress   *common.Address `json:"contractAddress"`
	CumulativeGasUsed hexutil.Uint64  `json:"cumulativeGasUsed"`
	EffectiveGasPrice *hexutil.Big    `json:"effectiveGasPrice"`
	From              common.Address  `json:"from"`
	GasUsed           hexutil.Uint64  `json:"gasUsed"`
	Logs              []*Log          `json:"logs"`
	Bloom             hexutil.Bytes   `json:"logsBloom"`
	To                *common.Address `json:"to"`
	TxHash            common.Hash     `json:"transactionHash"`
	TransactionIndex  hexutil.Uint64  `json:"transactionIndex"`
	Type              hexutil.Uint64  `json:"type"`
	PostState         hexutil.Bytes   `json:"root"`
	Status            hexutil.Uint64  `json:"status"`
}

const (
	ReceiptStatusFailed     = 0
	ReceiptStatusSuccessful = 1
)

type SyncProgress struct {
	StartingBlock hexutil.Uint64 `json:"startingBlock"`
	CurrentBlock  hexutil.Uint64 `json:"currentBlock"`
	HighestBlock  hexutil.Uint64 `json:"highestBlock"`
	KnownStates   hexutil.Uint64 `json:"knownStates"`
	PulledStates  hexutil.Uint64 `json:"pulledStates"`
}

type StorageResult struct {
	Key   string          `json:"key"`
	Value *hexutil.Big    `json:"value"`
	Proof []hexutil.Bytes `json:"proof"`
}

type AccountResult struct {
	Address      common.Address  `json:"address"`
	AccountProof []hexutil.Bytes `json:"accountProof"`
	Balance      *hexutil.Big    `json:"balance"`
	CodeHash     common.Hash     `json:"codeHash"`
	Nonce        hexutil.Uint64  `json:"nonce"`
	StorageHash  common.Hash     `json:"storageHash"`
	StorageProof []StorageResult `json:"storageProof"`
}

// CallMsg is the transaction object of eth_call, eth_estimateGas and
// eth_sendTransaction. Unset fields are left to the node.
type CallMsg struct {
	From      *common.Address `json:"from,omitempty"`
	To        *common.Address `json:"to,omitempty"`
	Gas       *hexutil.Uint64 `json:"gas,omitempty"`
	GasPrice  *hexutil.Big    `json:"gasPrice,omitempty"`
	GasFeeCap *hexutil.Big    `json:"maxFeePerGas,omitempty"`
	GasTipCap *hexutil.Big    `json:"maxPriorityFeePerGas,omitempty"`
	Value     *hexutil.Big    `json:"value,omitempty"`
	Data      hexutil.Bytes   `json:"data,omitempty"`
	Nonce     *hexutil.Uint64 `json:"nonce,omitempty"`
}

type FilterQuery struct {
	BlockHash *common.Hash
	FromBlock *BlockNumber
	ToBlock   *BlockNumber
	Addresses []common.Address

	// Topics are positional; an empty position matches anything and
	// several hashes in one position match any of them.
	Topics [][]common.Hash
}

func (q FilterQuery) arg() map[string]any {
	arg := make(map[string]any)
	switch len(q.Addresses) {
	case 0:
	case 1:
		arg["address"] = q.Addresses[0]
	default:
		arg["address"] = q.Addresses
	}

	if len(q.Topics) > 0 {
		topics := make([]any, len(q.Topics))
		for i, pos := range q.Topics {
			switch len(pos) {
			case 0:
				topics[i] = nil
			case 1:
				topics[i] = pos[0]
			default:
				topics[i] = pos
			}
		}
		arg["topics"] = topics
	}

	if q.BlockHash != nil {
		arg["blockHash"] = *q.BlockHash
		return arg
	}
	if q.FromBlock != nil {
		arg["fromBlock"] = q.FromBlock.arg()
	}
	if q.ToBlock != nil {
		arg["toBlock"] = q.ToBlock.arg()
	}
	return arg
}

// SubscriptionEvent is the payload of an eth_subscription notification.
type SubscriptionEvent struct {
	Subscription string          `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}

func ParseSubscriptionEvent(params json.RawMessage) (*SubscriptionEvent, error) {
	ev := new(SubscriptionEvent)
	if err := json.Unmarshal(params, ev); err != nil {
		return nil, err
	}
	return ev, nil
}
