package eth

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// BlockNumber addresses a block by height or by tag. The zero value is
// Latest.
type BlockNumber struct {
	n   *big.Int
	tag string
}

var (
	Earliest = BlockNumber{tag: "earliest"}
	Latest   = BlockNumber{tag: "latest"}
	Pending  = BlockNumber{tag: "pending"}
)

func Number(n uint64) BlockNumber {
	return BlockNumber{n: new(big.Int).SetUint64(n)}
}

func NumberBig(n *big.Int) BlockNumber {
	if n == nil {
		return Latest
	}
	return BlockNumber{n: new(big.Int).Set(n)}
}

// Height returns the block height, or false for tags.
func (b BlockNumber) Height() (*big.Int, bool) {
	if b.n == nil {
		return nil, false
	}
	return new(big.Int).Set(b.n), true
}

func (b BlockNumber) String() string {
	switch {
	case b.n != nil:
		return hexutil.EncodeBig(b.n)
	case b.tag != "":
		return b.tag
	}
	return Latest.tag
}

// arg is the value handed to the value layer.
func (b BlockNumber) arg() any {
	if b.n != nil {
		return b.n
	}
	return b.String()
}
