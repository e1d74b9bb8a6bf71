// Package eth is a typed surface over the Ethereum JSON-RPC methods served by
// geth. Arguments and results go through the embedded schema, so the generic
// client and these wrappers validate the same way.
package eth

import (
	"bytes"
	_ "embed"
	"sync"

	"github.com/pkg/errors"

	"github.com/blocknative/ethrpc/jsonrpc"
	"github.com/blocknative/ethrpc/schema"
)

//go:embed schema.yaml
var document []byte

// Error kinds geth reports besides the JSON-RPC reserved ones.
const (
	ErrServer            jsonrpc.ErrorKind = "server error"
	ErrLimitExceeded     jsonrpc.ErrorKind = "limit exceeded"
	ErrExecutionReverted jsonrpc.ErrorKind = "execution reverted"
)

var (
	catOnce sync.Once
	cat     *schema.Catalog
	catErr  error
)

// Catalog returns the catalog parsed from the embedded schema document.
func Catalog() (*schema.Catalog, error) {
	catOnce.Do(func() {
		cat, catErr = schema.ParseDocument(bytes.NewReader(document))
		if catErr != nil {
			catErr = errors.WithMessage(catErr, "embedded eth schema")
		}
	})
	return cat, catErr
}

func MustCatalog() *schema.Catalog {
	c, err := Catalog()
	if err != nil {
		panic(err)
	}
	return c
}

// Document returns the raw embedded schema.
func Document() []byte {
	return append([]byte(nil), document...)
}
