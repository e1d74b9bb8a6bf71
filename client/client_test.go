package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang/mock/gomock"
	"github.com/lthibault/log"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/blocknative/ethrpc/client"
	"github.com/blocknative/ethrpc/correlation"
	"github.com/blocknative/ethrpc/jsonrpc"
	"github.com/blocknative/ethrpc/request"
	"github.com/blocknative/ethrpc/schema"
	"github.com/blocknative/ethrpc/transport"
	"github.com/blocknative/ethrpc/transport/gethhttp"
	"github.com/blocknative/ethrpc/transport/mocks"
)

var addr = common.HexToAddress("0x00000000000000000000000000000000000000aa")

func testCatalog(t *testing.T, mappings []schema.ErrorMapping) *schema.Catalog {
	t.Helper()

	block := schema.OneOf(schema.Quantity(64), schema.Enum("earliest", "latest", "pending"))
	cat, err := schema.Load([]schema.Method{
		{
			Name: "eth_getBalance",
			Params: []schema.Param{
				{Name: "address", Required: true, Spec: *schema.Bytes(20)},
				{Name: "block", Spec: *block},
			},
			Result: schema.Quantity(0),
		},
		{Name: "eth_blockNumber", Result: schema.Quantity(64)},
		{Name: "eth_chainId", Result: schema.Quantity(64)},
	}, nil, mappings)
	require.NoError(t, err)
	return cat
}

type harness struct {
	c    *client.Client
	ch   *mocks.MockChannel
	sent chan []byte
}

func newHarness(t *testing.T, mappings []schema.ErrorMapping, opts ...client.Option) *harness {
	t.Helper()

	ctrl := gomock.NewController(t)
	ch := mocks.NewMockChannel(ctrl)
	ch.EXPECT().Endpoint().Return("mock://node").AnyTimes()
	ch.EXPECT().Kind().Return("mock").AnyTimes()
	ch.EXPECT().Attach(gomock.Any()).Times(1)

	h := &harness{ch: ch, sent: make(chan []byte, 256)}
	opts = append([]client.Option{client.WithLogger(log.New(log.WithWriter(io.Discard)))}, opts...)
	h.c = client.New(testCatalog(t, mappings), ch, opts...)
	return h
}

func (h *harness) expectSends() {
	h.ch.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, f []byte) error {
		h.sent <- f
		return nil
	}).AnyTimes()
}

func (h *harness) nextID(t *testing.T) uint64 {
	t.Helper()

	select {
	case f := <-h.sent:
		var req jsonrpc.Request
		require.NoError(t, json.Unmarshal(f, &req))
		require.NotNil(t, req.ID)
		return *req.ID
	case <-time.After(2 * time.Second):
		t.Fatal("nothing sent")
	}
	return 0
}

func (h *harness) reply(id uint64, result string) {
	h.c.HandleFrame([]byte(fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":%s}`, id, result)))
}

func TestOutOfOrderResponses(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.expectSends()
	ctx := context.Background()

	first, err := h.c.Call(ctx, "eth_getBalance", addr, "latest")
	require.NoError(t, err)
	second, err := h.c.Call(ctx, "eth_blockNumber")
	require.NoError(t, err)

	id1, id2 := h.nextID(t), h.nextID(t)
	require.Equal(t, first.ID(), id1)
	require.Equal(t, second.ID(), id2)
	require.Equal(t, 2, h.c.Pending())

	h.reply(id2, `"0x10"`)
	h.reply(id1, `"0xff"`)

	v, err := first.Wait(ctx)
	require.NoError(t, err)
	require.Zero(t, big.NewInt(255).Cmp(v.(*big.Int)))

	v, err = second.Wait(ctx)
	require.NoError(t, err)
	require.Zero(t, big.NewInt(16).Cmp(v.(*big.Int)))
	require.Equal(t, 0, h.c.Pending())
}

func TestStrayFrames(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.expectSends()
	ctx := context.Background()

	first, err := h.c.Call(ctx, "eth_chainId")
	require.NoError(t, err)
	second, err := h.c.Call(ctx, "eth_blockNumber")
	require.NoError(t, err)
	id1, id2 := h.nextID(t), h.nextID(t)

	h.reply(id2+100, `"0x1"`)
	h.c.HandleFrame([]byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32700,"message":"parse error"}}`))
	h.c.HandleFrame([]byte(`not json`))
	require.Equal(t, 2, h.c.Pending())

	h.reply(id1, `"0x5"`)
	// a duplicate for the first call must not touch the second
	h.reply(id1, `"0x6"`)
	h.c.HandleFrame([]byte(fmt.Sprintf(`[{"jsonrpc":"2.0","id":%d,"result":"0x7"}]`, id1)))

	v, err := first.Wait(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 5, v.(*big.Int).Int64())

	select {
	case <-second.Done():
		t.Fatal("duplicate frame completed another call")
	default:
	}
	require.Equal(t, 1, h.c.Pending())

	h.reply(id2, `"0x20"`)
	v, err = second.Wait(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 32, v.(*big.Int).Int64())
	require.Equal(t, 0, h.c.Pending())

	require.Equal(t, float64(3), testutil.ToFloat64(h.c.Metrics().Stray.WithLabelValues("unknown_id")))
}

func TestDisconnectFailsAllPending(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.expectSends()
	ctx := context.Background()

	const n = 10
	calls := make([]*client.Call, n)
	for i := range calls {
		var err error
		calls[i], err = h.c.Call(ctx, "eth_blockNumber")
		require.NoError(t, err)
	}

	cause := errors.New("socket reset")
	h.c.HandleDisconnect(cause)

	for _, call := range calls {
		_, err := call.Wait(ctx)
		var cl *correlation.ConnectionLostError
		require.ErrorAs(t, err, &cl)
		require.ErrorIs(t, err, cause)
	}
	require.Equal(t, 0, h.c.Pending())
}

func TestServerErrorMapping(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name     string
		mappings []schema.ErrorMapping
		kind     jsonrpc.ErrorKind
	}{
		{name: "mapped", mappings: schema.StandardErrors, kind: jsonrpc.ErrInvalidParams},
		{name: "unmapped", kind: jsonrpc.ErrGeneric},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t, tc.mappings)
			h.expectSends()
			ctx := context.Background()

			call, err := h.c.Call(ctx, "eth_getBalance", addr)
			require.NoError(t, err)
			id := h.nextID(t)
			h.c.HandleFrame([]byte(fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"error":{"code":-32602,"message":"invalid argument 1"}}`, id)))

			_, err = call.Wait(ctx)
			var rpcErr *jsonrpc.Error
			require.ErrorAs(t, err, &rpcErr)
			require.ErrorIs(t, err, tc.kind)
			require.EqualValues(t, -32602, rpcErr.Code)
			require.Equal(t, "invalid argument 1", rpcErr.Message)
		})
	}
}

func TestMalformedResult(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.expectSends()
	ctx := context.Background()

	call, err := h.c.Call(ctx, "eth_blockNumber")
	require.NoError(t, err)
	h.reply(h.nextID(t), `"0x"`)

	_, err = call.Wait(ctx)
	var ve *schema.ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestTimeout(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.expectSends()
	ctx := context.Background()

	call, err := h.c.CallWithTimeout(ctx, 20*time.Millisecond, "eth_blockNumber")
	require.NoError(t, err)
	id := h.nextID(t)

	_, err = call.Wait(ctx)
	var te *correlation.TimeoutError
	require.ErrorAs(t, err, &te)

	h.reply(id, `"0x1"`)
	_, err = call.Wait(ctx)
	require.ErrorAs(t, err, &te)
}

func TestWaitCanceled(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.expectSends()

	call, err := h.c.Call(context.Background(), "eth_blockNumber")
	require.NoError(t, err)
	h.nextID(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = call.Wait(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 0, h.c.Pending())
	require.False(t, call.Cancel())
}

func TestValidationNeverSends(t *testing.T) {
	t.Parallel()

	// no Send expectation: any send fails the test
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.c.Call(ctx, "eth_getBalance")
	var ae *request.ArityError
	require.ErrorAs(t, err, &ae)

	_, err = h.c.Call(ctx, "eth_getBalance", addr, 2.5)
	var ve *schema.ValidationError
	require.ErrorAs(t, err, &ve)
	require.Equal(t, 1, ve.Index)

	_, err = h.c.Call(ctx, "eth_unknown")
	require.ErrorIs(t, err, schema.ErrMethodNotFound)
	require.Equal(t, 0, h.c.Pending())
}

func TestSendFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	linkErr := &transport.Error{Kind: "mock", Endpoint: "mock://node", Err: transport.ErrConnectionFailure}
	h.ch.EXPECT().Send(gomock.Any(), gomock.Any()).Return(linkErr)

	_, err := h.c.Call(context.Background(), "eth_chainId")
	require.ErrorIs(t, err, transport.ErrConnectionFailure)
	require.Equal(t, 0, h.c.Pending())
}

func TestAsyncSendFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.expectSends()
	ctx := context.Background()

	call, err := h.c.Call(ctx, "eth_chainId")
	require.NoError(t, err)
	f := <-h.sent

	h.c.HandleSendFailure(f, &transport.Error{Kind: "mock", Err: io.ErrClosedPipe})
	_, err = call.Wait(ctx)
	require.ErrorIs(t, err, io.ErrClosedPipe)
}

func TestSendOrder(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.expectSends()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.c.Call(ctx, "eth_blockNumber"); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	var last uint64
	for i := 0; i < 50; i++ {
		id := h.nextID(t)
		require.Greater(t, id, last)
		last = id
	}
}

func TestBatch(t *testing.T) {
	t.Parallel()

	h := newHarness(t, schema.StandardErrors)
	h.ch.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, f []byte) error {
		var reqs []jsonrpc.Request
		require.NoError(t, json.Unmarshal(f, &reqs))
		require.Len(t, reqs, 2)
		// answer in reverse order from another goroutine
		go h.c.HandleFrame([]byte(fmt.Sprintf(
			`[{"jsonrpc":"2.0","id":%d,"error":{"code":-32602,"message":"bad"}},{"jsonrpc":"2.0","id":%d,"result":"0x2a"}]`,
			*reqs[1].ID, *reqs[0].ID)))
		return nil
	})

	elems := []client.BatchElem{
		{Method: "eth_blockNumber"},
		{Method: "eth_getBalance"},
		{Method: "eth_getBalance", Args: []any{addr}},
	}
	require.NoError(t, h.c.Batch(context.Background(), elems))

	require.NoError(t, elems[0].Error)
	require.EqualValues(t, 42, elems[0].Result.(*big.Int).Int64())

	var ae *request.ArityError
	require.ErrorAs(t, elems[1].Error, &ae)

	require.ErrorIs(t, elems[2].Error, jsonrpc.ErrInvalidParams)
}

func TestNotifications(t *testing.T) {
	t.Parallel()

	got := make(chan string, 1)
	h := newHarness(t, nil, client.WithNotificationHandler(func(method string, params json.RawMessage) {
		got <- method + " " + string(params)
	}))
	h.expectSends()

	h.c.HandleFrame([]byte(`{"jsonrpc":"2.0","method":"eth_subscription","params":{"subscription":"0x1","result":"0x2"}}`))
	require.Equal(t, `eth_subscription {"subscription":"0x1","result":"0x2"}`, <-got)

	require.NoError(t, h.c.Notify(context.Background(), "eth_chainId"))
	var req jsonrpc.Request
	require.NoError(t, json.Unmarshal(<-h.sent, &req))
	require.Nil(t, req.ID)
	require.Equal(t, 0, h.c.Pending())
}

func TestClose(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.expectSends()
	h.ch.EXPECT().Close().Return(nil).Times(1)
	ctx := context.Background()

	call, err := h.c.Call(ctx, "eth_chainId")
	require.NoError(t, err)

	require.NoError(t, h.c.Close())
	require.NoError(t, h.c.Close())

	_, err = call.Wait(ctx)
	require.ErrorIs(t, err, correlation.ErrConnectionLost)
	require.ErrorIs(t, err, transport.ErrClosed)

	_, err = h.c.Call(ctx, "eth_chainId")
	require.ErrorIs(t, err, client.ErrClosed)
}

func TestRateLimit(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil, client.WithRateLimit(1, 1))
	h.expectSends()

	_, err := h.c.Call(context.Background(), "eth_chainId")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = h.c.Call(ctx, "eth_chainId")
	require.Error(t, err)
}

func TestMetrics(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.expectSends()
	ctx := context.Background()

	call, err := h.c.Call(ctx, "eth_chainId")
	require.NoError(t, err)
	h.reply(h.nextID(t), `"0x1"`)
	_, err = call.Wait(ctx)
	require.NoError(t, err)

	h.reply(999, `"0x1"`)

	m := h.c.Metrics()
	require.Equal(t, float64(1), testutil.ToFloat64(m.Calls.WithLabelValues("eth_chainId", "ok")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.Stray.WithLabelValues("unknown_id")))
}

func TestHTTPUnansweredCallFails(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"jsonrpc":"2.0","id":null,"error":{"code":-32603,"message":"internal error"}}`)
	}))
	defer srv.Close()

	ctx := context.Background()
	c, err := client.Dial(ctx, testCatalog(t, nil), srv.URL,
		client.WithLogger(log.New(log.WithWriter(io.Discard))),
		client.WithTimeout(0))
	require.NoError(t, err)
	defer c.Close()

	call, err := c.Call(ctx, "eth_chainId")
	require.NoError(t, err)

	select {
	case <-call.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("call still pending after the exchange ended")
	}

	_, err = call.Wait(ctx)
	require.ErrorIs(t, err, gethhttp.ErrUnanswered)
	var te *transport.Error
	require.ErrorAs(t, err, &te)
	require.Equal(t, 0, c.Pending())
}

func TestMetricsRecordedWithoutWait(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.expectSends()
	ctx := context.Background()

	dropped, err := h.c.Call(ctx, "eth_chainId")
	require.NoError(t, err)
	h.nextID(t)
	require.True(t, dropped.Cancel())

	answered, err := h.c.Call(ctx, "eth_blockNumber")
	require.NoError(t, err)
	h.reply(h.nextID(t), `"0x"`)
	<-answered.Done()

	m := h.c.Metrics()
	require.Equal(t, float64(1), testutil.ToFloat64(m.Calls.WithLabelValues("eth_chainId", "canceled")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.Calls.WithLabelValues("eth_blockNumber", "ok")))

	_, err = answered.Wait(ctx)
	require.Error(t, err)
	require.Equal(t, float64(1), testutil.ToFloat64(m.InvalidResults.WithLabelValues("eth_blockNumber")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.Calls.WithLabelValues("eth_blockNumber", "ok")))
}
