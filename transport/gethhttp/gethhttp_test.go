package gethhttp_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/golang/mock/gomock"
	"github.com/lthibault/log"
	"github.com/stretchr/testify/require"

	"github.com/blocknative/ethrpc/transport"
	"github.com/blocknative/ethrpc/transport/gethhttp"
	"github.com/blocknative/ethrpc/transport/mocks"
)

type echoService struct{}

func (echoService) Echo(s string) string { return s }

func TestPostRoundTrip(t *testing.T) {
	t.Parallel()

	server := rpc.NewServer()
	require.NoError(t, server.RegisterName("test", echoService{}))
	srv := httptest.NewServer(server)
	defer srv.Close()
	defer server.Stop()

	ctrl := gomock.NewController(t)
	recv := mocks.NewMockReceiver(ctrl)

	frames := make(chan []byte, 2)
	recv.EXPECT().HandleFrame(gomock.Any()).Do(func(f []byte) { frames <- f }).Times(2)
	recv.EXPECT().HandleDisconnect(transport.ErrClosed).Times(1)

	c := gethhttp.NewClient(srv.URL, 5*time.Second, log.New(log.WithWriter(io.Discard)))
	c.Attach(recv)
	require.Equal(t, "http", c.Kind())

	require.NoError(t, c.Send(context.Background(), []byte(`{"jsonrpc":"2.0","id":5,"method":"test_echo","params":["hi"]}`)))
	require.JSONEq(t, `{"jsonrpc":"2.0","id":5,"result":"hi"}`, string(<-frames))

	require.NoError(t, c.Send(context.Background(), []byte(`[{"jsonrpc":"2.0","id":6,"method":"test_echo","params":["a"]},{"jsonrpc":"2.0","id":7,"method":"test_echo","params":["b"]}]`)))
	require.JSONEq(t, `[{"jsonrpc":"2.0","id":6,"result":"a"},{"jsonrpc":"2.0","id":7,"result":"b"}]`, string(<-frames))

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	err := c.Send(context.Background(), []byte(`{}`))
	require.ErrorIs(t, err, transport.ErrClosed)
}

func TestPostFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctrl := gomock.NewController(t)
	recv := mocks.NewMockReceiver(ctrl)

	failures := make(chan error, 1)
	sent := []byte(`{"jsonrpc":"2.0","id":1,"method":"eth_chainId","params":[]}`)
	recv.EXPECT().HandleSendFailure(sent, gomock.Any()).Do(func(_ []byte, err error) { failures <- err })
	recv.EXPECT().HandleDisconnect(gomock.Any()).AnyTimes()

	c := gethhttp.NewClient(srv.URL, 5*time.Second, log.New(log.WithWriter(io.Discard)))
	c.Attach(recv)
	defer c.Close()

	require.NoError(t, c.Send(context.Background(), sent))

	err := <-failures
	var te *transport.Error
	require.ErrorAs(t, err, &te)
	require.Equal(t, "http", te.Kind)
	require.Contains(t, err.Error(), "503")
}

func TestPostErrorObjectWithStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"jsonrpc":"2.0","id":1,"error":{"code":-32600,"message":"bad"}}`)
	}))
	defer srv.Close()

	ctrl := gomock.NewController(t)
	recv := mocks.NewMockReceiver(ctrl)

	frames := make(chan []byte, 1)
	recv.EXPECT().HandleFrame(gomock.Any()).Do(func(f []byte) { frames <- f })
	recv.EXPECT().HandleDisconnect(gomock.Any()).AnyTimes()

	c := gethhttp.NewClient(srv.URL, 5*time.Second, log.New(log.WithWriter(io.Discard)))
	c.Attach(recv)
	defer c.Close()

	require.NoError(t, c.Send(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"x","params":[]}`)))
	require.Contains(t, string(<-frames), "-32600")
}

func TestPostMalformedBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<html>gateway</html>`)
	}))
	defer srv.Close()

	ctrl := gomock.NewController(t)
	recv := mocks.NewMockReceiver(ctrl)

	failures := make(chan error, 1)
	sent := []byte(`{"jsonrpc":"2.0","id":3,"method":"eth_chainId","params":[]}`)
	recv.EXPECT().HandleSendFailure(sent, gomock.Any()).Do(func(_ []byte, err error) { failures <- err })
	recv.EXPECT().HandleDisconnect(gomock.Any()).AnyTimes()

	c := gethhttp.NewClient(srv.URL, 5*time.Second, log.New(log.WithWriter(io.Discard)))
	c.Attach(recv)
	defer c.Close()

	require.NoError(t, c.Send(context.Background(), sent))

	err := <-failures
	var te *transport.Error
	require.ErrorAs(t, err, &te)
	require.Contains(t, err.Error(), "malformed response")
}

func TestPostUnansweredRequests(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		sent    string
		reply   string
		missing []float64
	}{
		{
			name:    "null id error",
			sent:    `{"jsonrpc":"2.0","id":4,"method":"eth_chainId","params":[]}`,
			reply:   `{"jsonrpc":"2.0","id":null,"error":{"code":-32600,"message":"invalid request"}}`,
			missing: []float64{4},
		},
		{
			name:    "batch element dropped",
			sent:    `[{"jsonrpc":"2.0","id":8,"method":"eth_chainId","params":[]},{"jsonrpc":"2.0","id":9,"method":"eth_blockNumber","params":[]},{"jsonrpc":"2.0","method":"eth_ping","params":[]}]`,
			reply:   `[{"jsonrpc":"2.0","id":8,"result":"0x1"}]`,
			missing: []float64{9},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, tt.reply)
			}))
			defer srv.Close()

			ctrl := gomock.NewController(t)
			recv := mocks.NewMockReceiver(ctrl)

			type failure struct {
				frame []byte
				err   error
			}
			failures := make(chan failure, 1)
			gomock.InOrder(
				recv.EXPECT().HandleFrame([]byte(tt.reply)),
				recv.EXPECT().HandleSendFailure(gomock.Any(), gomock.Any()).Do(func(f []byte, err error) { failures <- failure{f, err} }),
			)
			recv.EXPECT().HandleDisconnect(gomock.Any()).AnyTimes()

			c := gethhttp.NewClient(srv.URL, 5*time.Second, log.New(log.WithWriter(io.Discard)))
			c.Attach(recv)
			defer c.Close()

			require.NoError(t, c.Send(context.Background(), []byte(tt.sent)))

			got := <-failures
			require.ErrorIs(t, got.err, gethhttp.ErrUnanswered)
			var te *transport.Error
			require.ErrorAs(t, got.err, &te)

			var reqs []map[string]any
			require.NoError(t, json.Unmarshal(got.frame, &reqs))
			ids := make([]float64, 0, len(reqs))
			for _, r := range reqs {
				ids = append(ids, r["id"].(float64))
			}
			require.Equal(t, tt.missing, ids)
		})
	}
}
