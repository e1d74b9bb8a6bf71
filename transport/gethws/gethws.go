package gethws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lthibault/log"
	"go.uber.org/atomic"

	"github.com/blocknative/ethrpc/transport"
)

const (
	healthInterval = 2 * time.Second
	writeWait      = 5 * time.Second
	inputQueueLen  = 50
)

var ErrHealthTimeout = errors.New("ws timed out")

type Config struct {
	HealthInterval time.Duration
	RetryInterval  time.Duration
	QueueLen       int
	Dialer         *websocket.Dialer
}

func (c Config) withDefaults() Config {
	if c.HealthInterval <= 0 {
		c.HealthInterval = healthInterval
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = time.Second
	}
	if c.QueueLen <= 0 {
		c.QueueLen = inputQueueLen
	}
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}
	return c
}

// Conn is a single websocket connection. It never reconnects; ReConn
// replaces it once Done is closed.
type Conn struct {
	c   *websocket.Conn
	l   log.Logger
	cfg Config
	ID  string

	input   chan []byte
	deliver func([]byte)
	failed  func([]byte, error)

	lastRead *atomic.Int64
	healthy  *atomic.Bool

	Done chan struct{}
	stop chan struct{}

	closeLock sync.Mutex
	isClosed  bool
	err       error
}

func NewConn(l log.Logger, cfg Config, deliver func([]byte), failed func([]byte, error)) *Conn {
	id := uuid.NewString()
	cfg = cfg.withDefaults()
	return &Conn{
		l:        l.With(log.F{"module": "gethws", "conn": id}),
		cfg:      cfg,
		ID:       id,
		input:    make(chan []byte, cfg.QueueLen),
		deliver:  deliver,
		failed:   failed,
		lastRead: atomic.NewInt64(0),
		healthy:  atomic.NewBool(false),
		Done:     make(chan struct{}),
		stop:     make(chan struct{}),
	}
}

func (conn *Conn) Connect(ctx context.Context, url string) (err error) {
	conn.c, _, err = conn.cfg.Dialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}

	conn.c.SetPongHandler(func(string) error {
		conn.lastRead.Store(time.Now().UnixNano())
		return nil
	})

	// allow to wait first full interval
	conn.lastRead.Store(time.Now().UnixNano())
	conn.healthy.Store(true)

	go conn.readHandler()
	go conn.writeHandler()
	return nil
}

func (conn *Conn) Healthy() bool {
	return conn.healthy.Load()
}

// Err is the reason the connection ended, valid once Done is closed.
func (conn *Conn) Err() error {
	conn.closeLock.Lock()
	defer conn.closeLock.Unlock()
	return conn.err
}

// Enqueue hands frame to the writer. Frames still queued when the
// connection dies are dropped with it.
func (conn *Conn) Enqueue(ctx context.Context, frame []byte) error {
	select {
	case <-conn.Done:
		return transport.ErrConnectionFailure
	default:
	}

	select {
	case conn.input <- frame:
		return nil
	case <-conn.Done:
		return transport.ErrConnectionFailure
	case <-ctx.Done(): // allow to discard on full queue
		return ctx.Err()
	}
}

// Close asks the writer to send a close frame and shut down.
func (conn *Conn) Close() {
	conn.closeLock.Lock()
	defer conn.closeLock.Unlock()

	select {
	case <-conn.stop:
	default:
		close(conn.stop)
	}
}

func (conn *Conn) shutdown(err error) {
	conn.closeLock.Lock()
	defer conn.closeLock.Unlock()

	if conn.isClosed {
		return
	}

	conn.isClosed = true
	conn.err = err
	conn.healthy.Store(false)
	conn.c.Close()
	close(conn.Done)
}

func (conn *Conn) readHandler() {
	for {
		_, message, err := conn.c.ReadMessage()
		if err != nil {
			conn.l.WithError(err).Debug("error reading from ws")
			conn.shutdown(err)
			return
		}
		conn.lastRead.Store(time.Now().UnixNano())
		conn.deliver(message)
	}
}

func (conn *Conn) writeHandler() {
	ticker := time.NewTicker(conn.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case in := <-conn.input:
			conn.c.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.c.WriteMessage(websocket.TextMessage, in); err != nil {
				conn.l.WithError(err).Warn("error writing to ws")
				conn.failed(in, err)
				conn.shutdown(err)
				return
			}
		case <-ticker.C:
			last := time.Unix(0, conn.lastRead.Load())
			if time.Since(last) > conn.cfg.HealthInterval*2 {
				conn.l.Warn("ws timed out")
				conn.shutdown(ErrHealthTimeout)
				return
			}
			if err := conn.c.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				conn.l.WithError(err).Warn("error pinging ws")
				conn.shutdown(err)
				return
			}
		case <-conn.stop:
			err := conn.c.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			if err != nil {
				conn.l.WithError(err).Warn("error closing ws")
			}
			conn.l.Debug("closing connection")
			conn.shutdown(transport.ErrClosed)
			return
		case <-conn.Done:
			return
		}
	}
}
