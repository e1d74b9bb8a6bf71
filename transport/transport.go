// Package transport defines the byte-frame channel a client talks through.
// Implementations live in the gethws and gethhttp subpackages.
package transport

import (
	"context"
	"errors"
	"fmt"
)

//go:generate mockgen -destination=./mocks/mocks.go -package=mocks github.com/blocknative/ethrpc/transport Channel,Receiver

var (
	ErrConnectionFailure = errors.New("connection failure")
	ErrClosed            = errors.New("channel closed")
)

// Receiver consumes what a Channel produces. Frames arrive in the order the
// link delivered them.
type Receiver interface {
	HandleFrame(frame []byte)
	// HandleSendFailure reports a frame that was accepted by Send but could
	// not be delivered.
	HandleSendFailure(frame []byte, err error)
	// HandleDisconnect is called once per lost link, before any reconnect.
	HandleDisconnect(err error)
}

type Channel interface {
	Attach(r Receiver)
	Send(ctx context.Context, frame []byte) error
	Kind() string
	Endpoint() string
	Close() error
}

type Error struct {
	Kind     string
	Endpoint string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Kind, e.Endpoint, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NopReceiver drops everything; channels start with it until Attach.
type NopReceiver struct{}

func (NopReceiver) HandleFrame([]byte)              {}
func (NopReceiver) HandleSendFailure([]byte, error) {}
func (NopReceiver) HandleDisconnect(error)          {}
