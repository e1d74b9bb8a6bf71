package correlation

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrTimeout        = errors.New("call timed out")
	ErrConnectionLost = errors.New("connection lost")
)

type TimeoutError struct {
	ID     uint64
	Method string
	After  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s (id %d): no response after %s", e.Method, e.ID, e.After)
}

func (e *TimeoutError) Unwrap() error {
	return ErrTimeout
}

func (e *TimeoutError) Timeout() bool {
	return true
}

type ConnectionLostError struct {
	ID     uint64
	Method string
	Cause  error
}

func (e *ConnectionLostError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (id %d): connection lost: %s", e.Method, e.ID, e.Cause)
	}
	return fmt.Sprintf("%s (id %d): connection lost", e.Method, e.ID)
}

func (e *ConnectionLostError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrConnectionLost}
	}
	return []error{ErrConnectionLost, e.Cause}
}

type CanceledError struct {
	ID     uint64
	Method string
}

func (e *CanceledError) Error() string {
	return fmt.Sprintf("%s (id %d): canceled", e.Method, e.ID)
}

func (e *CanceledError) Unwrap() error {
	return context.Canceled
}

type DuplicateIDError struct {
	ID uint64
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("id %d is already outstanding", e.ID)
}
