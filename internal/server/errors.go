package server

import (
	"errors"
	"fmt"
)

var (
	ErrListen   = errors.New("server: unable to listen")
	ErrShutdown = errors.New("server: shutdown failed")
)

// ServerError wraps a listener or shutdown failure.
type ServerError struct {
	Op   string
	Addr string
	Err  error
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *ServerError) Unwrap() error {
	return e.Err
}

func wrapServerErr(op, addr string, sentinel, cause error) error {
	return &ServerError{Op: op, Addr: addr, Err: fmt.Errorf("%w: %v", sentinel, cause)}
}
