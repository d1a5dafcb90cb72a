package engine

import (
	"errors"
	"io"
	"net"
	"syscall"

	"github.com/gorilla/websocket"
)

// IOResult is the outcome of one transport read or write.
type IOResult int

const (
	IOOk IOResult = iota
	IOWouldBlock
	IODisconnected
	IOFatal
)

func (r IOResult) String() string {
	switch r {
	case IOOk:
		return "ok"
	case IOWouldBlock:
		return "would-block"
	case IODisconnected:
		return "disconnected"
	default:
		return "fatal"
	}
}

func classify(err error) IOResult {
	if err == nil {
		return IOOk
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return IOWouldBlock
	}

	var closeErr *websocket.CloseError
	switch {
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.ErrClosedPipe),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, ErrClosed),
		errors.Is(err, websocket.ErrCloseSent),
		errors.As(err, &closeErr):
		return IODisconnected
	}
	return IOFatal
}
