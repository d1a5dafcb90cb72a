package engine

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want IOResult
	}{
		{"nil", nil, IOOk},
		{"deadline", os.ErrDeadlineExceeded, IOWouldBlock},
		{"wrapped deadline", fmt.Errorf("read: %w", os.ErrDeadlineExceeded), IOWouldBlock},
		{"eof", io.EOF, IODisconnected},
		{"closed pipe", io.ErrClosedPipe, IODisconnected},
		{"net closed", net.ErrClosed, IODisconnected},
		{"reset", &net.OpError{Op: "read", Err: syscall.ECONNRESET}, IODisconnected},
		{"broken pipe", &net.OpError{Op: "write", Err: syscall.EPIPE}, IODisconnected},
		{"engine closed", ErrClosed, IODisconnected},
		{"websocket close", &websocket.CloseError{Code: websocket.CloseGoingAway}, IODisconnected},
		{"other", errors.New("boom"), IOFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.err))
		})
	}
}

func TestWriteResult_TimeoutIsDisconnect(t *testing.T) {
	res, err := writeResult(os.ErrDeadlineExceeded)
	assert.Equal(t, IODisconnected, res)
	assert.Error(t, err)

	res, err = writeResult(nil)
	assert.Equal(t, IOOk, res)
	assert.NoError(t, err)
}

func TestIOResult_String(t *testing.T) {
	assert.Equal(t, "ok", IOOk.String())
	assert.Equal(t, "would-block", IOWouldBlock.String())
	assert.Equal(t, "disconnected", IODisconnected.String())
	assert.Equal(t, "fatal", IOFatal.String())
}

func TestPipe(t *testing.T) {
	a, b := NewPipe()

	p, err := b.Source()
	assert.NoError(t, err)
	assert.Nil(t, p)

	buf := []byte("hello")
	assert.NoError(t, a.Sink(buf))
	buf[0] = 'j'

	p, err = b.Source()
	assert.NoError(t, err)
	assert.Equal(t, []byte("hello"), p)

	assert.NoError(t, b.Close())
	assert.ErrorIs(t, a.Sink([]byte("x")), io.ErrClosedPipe)
	_, err = a.Source()
	assert.ErrorIs(t, err, io.EOF)
}
