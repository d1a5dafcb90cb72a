package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRPCMessage(t *testing.T) {
	msg, err := NewRPCMessage("Chat\x1fSay\x1fhello\x1f42\x1f2.5\x1ftrue", nil)
	require.NoError(t, err)

	assert.Equal(t, "Chat", msg.Service())
	assert.Equal(t, "Say", msg.Method())
	assert.Equal(t, "Chat.Say", msg.RPCName())
	assert.Equal(t, []string{"hello", "42", "2.5", "true"}, msg.Args())
	assert.Equal(t, 4, msg.NumArgs())
	assert.Equal(t, "hello", msg.Arg(0))
	assert.Equal(t, "", msg.Arg(9))
	assert.Equal(t, "", msg.Arg(-1))
	assert.False(t, msg.Received.IsZero())

	n, err := msg.Int(1)
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	f, err := msg.Float(2)
	require.NoError(t, err)
	assert.Equal(t, 2.5, f)

	b, err := msg.Bool(3)
	require.NoError(t, err)
	assert.True(t, b)
}

func TestNewRPCMessage_TooFewTokens(t *testing.T) {
	for _, raw := range []string{"", "OnlyService"} {
		_, err := NewRPCMessage(raw, nil)
		assert.ErrorIs(t, err, ErrTooFewTokens, raw)
	}
}

func TestRPCMessage_TypedArgErrors(t *testing.T) {
	msg, err := NewRPCMessage("Svc\x1fMethod\x1fnot-a-number", nil)
	require.NoError(t, err)

	_, err = msg.Int(0)
	assert.Error(t, err)
	_, err = msg.Int(1)
	assert.Error(t, err)
	_, err = msg.Float(5)
	assert.Error(t, err)
	_, err = msg.Bool(0)
	assert.Error(t, err)
}

func TestQueue_FIFO(t *testing.T) {
	var q queue[int]
	_, ok := q.Pop()
	assert.False(t, ok)

	q.Push(1)
	q.Push(2)
	q.Push(3)
	assert.Equal(t, 3, q.Len())

	v, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, []int{2, 3}, q.Drain())
	assert.Zero(t, q.Len())
}
