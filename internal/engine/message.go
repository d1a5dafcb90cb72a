package engine

import (
	"fmt"
	"strconv"
	"time"

	"github.com/sirosfoundation/go-appserver/pkg/wire"
)

// RPCMessage is one decoded call. It is consumed by a single dispatch and
// must not be retained after the tick that processed it.
type RPCMessage struct {
	Raw      string
	Received time.Time
	Conn     *Client

	tokens []string
}

// NewRPCMessage parses a frame body received from conn. conn may be nil for
// calls synthesized without a connection.
func NewRPCMessage(raw string, conn *Client) (*RPCMessage, error) {
	tokens := wire.Split(raw)
	if len(tokens) < 2 {
		return nil, fmt.Errorf("%w: %q", ErrTooFewTokens, raw)
	}
	return &RPCMessage{
		Raw:      raw,
		Received: time.Now(),
		Conn:     conn,
		tokens:   tokens,
	}, nil
}

func (m *RPCMessage) Service() string { return m.tokens[0] }
func (m *RPCMessage) Method() string  { return m.tokens[1] }

// RPCName is "Service.Method", the dispatch key.
func (m *RPCMessage) RPCName() string {
	return rpcName(m.tokens[0], m.tokens[1])
}

// Args returns the positional arguments. The slice must not be modified.
func (m *RPCMessage) Args() []string { return m.tokens[2:] }

func (m *RPCMessage) NumArgs() int { return len(m.tokens) - 2 }

// Arg returns argument i, or "" when out of range.
func (m *RPCMessage) Arg(i int) string {
	if i < 0 || i >= m.NumArgs() {
		return ""
	}
	return m.tokens[i+2]
}

func (m *RPCMessage) Int(i int) (int, error) {
	if i < 0 || i >= m.NumArgs() {
		return 0, fmt.Errorf("%s: missing argument %d", m.RPCName(), i)
	}
	return strconv.Atoi(m.tokens[i+2])
}

func (m *RPCMessage) Float(i int) (float64, error) {
	if i < 0 || i >= m.NumArgs() {
		return 0, fmt.Errorf("%s: missing argument %d", m.RPCName(), i)
	}
	return strconv.ParseFloat(m.tokens[i+2], 64)
}

func (m *RPCMessage) Bool(i int) (bool, error) {
	if i < 0 || i >= m.NumArgs() {
		return false, fmt.Errorf("%s: missing argument %d", m.RPCName(), i)
	}
	return strconv.ParseBool(m.tokens[i+2])
}

func rpcName(service, method string) string {
	return service + "." + method
}
