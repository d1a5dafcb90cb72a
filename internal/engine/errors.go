package engine

import "errors"

var (
	ErrTooFewTokens     = errors.New("frame needs a service and a method")
	ErrDuplicateService = errors.New("service already registered")
	ErrServiceNotFound  = errors.New("service not found")
	ErrAlreadyRunning   = errors.New("server already running")
	ErrNotRunning       = errors.New("server not running")
	ErrMasterOnly       = errors.New("operation requires a listening server")
	ErrSlaveOnly        = errors.New("operation requires a server without listener")
	ErrClosed           = errors.New("connection closed")
	ErrInvalidConfig    = errors.New("invalid engine configuration")
	ErrStopped          = errors.New("server already stopped")

	errDatagramIdle = errors.New("datagram peer idle")
)
