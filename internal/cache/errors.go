package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// TransportKind distinguishes the retryable transport failures.
type TransportKind int

const (
	KindConnection TransportKind = iota
	KindTimeout
)

func (k TransportKind) String() string {
	if k == KindTimeout {
		return "timeout"
	}
	return "connection"
}

// TransportError is a retryable failure talking to a cache endpoint.
type TransportError struct {
	Op   string
	Addr string
	Kind TransportKind
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %s: %v", e.Op, e.Addr, e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Timeout reports whether the failure was a timeout.
func (e *TransportError) Timeout() bool { return e.Kind == KindTimeout }

// IsTransport reports whether err (or anything it wraps) is a *TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// classifyNetwork wraps err as a *TransportError when it looks like a network
// failure and returns nil otherwise.
func classifyNetwork(op, addr string, err error) *TransportError {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return te
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TransportError{Op: op, Addr: addr, Kind: KindTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		kind := KindConnection
		if netErr.Timeout() {
			kind = KindTimeout
		}
		return &TransportError{Op: op, Addr: addr, Kind: kind, Err: err}
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return &TransportError{Op: op, Addr: addr, Kind: KindConnection, Err: err}
	}
	return nil
}
