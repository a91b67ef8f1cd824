package plc

import (
	"fmt"
	"net"

	"github.com/goburrow/modbus"
)

// ErrKind classifies a failed bus operation.
type ErrKind uint8

const (
	ErrNotConnected ErrKind = iota
	ErrTransport
	ErrProtocol
	ErrDevice
)

func (k ErrKind) String() string {
	switch k {
	case ErrNotConnected:
		return "not-connected"
	case ErrTransport:
		return "transport"
	case ErrProtocol:
		return "protocol"
	case ErrDevice:
		return "device"
	}
	return "unknown"
}

// Error is the structured result of a failed bus operation. Callers branch on
// Kind; retry policy is theirs, the transport never retries.
type Error struct {
	Kind ErrKind
	Op   string
	Addr uint16
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("plc %s at %v: %s", e.Op, e.Addr, e.Kind)
	}
	return fmt.Sprintf("plc %s at %v: %s: %v", e.Op, e.Addr, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func classify(op string, addr uint16, err error) error {
	if err == nil {
		return nil
	}
	kind := ErrProtocol
	if _, ok := err.(*modbus.ModbusError); ok {
		// the device answered with a Modbus exception code.
		kind = ErrDevice
	} else if _, ok := err.(net.Error); ok {
		kind = ErrTransport
	}
	return &Error{Kind: kind, Op: op, Addr: addr, Err: err}
}

func notConnected(op string, addr uint16) error {
	return &Error{Kind: ErrNotConnected, Op: op, Addr: addr}
}

// KindOf extracts the error kind, ErrProtocol for foreign errors.
func KindOf(err error) ErrKind {
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return ErrProtocol
}
