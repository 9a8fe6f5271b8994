package dispatch

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed host operation. Values travel on the wire
// as integers.
type ErrorKind uint32

const (
	NotFound ErrorKind = iota + 1
	PermissionDenied
	ConnectionRefused
	ConnectionReset
	ConnectionAborted
	NotConnected
	AddrInUse
	AddrNotAvailable
	BrokenPipe
	AlreadyExists
	WouldBlock
	InvalidInput
	InvalidData
	TimedOut
	Interrupted
	WriteZero
	UnexpectedEOF
	BadResource
	Http
	URIError
	TypeError
	Other
	Busy
)

var kindNames = map[ErrorKind]string{
	NotFound:          "NotFound",
	PermissionDenied:  "PermissionDenied",
	ConnectionRefused: "ConnectionRefused",
	ConnectionReset:   "ConnectionReset",
	ConnectionAborted: "ConnectionAborted",
	NotConnected:      "NotConnected",
	AddrInUse:         "AddrInUse",
	AddrNotAvailable:  "AddrNotAvailable",
	BrokenPipe:        "BrokenPipe",
	AlreadyExists:     "AlreadyExists",
	WouldBlock:        "WouldBlock",
	InvalidInput:      "InvalidInput",
	InvalidData:       "InvalidData",
	TimedOut:          "TimedOut",
	Interrupted:       "Interrupted",
	WriteZero:         "WriteZero",
	UnexpectedEOF:     "UnexpectedEof",
	BadResource:       "BadResource",
	Http:              "Http",
	URIError:          "URIError",
	TypeError:         "TypeError",
	Other:             "Other",
	Busy:              "Busy",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ErrorKind(%d)", uint32(k))
}

// OpError is the error reported by the host for a failed operation.
type OpError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *OpError) Error() string {
	return e.Message
}

// NewOpError creates an OpError.
func NewOpError(kind ErrorKind, format string, args ...any) *OpError {
	return &OpError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// AsOpError converts err to an OpError, defaulting the kind to Other.
func AsOpError(err error) *OpError {
	var oe *OpError
	if errors.As(err, &oe) {
		return oe
	}
	return &OpError{Kind: Other, Message: err.Error()}
}

// KindOf returns the ErrorKind of err, or 0 if err is not an OpError.
func KindOf(err error) ErrorKind {
	var oe *OpError
	if errors.As(err, &oe) {
		return oe.Kind
	}
	return 0
}
