package nativehost

import (
	"context"
	"errors"
	"io/fs"
	"net"

	"github.com/caffeineduck/opcore/dispatch"
)

// classify converts err into an OpError with the closest kind.
func classify(err error) *dispatch.OpError {
	var oe *dispatch.OpError
	switch {
	case errors.As(err, &oe):
		return oe
	case errors.Is(err, fs.ErrNotExist):
		return &dispatch.OpError{Kind: dispatch.NotFound, Message: err.Error()}
	case errors.Is(err, fs.ErrPermission):
		return &dispatch.OpError{Kind: dispatch.PermissionDenied, Message: err.Error()}
	case errors.Is(err, fs.ErrExist):
		return &dispatch.OpError{Kind: dispatch.AlreadyExists, Message: err.Error()}
	case errors.Is(err, context.DeadlineExceeded):
		return &dispatch.OpError{Kind: dispatch.TimedOut, Message: err.Error()}
	case errors.Is(err, context.Canceled):
		return &dispatch.OpError{Kind: dispatch.Interrupted, Message: err.Error()}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &dispatch.OpError{Kind: dispatch.TimedOut, Message: err.Error()}
	}
	return &dispatch.OpError{Kind: dispatch.Other, Message: err.Error()}
}

func invalidArg(msg string) error {
	return dispatch.NewOpError(dispatch.InvalidInput, "%s", msg)
}

func denied(format string, args ...any) error {
	return dispatch.NewOpError(dispatch.PermissionDenied, format, args...)
}

func stringArg(args map[string]any, name string) (string, error) {
	v, ok := args[name].(string)
	if !ok {
		return "", invalidArg(name + " required")
	}
	return v, nil
}
