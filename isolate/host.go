package isolate

import (
	"github.com/caffeineduck/opcore/dispatch"
	"github.com/caffeineduck/opcore/ops"
)

// Host is the native counterpart of an isolate.
type Host interface {
	ops.Enumerator
	dispatch.Invoker

	// RegisterCompletionRouter installs the function the host calls, one
	// completion at a time, for every async op result. A non-nil return is
	// a routing fault and halts the host.
	RegisterCompletionRouter(route func(id uint32, buf []byte) error)

	// RegisterTimerHook installs the function the host calls when the
	// global timer fires. It reports whether timers remain pending.
	RegisterTimerHook(hook func() bool)

	// Exit terminates the context with code.
	Exit(code int)
}
