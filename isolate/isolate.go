package isolate

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/caffeineduck/opcore/dispatch"
	"github.com/caffeineduck/opcore/fault"
	"github.com/caffeineduck/opcore/ops"
	"github.com/caffeineduck/opcore/timers"
)

// ErrSubordinateClose is returned by Close on a subordinate context, which
// has no close surface.
var ErrSubordinateClose = errors.New("subordinate contexts cannot be closed")

// Isolate is one execution context.
type Isolate struct {
	host Host
	cfg  config
	log  *zap.Logger

	kind            Kind
	name            string
	state           State
	hasBootstrapped bool
	closing         bool
	bootErr         error

	info    StartInfo
	globals *Surface
	ns      *Surface

	micro  dispatch.Microtasks
	timers *timers.Queue
	disp   *dispatch.Dispatcher
}

// New creates an unbootstrapped isolate bound to host. Its global surface
// holds only the bootstrap entry points.
func New(host Host, opts ...Option) *Isolate {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	i := &Isolate{
		host:    host,
		cfg:     cfg,
		log:     cfg.log,
		globals: NewSurface("globalThis"),
		ns:      NewSurface(GlobalNamespace),
	}
	i.timers = timers.New(
		timers.WithClock(cfg.now),
		timers.WithArm(i.armGlobalTimer),
		timers.WithDisarm(i.disarmGlobalTimer),
	)

	entry := NewSurface(GlobalBootstrap)
	entry.Define(map[string]Property{
		"mainRuntime":   ReadOnlyValue(i.BootstrapPrimary),
		"workerRuntime": ReadOnlyValue(i.BootstrapSubordinate),
	})
	entry.Freeze()
	i.globals.Define(map[string]Property{
		GlobalBootstrap: WritableValue(entry),
	})
	return i
}

// BootstrapPrimary starts the isolate as the primary context. It may be
// called once, and not after BootstrapSubordinate.
func (i *Isolate) BootstrapPrimary() error {
	if err := i.bootstrap(KindPrimary, ""); err != nil {
		return err
	}
	if !i.info.Repl {
		return nil
	}
	if i.cfg.repl == nil {
		i.log.Warn("host requested a repl but none is configured")
		return nil
	}
	if err := i.cfg.repl(i); err != nil {
		return fmt.Errorf("repl: %w", err)
	}
	return nil
}

// BootstrapSubordinate starts the isolate as a worker called name.
func (i *Isolate) BootstrapSubordinate(name string) error {
	return i.bootstrap(KindSubordinate, name)
}

func (i *Isolate) bootstrap(kind Kind, name string) error {
	if i.hasBootstrapped {
		return &fault.Error{
			Phase:  fault.PhaseStartup,
			Kind:   fault.KindDoubleBootstrap,
			Detail: fmt.Sprintf("%s runtime already bootstrapped", kind),
		}
	}
	i.hasBootstrapped = true
	i.state = StateBootstrapping
	i.kind = kind
	i.name = name

	if err := i.boot(); err != nil {
		i.bootErr = err
		i.log.Error("bootstrap failed", zap.Stringer("kind", kind), zap.Error(err))
		return err
	}

	i.state = StateReady
	i.debug("cwd", zap.String("cwd", i.info.Cwd))
	i.debug("args", zap.Strings("args", i.info.Args))
	i.micro.Run()
	return nil
}

func (i *Isolate) boot() error {
	i.globals.Delete(GlobalBootstrap)

	table, err := ops.Build(i.host)
	if err != nil {
		return err
	}
	disp, err := dispatch.New(table, i.host, &i.micro, dispatch.WithLogger(i.log))
	if err != nil {
		return err
	}
	i.disp = disp

	i.host.RegisterCompletionRouter(i.handleCompletion)
	i.host.RegisterTimerHook(i.handleTimerMacrotask)

	info, err := performHandshake(disp)
	if err != nil {
		return err
	}
	i.info = info
	i.debug("bootstrap", zap.Stringer("kind", i.kind), zap.Int("ops", table.Len()))

	if err := i.globals.Define(i.windowOrWorkerScope()); err != nil {
		return err
	}
	scope := i.primaryScope()
	if i.kind == KindSubordinate {
		scope = i.workerScope()
	}
	if err := i.globals.Define(scope); err != nil {
		return err
	}

	if err := i.ns.Define(i.namespaceCore()); err != nil {
		return err
	}
	args := append([]string(nil), info.Args...)
	if err := i.ns.Define(map[string]Property{
		"pid":     ReadOnlyValue(info.PID),
		"noColor": ReadOnlyValue(info.NoColor),
		"args":    ReadOnlyValue(args),
	}); err != nil {
		return err
	}
	if i.kind == KindPrimary && info.UnstableFlag {
		if err := i.ns.Define(i.unstableScope()); err != nil {
			return err
		}
	}
	i.ns.Freeze()
	return nil
}

func (i *Isolate) debug(msg string, fields ...zap.Field) {
	if i.info.DebugFlag {
		i.log.Debug(msg, fields...)
	}
}

// handleCompletion is the router the host calls for every async result.
func (i *Isolate) handleCompletion(id uint32, buf []byte) error {
	err := i.disp.Route(id, buf)
	i.micro.Run()
	return err
}

// handleTimerMacrotask is the hook the host calls when the global timer
// fires.
func (i *Isolate) handleTimerMacrotask() bool {
	i.timers.Drain()
	i.micro.Run()
	return i.timers.Len() > 0
}

func (i *Isolate) armGlobalTimer(d time.Duration) {
	if i.disp == nil || !i.disp.Has(OpGlobalTimerStart) {
		return
	}
	err := i.disp.CallSync(OpGlobalTimerStart, map[string]any{"timeout": float64(d) / float64(time.Millisecond)}, nil)
	if err != nil {
		i.log.Warn("arm global timer", zap.Duration("timeout", d), zap.Error(err))
	}
}

func (i *Isolate) disarmGlobalTimer() {
	if i.disp == nil || !i.disp.Has(OpGlobalTimerStop) {
		return
	}
	if err := i.disp.CallSync(OpGlobalTimerStop, nil, nil); err != nil {
		i.log.Warn("stop global timer", zap.Error(err))
	}
}

// Close requests an orderly exit of a primary context. The first call
// queues a microtask that schedules a zero-delay timer, which calls
// host.Exit(0); later calls do nothing.
func (i *Isolate) Close() error {
	if i.state < StateReady {
		return fault.Startup(fault.KindNotBootstrapped, "close before bootstrap")
	}
	if i.kind == KindSubordinate {
		return ErrSubordinateClose
	}
	if i.closing {
		return nil
	}
	i.closing = true
	i.state = StateClosing
	i.micro.Enqueue(func() {
		i.timers.Set(0, func() {
			i.state = StateClosed
			i.host.Exit(0)
		})
	})
	return nil
}

// Task runs fn as a script task and then drains the microtask queue.
func (i *Isolate) Task(fn func()) {
	fn()
	i.micro.Run()
}

// SetTimeout schedules fn after delay. Microtasks queued by fn run before
// the next timer.
func (i *Isolate) SetTimeout(delay time.Duration, fn func()) timers.ID {
	return i.timers.Set(delay, func() {
		fn()
		i.micro.Run()
	})
}

// ClearTimeout cancels a timer.
func (i *Isolate) ClearTimeout(id timers.ID) bool {
	return i.timers.Clear(id)
}

// QueueMicrotask queues fn to run after the current task.
func (i *Isolate) QueueMicrotask(fn func()) {
	i.micro.Enqueue(fn)
}

// DispatchLoad calls the onload handler of a primary context, if one is
// set. It reports whether a handler ran.
func (i *Isolate) DispatchLoad() bool {
	return i.dispatchEvent("onload")
}

// DispatchUnload calls the onunload handler of a primary context, if one
// is set.
func (i *Isolate) DispatchUnload() bool {
	return i.dispatchEvent("onunload")
}

func (i *Isolate) dispatchEvent(prop string) bool {
	if i.kind != KindPrimary || i.state < StateReady {
		return false
	}
	v, _ := i.globals.Get(prop)
	fn, ok := v.(func())
	if !ok {
		return false
	}
	i.Task(fn)
	return true
}

// State returns the lifecycle state.
func (i *Isolate) State() State {
	return i.state
}

// Kind returns the context kind. It is meaningful once bootstrapped.
func (i *Isolate) Kind() Kind {
	return i.kind
}

// Name returns the worker name of a subordinate context.
func (i *Isolate) Name() string {
	return i.name
}

// Err returns the error that aborted bootstrap, if any.
func (i *Isolate) Err() error {
	return i.bootErr
}

// Info returns the handshake response.
func (i *Isolate) Info() StartInfo {
	return i.info
}

// Closing reports whether Close has been called.
func (i *Isolate) Closing() bool {
	return i.closing
}

// Globals returns the global surface.
func (i *Isolate) Globals() *Surface {
	return i.globals
}

// Namespace returns the runtime namespace.
func (i *Isolate) Namespace() *Surface {
	return i.ns
}

// Dispatcher returns the op dispatcher. It is nil before bootstrap.
func (i *Isolate) Dispatcher() *dispatch.Dispatcher {
	return i.disp
}

// Timers returns the timer queue.
func (i *Isolate) Timers() *timers.Queue {
	return i.timers
}
