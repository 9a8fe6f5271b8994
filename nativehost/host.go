package nativehost

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/caffeineduck/opcore/dispatch"
)

// pollInterval re-runs the timer hook when it reports pending timers but
// nothing re-armed the global timer.
const pollInterval = time.Millisecond

var ErrNoRouter = errors.New("no completion router registered")

type completion struct {
	id  uint32
	buf []byte
}

// Host is an in-process native host. Op calls from the isolate execute
// either inline (sync) or on their own goroutine (async); completions are
// delivered to the isolate one at a time by Run.
type Host struct {
	*Registry

	cfg   Config
	log   *zap.Logger
	now   func() time.Time
	res   *resources
	fs    *FS
	start time.Time

	route func(uint32, []byte) error
	hook  func() bool

	sem         *semaphore.Weighted
	opCtx       context.Context
	cancelOps   context.CancelFunc
	completions chan completion
	posts       chan func()
	stopped     chan struct{}
	stopOnce    sync.Once
	inflight    atomic.Int64
	refs        atomic.Int64

	timerMu sync.Mutex
	timer   *time.Timer
	wake    chan struct{}

	exitOnce sync.Once
	exited   atomic.Bool
	exitCode atomic.Int64
	exitCh   chan struct{}
}

// New creates a host with the built-in ops selected by cfg.
func New(cfg Config, opts ...Option) *Host {
	cfg.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	h := &Host{
		Registry:    NewRegistry(),
		cfg:         cfg,
		log:         zap.NewNop(),
		now:         time.Now,
		res:         newResources(cfg.Stdin, cfg.Stdout, cfg.Stderr),
		sem:         semaphore.NewWeighted(cfg.MaxConcurrentOps),
		opCtx:       ctx,
		cancelOps:   cancel,
		completions: make(chan completion, 16),
		posts:       make(chan func(), 64),
		stopped:     make(chan struct{}),
		wake:        make(chan struct{}, 1),
		exitCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.start = h.now()
	h.registerBuiltins()
	return h
}

// Config returns the effective configuration.
func (h *Host) Config() Config {
	return h.cfg
}

// RegisterCompletionRouter implements isolate.Host.
func (h *Host) RegisterCompletionRouter(route func(uint32, []byte) error) {
	h.route = route
}

// RegisterTimerHook implements isolate.Host.
func (h *Host) RegisterTimerHook(hook func() bool) {
	h.hook = hook
}

// InvokeSync runs op id on the calling goroutine.
func (h *Host) InvokeSync(id uint32, payload []byte) ([]byte, error) {
	e, ok := h.get(id)
	if !ok {
		return nil, fmt.Errorf("op #%d not registered", id)
	}
	if e.codec == dispatch.CodecMinimal {
		return h.runStream(h.opCtx, e, payload), nil
	}
	return h.runOp(h.opCtx, e, payload), nil
}

// InvokeAsync starts op id on its own goroutine. The completion is
// delivered by Run.
func (h *Host) InvokeAsync(id uint32, payload []byte) error {
	e, ok := h.get(id)
	if !ok {
		return fmt.Errorf("op #%d not registered", id)
	}
	if h.exited.Load() {
		return dispatch.NewOpError(dispatch.Interrupted, "host is exiting")
	}

	h.inflight.Add(1)
	buf := append([]byte(nil), payload...)
	go func() {
		var out []byte
		if err := h.sem.Acquire(h.opCtx, 1); err != nil {
			out = h.failAsync(e, buf, err)
		} else {
			if e.codec == dispatch.CodecMinimal {
				out = h.runStream(h.opCtx, e, buf)
			} else {
				out = h.runOp(h.opCtx, e, buf)
			}
			h.sem.Release(1)
		}

		select {
		case h.completions <- completion{id: id, buf: out}:
		case <-h.stopped:
		}
	}()
	return nil
}

func (h *Host) runOp(ctx context.Context, e *entry, payload []byte) (out []byte) {
	req, err := dispatch.DecodeRequest(payload)
	if err != nil {
		return dispatch.EncodeResult(nil, nil, dispatch.NewOpError(dispatch.InvalidData, "%v", err))
	}
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("op panicked", zap.String("op", e.name), zap.Any("panic", r))
			out = dispatch.EncodeResult(req.PromiseID, nil, dispatch.NewOpError(dispatch.Other, "op %s panicked", e.name))
		}
	}()

	v, err := e.op(ctx, req.Args)
	if err != nil {
		h.debug("op failed", zap.String("op", e.name), zap.Error(err))
		return dispatch.EncodeResult(req.PromiseID, nil, classify(err))
	}
	return dispatch.EncodeResult(req.PromiseID, v, nil)
}

func (h *Host) runStream(ctx context.Context, e *entry, payload []byte) (out []byte) {
	rec, err := dispatch.DecodeMinimal(payload)
	if err != nil {
		return dispatch.EncodeMinimal(dispatch.MinimalError(0, dispatch.NewOpError(dispatch.InvalidData, "%v", err)))
	}
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("op panicked", zap.String("op", e.name), zap.Any("panic", r))
			out = dispatch.EncodeMinimal(dispatch.MinimalError(rec.PromiseID, dispatch.NewOpError(dispatch.Other, "op %s panicked", e.name)))
		}
	}()

	n, data, err := e.stream(ctx, rec.Status, rec.Data)
	if err != nil {
		return dispatch.EncodeMinimal(dispatch.MinimalError(rec.PromiseID, classify(err)))
	}
	return dispatch.EncodeMinimal(dispatch.MinimalRecord{PromiseID: rec.PromiseID, Status: n, Data: data})
}

func (h *Host) failAsync(e *entry, payload []byte, err error) []byte {
	oe := dispatch.NewOpError(dispatch.Interrupted, "%v", err)
	if e.codec == dispatch.CodecMinimal {
		rec, _ := dispatch.DecodeMinimal(payload)
		return dispatch.EncodeMinimal(dispatch.MinimalError(rec.PromiseID, oe))
	}
	req, _ := dispatch.DecodeRequest(payload)
	return dispatch.EncodeResult(req.PromiseID, nil, oe)
}

// Post queues fn to run on the loop goroutine.
func (h *Host) Post(fn func()) {
	select {
	case h.posts <- fn:
	case <-h.stopped:
	}
}

// Ref keeps Run alive while no work is pending, until a matching Unref.
func (h *Host) Ref() {
	h.refs.Add(1)
}

// Unref releases a Ref.
func (h *Host) Unref() {
	h.refs.Add(-1)
	h.notify()
}

func (h *Host) notify() {
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

// Exit implements isolate.Host. It records code, stops Run and calls the
// configured ExitFunc. Only the first call has any effect.
func (h *Host) Exit(code int) {
	h.exitOnce.Do(func() {
		h.exitCode.Store(int64(code))
		h.exited.Store(true)
		close(h.exitCh)
		h.log.Debug("exit requested", zap.Int("code", code))
		if h.cfg.ExitFunc != nil {
			h.cfg.ExitFunc(code)
		}
	})
}

// Done is closed when Run returns.
func (h *Host) Done() <-chan struct{} {
	return h.stopped
}

// Exited reports whether Exit was called.
func (h *Host) Exited() bool {
	return h.exited.Load()
}

// ExitCode returns the code passed to Exit.
func (h *Host) ExitCode() int {
	return int(h.exitCode.Load())
}

// Inflight returns the number of async ops whose completion has not been
// delivered.
func (h *Host) Inflight() int {
	return int(h.inflight.Load())
}

func (h *Host) idle() bool {
	return h.inflight.Load() == 0 && h.refs.Load() <= 0 && !h.timerArmed() && len(h.posts) == 0
}

// Run drives the loop: it delivers completions, fires the timer hook and
// runs posted tasks until the isolate exits, no work remains, ctx ends, or
// the router reports a fault.
func (h *Host) Run(ctx context.Context) error {
	defer h.shutdown()

	for {
		if h.exited.Load() || h.idle() {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-h.exitCh:
			return nil

		case c := <-h.completions:
			h.inflight.Add(-1)
			if h.route == nil {
				return ErrNoRouter
			}
			if err := h.route(c.id, c.buf); err != nil {
				h.log.Error("routing fault", zap.Uint32("op_id", c.id), zap.Error(err))
				return err
			}

		case <-h.timerC():
			h.fireTimer()

		case fn := <-h.posts:
			fn()

		case <-h.wake:
		}
	}
}

func (h *Host) shutdown() {
	h.stopOnce.Do(func() {
		close(h.stopped)
		h.cancelOps()
		h.stopTimer()
		if err := h.res.closeAll(); err != nil {
			h.log.Warn("close resources", zap.Error(err))
		}
	})
}

func (h *Host) timerC() <-chan time.Time {
	h.timerMu.Lock()
	defer h.timerMu.Unlock()
	if h.timer == nil {
		return nil
	}
	return h.timer.C
}

func (h *Host) timerArmed() bool {
	h.timerMu.Lock()
	defer h.timerMu.Unlock()
	return h.timer != nil
}

func (h *Host) armTimer(d time.Duration) {
	h.timerMu.Lock()
	if h.timer != nil {
		h.timer.Stop()
	}
	h.timer = time.NewTimer(d)
	h.timerMu.Unlock()
	h.notify()
}

func (h *Host) stopTimer() {
	h.timerMu.Lock()
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
	h.timerMu.Unlock()
}

func (h *Host) fireTimer() {
	h.timerMu.Lock()
	h.timer = nil
	h.timerMu.Unlock()

	if h.hook == nil {
		return
	}
	if h.hook() && !h.timerArmed() {
		h.armTimer(pollInterval)
	}
}

func (h *Host) debug(msg string, fields ...zap.Field) {
	if h.cfg.Debug {
		h.log.Debug(msg, fields...)
	}
}
