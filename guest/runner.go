package guest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"

	"github.com/caffeineduck/opcore/isolate"
)

// ErrClosed is returned by a Runner after Close.
var ErrClosed = errors.New("runner closed")

// Result describes one completed guest run.
type Result struct {
	ExitCode int
	Duration time.Duration
	Error    error
}

// Runner manages a wazero runtime and a cache of compiled guest modules.
type Runner struct {
	runtime  wazero.Runtime
	cache    wazero.CompilationCache
	compiled map[string]wazero.CompiledModule
	log      *zap.Logger
	mu       sync.RWMutex
	closed   bool
}

// New creates a Runner with WASI and the opcore host module instantiated.
func New(opts ...Option) (*Runner, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx := context.Background()

	var cache wazero.CompilationCache
	if cfg.diskCache {
		dir := cfg.cacheDir
		if dir == "" {
			dir = defaultCacheDir()
		}
		var err error
		cache, err = wazero.NewCompilationCacheWithDir(dir)
		if err != nil {
			return nil, fmt.Errorf("create disk cache: %w", err)
		}
	}

	rtConfig := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if cache != nil {
		rtConfig = rtConfig.WithCompilationCache(cache)
	}
	if cfg.memoryLimitPages > 0 {
		rtConfig = rtConfig.WithMemoryLimitPages(cfg.memoryLimitPages)
	}

	rt := wazero.NewRuntimeWithConfig(ctx, rtConfig)
	r := &Runner{
		runtime:  rt,
		cache:    cache,
		compiled: make(map[string]wazero.CompiledModule),
		log:      cfg.log,
	}

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		r.Close()
		return nil, fmt.Errorf("instantiate WASI: %w", err)
	}
	if err := r.instantiateHostModule(ctx); err != nil {
		r.Close()
		return nil, fmt.Errorf("instantiate %s: %w", HostModule, err)
	}
	return r, nil
}

// Compile compiles wasm, caching the result under name.
func (r *Runner) Compile(ctx context.Context, name string, wasm []byte) (wazero.CompiledModule, error) {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return nil, ErrClosed
	}
	if compiled, ok := r.compiled[name]; ok {
		r.mu.RUnlock()
		return compiled, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	if compiled, ok := r.compiled[name]; ok {
		return compiled, nil
	}

	compiled, err := r.runtime.CompileModule(ctx, wasm)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", name, err)
	}
	r.compiled[name] = compiled
	return compiled, nil
}

// Instance is a guest module bound to an isolate.
type Instance struct {
	mod  api.Module
	sess *session
}

// Instantiate compiles wasm if needed and instantiates it against iso. A
// _start export runs before Instantiate returns.
func (r *Runner) Instantiate(ctx context.Context, iso *isolate.Isolate, name string, wasm []byte, opts ...RunOption) (*Instance, error) {
	cfg := defaultRunConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return r.instantiate(ctx, iso, name, wasm, cfg)
}

func (r *Runner) instantiate(ctx context.Context, iso *isolate.Isolate, name string, wasm []byte, cfg runConfig) (*Instance, error) {
	if iso.Dispatcher() == nil {
		return nil, fmt.Errorf("instantiate %s: isolate not bootstrapped", name)
	}
	compiled, err := r.Compile(ctx, name, wasm)
	if err != nil {
		return nil, err
	}

	sess := &session{iso: iso, log: r.log}
	modConfig := wazero.NewModuleConfig().
		WithName("").
		WithStdin(orEmpty(cfg.stdin)).
		WithStdout(orDiscard(cfg.stdout)).
		WithStderr(orDiscard(cfg.stderr)).
		WithArgs(append([]string{name}, cfg.args...)...)
	for k, v := range cfg.env {
		modConfig = modConfig.WithEnv(k, v)
	}

	mod, err := r.runtime.InstantiateModule(withSession(ctx, sess), compiled, modConfig)
	if err != nil {
		return nil, err
	}
	return &Instance{mod: mod, sess: sess}, nil
}

// Run instantiates wasm against iso, runs its _start export to completion
// and closes the instance.
func (r *Runner) Run(ctx context.Context, iso *isolate.Isolate, name string, wasm []byte, opts ...RunOption) Result {
	start := time.Now()

	cfg := defaultRunConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.timeout)
		defer cancel()
	}

	inst, err := r.instantiate(ctx, iso, name, wasm, cfg)
	result := Result{Duration: time.Since(start)}

	var exitErr *sys.ExitError
	switch {
	case err == nil:
		inst.Close(context.Background())
	case errors.As(err, &exitErr) && ctx.Err() == nil:
		result.ExitCode = int(exitErr.ExitCode())
		if result.ExitCode != 0 {
			result.Error = fmt.Errorf("guest exited with code %d", result.ExitCode)
		}
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		result.Error = fmt.Errorf("timeout after %v", cfg.timeout)
	default:
		result.Error = fmt.Errorf("execution failed: %w", err)
	}
	return result
}

// Call invokes an exported function.
func (in *Instance) Call(ctx context.Context, fn string, params ...uint64) ([]uint64, error) {
	f := in.mod.ExportedFunction(fn)
	if f == nil {
		return nil, fmt.Errorf("function %s not exported", fn)
	}
	return f.Call(withSession(ctx, in.sess), params...)
}

// Memory returns the instance's exported memory.
func (in *Instance) Memory() api.Memory {
	return in.mod.Memory()
}

// Close releases the instance.
func (in *Instance) Close(ctx context.Context) error {
	return in.mod.Close(ctx)
}

// Close releases the runtime and compilation cache.
func (r *Runner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	ctx := context.Background()

	var errs []error
	if err := r.runtime.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if r.cache != nil {
		if err := r.cache.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func orEmpty(r io.Reader) io.Reader {
	if r == nil {
		return eofReader{}
	}
	return r
}

func orDiscard(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }

func defaultCacheDir() string {
	if dir := os.Getenv("XDG_CACHE_HOME"); dir != "" {
		return filepath.Join(dir, "opcore")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cache", "opcore")
	}
	return filepath.Join(os.TempDir(), "opcore-cache")
}
