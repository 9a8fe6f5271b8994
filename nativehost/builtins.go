package nativehost

import (
	"context"
	"math"
	"os"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/caffeineduck/opcore/dispatch"
	"github.com/caffeineduck/opcore/isolate"
)

func (h *Host) registerBuiltins() {
	must := func(err error) {
		if err != nil {
			panic(err)
		}
	}

	must(h.Register(isolate.OpStart, h.opStart))
	must(h.Register("op_now", h.opNow))
	must(h.Register(isolate.OpGlobalTimerStart, h.opGlobalTimerStart))
	must(h.Register(isolate.OpGlobalTimerStop, h.opGlobalTimerStop))
	must(h.RegisterStream(dispatch.OpRead, h.opRead))
	must(h.RegisterStream(dispatch.OpWrite, h.opWrite))
	must(h.Register("op_close", h.opClose))

	if h.cfg.KV != nil {
		must(h.Register(isolate.OpKVGet, h.cfg.KV.Get))
		must(h.Register(isolate.OpKVSet, h.cfg.KV.Set))
		must(h.Register(isolate.OpKVDelete, h.cfg.KV.Delete))
		must(h.Register(isolate.OpKVKeys, h.cfg.KV.Keys))
	}

	if len(h.cfg.Fetch.AllowedHosts) > 0 {
		must(h.Register(isolate.OpFetch, NewFetcher(h.cfg.Fetch).Fetch))
	}

	if len(h.cfg.Environment) > 0 {
		must(h.Register("op_env_get", h.opEnvGet))
	}

	if len(h.cfg.Mounts) > 0 {
		h.fs = NewFS(h.cfg.Mounts, h.cfg.FSOptions...)
		must(h.Register("op_fs_read", h.fs.Read))
		must(h.Register("op_fs_write", h.fs.Write))
		must(h.Register("op_fs_list", h.fs.List))
		must(h.Register("op_fs_exists", h.fs.Exists))
		must(h.Register("op_fs_mkdir", h.fs.Mkdir))
		must(h.Register("op_fs_remove", h.fs.Remove))
		must(h.Register("op_fs_stat", h.fs.Stat))
		must(h.Register("op_open", h.opOpen))
	}
}

func (h *Host) opStart(ctx context.Context, args map[string]any) (any, error) {
	return isolate.StartInfo{
		Args:         h.cfg.Args,
		Cwd:          h.cfg.Cwd,
		DebugFlag:    h.cfg.Debug,
		NoColor:      *h.cfg.NoColor,
		PID:          os.Getpid(),
		Repl:         h.cfg.Repl,
		UnstableFlag: h.cfg.Unstable,
		Permissions: isolate.Permissions{
			Read:  len(h.cfg.Mounts) > 0,
			Write: h.cfg.writable(),
			Net:   len(h.cfg.Fetch.AllowedHosts) > 0,
			Env:   len(h.cfg.Environment) > 0,
		},
		Versions: isolate.Versions{
			Opcore: Version,
			Engine: engineVersion(),
			Go:     runtime.Version(),
		},
		Target: h.cfg.Target,
	}, nil
}

const engineModule = "github.com/tetratelabs/wazero"

// engineVersion reads the wazero version from the build info.
func engineVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "wazero"
	}
	for _, dep := range info.Deps {
		if dep.Path == engineModule {
			return "wazero " + dep.Version
		}
	}
	return "wazero"
}

// Now is the op_now result.
type Now struct {
	Seconds     int64 `json:"seconds"`
	SubsecNanos int64 `json:"subsecNanos"`
}

// opNow reports the time elapsed since the host started.
func (h *Host) opNow(ctx context.Context, args map[string]any) (any, error) {
	d := h.now().Sub(h.start)
	return Now{
		Seconds:     int64(d / time.Second),
		SubsecNanos: int64(d % time.Second),
	}, nil
}

func (h *Host) opGlobalTimerStart(ctx context.Context, args map[string]any) (any, error) {
	ms, ok := args["timeout"].(float64)
	if !ok || ms < 0 {
		return nil, invalidArg("timeout required")
	}
	// Round up so the timer never fires before the earliest script timer.
	h.armTimer(time.Duration(math.Ceil(ms * float64(time.Millisecond))))
	return nil, nil
}

func (h *Host) opGlobalTimerStop(ctx context.Context, args map[string]any) (any, error) {
	h.stopTimer()
	return nil, nil
}

func (h *Host) opRead(ctx context.Context, rid int32, data []byte) (int32, []byte, error) {
	res, err := h.res.get(rid)
	if err != nil {
		return 0, nil, err
	}
	n := dispatch.ReadRequestSize(data)
	if n > h.cfg.MaxReadSize {
		n = h.cfg.MaxReadSize
	}
	return res.read(n)
}

func (h *Host) opWrite(ctx context.Context, rid int32, data []byte) (int32, []byte, error) {
	res, err := h.res.get(rid)
	if err != nil {
		return 0, nil, err
	}
	n, err := res.write(data)
	return n, nil, err
}

func ridArg(args map[string]any) (int32, error) {
	v, ok := args["rid"].(float64)
	if !ok {
		return 0, invalidArg("rid required")
	}
	return int32(v), nil
}

func (h *Host) opClose(ctx context.Context, args map[string]any) (any, error) {
	rid, err := ridArg(args)
	if err != nil {
		return nil, err
	}
	if err := h.res.close(rid); err != nil {
		return nil, err
	}
	return nil, nil
}

func (h *Host) opOpen(ctx context.Context, args map[string]any) (any, error) {
	path, err := pathArg(args)
	if err != nil {
		return nil, err
	}
	write, _ := args["write"].(bool)
	create, _ := args["create"].(bool)

	f, err := h.fs.Open(path, write, create)
	if err != nil {
		return nil, err
	}
	return map[string]any{"rid": h.res.add(path, f)}, nil
}

func (h *Host) opEnvGet(ctx context.Context, args map[string]any) (any, error) {
	key, err := stringArg(args, "key")
	if err != nil {
		return nil, err
	}
	v, ok := h.cfg.Environment[key]
	if !ok {
		return nil, nil
	}
	return v, nil
}
