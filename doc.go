// Package opcore is the core of a script runtime: the layer that lets a
// single-threaded script isolate call into a host through numbered
// operations.
//
// # Overview
//
// At startup an isolate snapshots the host's op table (name to id), binds a
// completion decoder to every op, performs the op_start handshake and
// builds its global surface exactly once. Ops are called sync or async;
// async results come back as host completions routed by op id to the
// decoder that settles the pending call.
//
// # Packages
//
//   - ops: the name/id table snapshot
//   - dispatch: deferreds, the minimal and structured codecs, the router
//   - timers: the timer queue drained by the host's timer hook
//   - isolate: the bootstrap state machine and global surfaces
//   - nativehost: an in-process host with an event loop and built-in ops
//   - guest: WebAssembly guests bound to an isolate through wazero
//   - fault: the fault taxonomy shared by all of them
//
// # Basic Usage
//
//	host := nativehost.New(nativehost.Config{
//	    Args: os.Args[1:],
//	    KV:   nativehost.NewKV(nativehost.DefaultKVConfig()),
//	})
//	iso := isolate.New(host)
//	if err := iso.BootstrapPrimary(); err != nil {
//	    log.Fatal(err)
//	}
//
//	host.Post(func() {
//	    iso.Task(func() {
//	        iso.Dispatcher().CallAsync("op_kv_get", map[string]any{"key": "a"}).
//	            Then(func(v json.RawMessage, err error) { iso.Close() })
//	    })
//	})
//	err := host.Run(ctx)
//
// # Security Model
//
// The native host grants nothing by default. Fetch needs an allow-list,
// file ops need mounts with explicit modes, and the key-value store must be
// configured.
package opcore
