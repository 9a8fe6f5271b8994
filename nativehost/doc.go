// Package nativehost is an in-process native host for opcore isolates.
//
// A [Host] owns the op registry, executes op calls and drives the event
// loop that feeds async completions and timer wakeups back to its isolate
// one at a time:
//
//	host := nativehost.New(nativehost.Config{
//	    Args:   []string{"a"},
//	    KV:     nativehost.NewKV(nativehost.DefaultKVConfig()),
//	    Mounts: []nativehost.Mount{{VirtualPath: "/data", HostPath: "./data"}},
//	})
//	iso := isolate.New(host)
//	if err := iso.BootstrapPrimary(); err != nil {
//	    return err
//	}
//	err := host.Run(ctx)
//
// # Ops
//
// Every host implements op_start, op_now, op_read, op_write, op_close and
// the global timer ops. Configuration adds more:
//
//   - KV: op_kv_get, op_kv_set, op_kv_delete, op_kv_keys
//   - Fetch.AllowedHosts: op_fetch
//   - Mounts: op_fs_read, op_fs_write, op_fs_list, op_fs_exists,
//     op_fs_mkdir, op_fs_remove, op_fs_stat, op_open
//   - Environment: op_env_get
//
// Custom ops may be added with [Registry.Register] before the isolate is
// bootstrapped; the registry is sealed once the op table is read.
//
// # Security Model
//
// Scripts have no implicit access to system resources:
//   - HTTP requests are limited to explicitly allowed hosts
//   - Filesystem access is restricted to mounted paths with specific permissions
//   - KV, HTTP and file operations have configurable size limits
package nativehost
