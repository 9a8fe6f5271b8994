package isolate

import (
	"encoding/json"

	"github.com/caffeineduck/opcore/dispatch"
)

// Global and namespace names.
const (
	GlobalBootstrap = "bootstrap"
	GlobalNamespace = "Deno"
)

// Ops the global surface depends on when the host advertises them.
const (
	OpGlobalTimerStart  = "op_global_timer_start"
	OpGlobalTimerStop   = "op_global_timer_stop"
	OpWorkerPostMessage = "op_worker_post_message"
	OpFetch             = "op_fetch"
	OpKVGet             = "op_kv_get"
	OpKVSet             = "op_kv_set"
	OpKVDelete          = "op_kv_delete"
	OpKVKeys            = "op_kv_keys"
)

// UnstableCapabilities are the namespace entries added to a primary context
// started with unstableFlag, when the host implements them.
var UnstableCapabilities = []string{"kv", "fetch"}

// windowOrWorkerScope is shared by both context kinds.
func (i *Isolate) windowOrWorkerScope() map[string]Property {
	return map[string]Property{
		"setTimeout":     WritableValue(i.SetTimeout),
		"clearTimeout":   WritableValue(i.ClearTimeout),
		"queueMicrotask": WritableValue(i.QueueMicrotask),
		GlobalNamespace:  ReadOnlyValue(i.ns),
	}
}

func (i *Isolate) namespaceCore() map[string]Property {
	d := i.disp
	return map[string]Property{
		"core":      ReadOnlyValue(d),
		"read":      ReadOnlyValue(d.Read),
		"readSync":  ReadOnlyValue(d.ReadSync),
		"write":     ReadOnlyValue(d.Write),
		"writeSync": ReadOnlyValue(d.WriteSync),
		"exit":      ReadOnlyValue(i.host.Exit),
		"build":     ReadOnlyValue(map[string]string{"target": i.info.Target}),
		"version":   ReadOnlyValue(i.info.Versions),
	}
}

func (i *Isolate) primaryScope() map[string]Property {
	return map[string]Property{
		"window":   ReadOnlyValue(i.globals),
		"self":     ReadOnlyValue(i.globals),
		"onload":   WritableValue(nil),
		"onunload": WritableValue(nil),
		"close":    WritableValue(i.windowClose),
		"closed":   GetterOnly(func() any { return i.closing }),
	}
}

func (i *Isolate) workerScope() map[string]Property {
	props := map[string]Property{
		"self":      ReadOnlyValue(i.globals),
		"name":      ReadOnlyValue(i.name),
		"onmessage": WritableValue(nil),
		"onerror":   WritableValue(nil),
	}
	if i.disp.Has(OpWorkerPostMessage) {
		props["postMessage"] = WritableValue(i.postMessage)
	}
	return props
}

func (i *Isolate) unstableScope() map[string]Property {
	props := make(map[string]Property)
	if i.disp.Has(OpKVGet) {
		props["kv"] = ReadOnlyValue(&KV{d: i.disp})
	}
	if i.disp.Has(OpFetch) {
		props["fetch"] = ReadOnlyValue(i.fetch)
	}
	return props
}

func (i *Isolate) windowClose() {
	_ = i.Close()
}

func (i *Isolate) postMessage(data any) error {
	return i.disp.CallSync(OpWorkerPostMessage, map[string]any{"data": data}, nil)
}

func (i *Isolate) fetch(url string) *dispatch.Deferred[json.RawMessage] {
	return i.disp.CallAsync(OpFetch, map[string]any{"url": url})
}

// KV is the unstable key-value capability.
type KV struct {
	d *dispatch.Dispatcher
}

// Get reads key.
func (kv *KV) Get(key string) *dispatch.Deferred[json.RawMessage] {
	return kv.d.CallAsync(OpKVGet, map[string]any{"key": key})
}

// Set stores value under key.
func (kv *KV) Set(key, value string) *dispatch.Deferred[json.RawMessage] {
	return kv.d.CallAsync(OpKVSet, map[string]any{"key": key, "value": value})
}

// Delete removes key.
func (kv *KV) Delete(key string) *dispatch.Deferred[json.RawMessage] {
	return kv.d.CallAsync(OpKVDelete, map[string]any{"key": key})
}

// Keys lists every key.
func (kv *KV) Keys() *dispatch.Deferred[json.RawMessage] {
	return kv.d.CallAsync(OpKVKeys, nil)
}
