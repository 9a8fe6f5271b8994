// Package dispatch connects script-level calls to host operations and routes
// asynchronous completions back to the calls that are waiting for them.
//
// # Wire formats
//
// Two encodings are used, chosen per op at bootstrap by [CodecFor]:
//
//   - Minimal: an 8 byte little endian header (promise id, status) followed
//     by raw bytes. Used by the byte-stream ops op_read and op_write so that
//     the hot path never touches a general purpose decoder.
//   - Structured: a JSON envelope, {"promiseId":N,"ok":V} on success or
//     {"promiseId":N,"err":{"kind":K,"message":M}} on failure.
//
// # Completions
//
// The host delivers every completion as an (op id, buffer) pair to
// [Router.Route]. The router only knows which decoder serves which op; the
// decoder owns the table of pending calls and settles the matching
// [Deferred]. A buffer that cannot be decoded rejects only its own call; a
// completion for an op id the host never advertised is a routing fault.
//
// Everything in this package runs on the owning isolate's single logical
// thread and is not safe for concurrent use.
package dispatch
