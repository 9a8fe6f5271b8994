// Package guest runs WebAssembly guest modules as the script side of an
// isolate.
//
// A [Runner] owns a wazero runtime with WASI and the host module "opcore",
// which exposes the isolate's op table to the guest:
//
//	op_id(namePtr, nameLen i32) i32
//	op_sync(id, ptr, len, outPtr, outCap i32) i32
//	op_last(outPtr, outCap i32) i32
//	op_close()
//
// op_id returns the id of a named op, or -1 if the host does not advertise
// it. op_sync sends a structured request to op id and copies the response
// envelope to the out buffer. It returns the envelope length, -1 if a
// pointer is outside guest memory, or -n when the envelope needs n bytes;
// the envelope is then held for op_last. op_close requests an orderly exit
// of the isolate.
//
// Guests only make synchronous calls. A guest runs as one script task on
// the host's loop goroutine:
//
//	host.Post(func() {
//	    iso.Task(func() {
//	        res = runner.Run(ctx, iso, "main", wasm)
//	    })
//	})
package guest
