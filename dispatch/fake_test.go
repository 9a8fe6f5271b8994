package dispatch

import (
	"errors"

	"github.com/caffeineduck/opcore/ops"
)

type call struct {
	id      uint32
	payload []byte
}

// fakeInvoker records calls; sync responses come from respond.
type fakeInvoker struct {
	syncCalls  []call
	asyncCalls []call
	respond    func(id uint32, payload []byte) ([]byte, error)
	asyncErr   error
}

func (f *fakeInvoker) InvokeSync(id uint32, payload []byte) ([]byte, error) {
	f.syncCalls = append(f.syncCalls, call{id, payload})
	if f.respond == nil {
		return nil, errors.New("no sync responder")
	}
	return f.respond(id, payload)
}

func (f *fakeInvoker) InvokeAsync(id uint32, payload []byte) error {
	f.asyncCalls = append(f.asyncCalls, call{id, payload})
	return f.asyncErr
}

func (f *fakeInvoker) lastAsync() call {
	return f.asyncCalls[len(f.asyncCalls)-1]
}

var testOps = ops.Map{
	"op_start":  0,
	"op_read":   1,
	"op_write":  2,
	"op_fetch":  3,
	"op_kv_get": 4,
}

func newTestDispatcher(inv Invoker, mt *Microtasks, opts ...Option) *Dispatcher {
	table, err := ops.Build(testOps)
	if err != nil {
		panic(err)
	}
	d, err := New(table, inv, mt, opts...)
	if err != nil {
		panic(err)
	}
	return d
}
