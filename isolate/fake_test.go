package isolate

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/caffeineduck/opcore/dispatch"
)

var defaultStart = StartInfo{
	Args: []string{"a"},
	Cwd:  "/tmp",
	PID:  42,
}

// fakeHost answers sync structured calls from handlers keyed by op name
// and records everything else.
type fakeHost struct {
	ops      map[string]uint32
	opsErr   error
	handlers map[string]func(args map[string]any) (any, error)

	async   []asyncCall
	route   func(uint32, []byte) error
	hook    func() bool
	exits   []int
	armed   []float64
	stopped int
}

type asyncCall struct {
	op      string
	payload []byte
}

func newFakeHost(start StartInfo) *fakeHost {
	h := &fakeHost{
		ops: map[string]uint32{
			"op_start":               0,
			"op_read":                1,
			"op_write":               2,
			"op_global_timer_start":  3,
			"op_global_timer_stop":   4,
			"op_fetch":               5,
			"op_kv_get":              6,
			"op_kv_set":              7,
			"op_worker_post_message": 8,
		},
	}
	h.handlers = map[string]func(map[string]any) (any, error){
		"op_start": func(map[string]any) (any, error) { return start, nil },
		"op_global_timer_start": func(args map[string]any) (any, error) {
			ms, _ := args["timeout"].(float64)
			h.armed = append(h.armed, ms)
			return nil, nil
		},
		"op_global_timer_stop": func(map[string]any) (any, error) {
			h.stopped++
			return nil, nil
		},
	}
	return h
}

func (h *fakeHost) Ops() (map[string]uint32, error) {
	return h.ops, h.opsErr
}

func (h *fakeHost) name(id uint32) string {
	for name, opID := range h.ops {
		if opID == id {
			return name
		}
	}
	return fmt.Sprintf("#%d", id)
}

func (h *fakeHost) InvokeSync(id uint32, payload []byte) ([]byte, error) {
	fn, ok := h.handlers[h.name(id)]
	if !ok {
		return nil, errors.New("no handler for " + h.name(id))
	}
	req, err := dispatch.DecodeRequest(payload)
	if err != nil {
		return nil, err
	}
	v, err := fn(req.Args)
	return dispatch.EncodeResult(nil, v, err), nil
}

func (h *fakeHost) InvokeAsync(id uint32, payload []byte) error {
	h.async = append(h.async, asyncCall{op: h.name(id), payload: payload})
	return nil
}

func (h *fakeHost) RegisterCompletionRouter(route func(uint32, []byte) error) {
	h.route = route
}

func (h *fakeHost) RegisterTimerHook(hook func() bool) {
	h.hook = hook
}

func (h *fakeHost) Exit(code int) {
	h.exits = append(h.exits, code)
}

// complete answers the most recent async call to op with value.
func (h *fakeHost) complete(op string, value any) error {
	for n := len(h.async) - 1; n >= 0; n-- {
		if h.async[n].op != op {
			continue
		}
		req, err := dispatch.DecodeRequest(h.async[n].payload)
		if err != nil {
			return err
		}
		return h.route(h.ops[op], dispatch.EncodeResult(req.PromiseID, value, nil))
	}
	return errors.New("no async call to " + op)
}

func rawStart(v any) func(map[string]any) (any, error) {
	return func(map[string]any) (any, error) {
		return json.RawMessage(mustJSON(v)), nil
	}
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

type stepClock struct {
	t time.Time
}

func (c *stepClock) now() time.Time { return c.t }
