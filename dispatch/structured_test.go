package dispatch

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/caffeineduck/opcore/fault"
)

func TestEncodeRequest(t *testing.T) {
	tests := []struct {
		name      string
		promiseID uint64
		args      any
		want      string
		wantErr   bool
	}{
		{"nil sync", 0, nil, `{}`, false},
		{"nil async", 3, nil, `{"promiseId":3}`, false},
		{"map sync", 0, map[string]any{"key": "a"}, `{"key":"a"}`, false},
		{"map async", 9, map[string]any{"key": "a"}, `{"promiseId":9,"key":"a"}`, false},
		{"struct", 1, struct {
			Timeout int `json:"timeout"`
		}{5}, `{"promiseId":1,"timeout":5}`, false},
		{"empty object", 2, map[string]any{}, `{"promiseId":2}`, false},
		{"array rejected", 0, []int{1}, "", true},
		{"string rejected", 1, "x", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeRequest(tt.promiseID, tt.args)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %s", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("EncodeRequest: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDecodeRequest(t *testing.T) {
	req, err := DecodeRequest([]byte(`{"promiseId":4,"path":"/a","n":2}`))
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if req.PromiseID == nil || *req.PromiseID != 4 {
		t.Errorf("PromiseID = %v", req.PromiseID)
	}
	if _, ok := req.Args["promiseId"]; ok {
		t.Error("promiseId should be stripped from args")
	}
	if req.Args["path"] != "/a" {
		t.Errorf("path = %v", req.Args["path"])
	}

	req, err = DecodeRequest(nil)
	if err != nil || req.PromiseID != nil || len(req.Args) != 0 {
		t.Errorf("empty payload = %+v, %v", req, err)
	}

	if _, err := DecodeRequest([]byte(`[1,2]`)); err == nil {
		t.Error("array payload should fail")
	}
}

func TestEncodeResult(t *testing.T) {
	id := uint64(6)
	tests := []struct {
		name  string
		id    *uint64
		value any
		err   error
		want  string
	}{
		{"sync ok", nil, 3, nil, `{"ok":3}`},
		{"async ok", &id, map[string]string{"a": "b"}, nil, `{"promiseId":6,"ok":{"a":"b"}}`},
		{"ok null", &id, nil, nil, `{"promiseId":6,"ok":null}`},
		{"op error", &id, nil, NewOpError(NotFound, "gone"), `{"promiseId":6,"err":{"kind":1,"message":"gone"}}`},
		{"plain error", nil, nil, errors.New("boom"), `{"err":{"kind":22,"message":"boom"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := string(EncodeResult(tt.id, tt.value, tt.err))
			if got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDecodeEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		buf     string
		hasID   bool
		id      uint64
		wantErr bool
		opErr   bool
		ok      string
	}{
		{"ok", `{"promiseId":1,"ok":{"x":1}}`, true, 1, false, false, `{"x":1}`},
		{"ok null", `{"promiseId":2,"ok":null}`, true, 2, false, false, `null`},
		{"err", `{"promiseId":3,"err":{"kind":4,"message":"m"}}`, true, 3, false, true, ""},
		{"err wins", `{"promiseId":3,"ok":1,"err":{"kind":4,"message":"m"}}`, true, 3, false, true, ""},
		{"sync", `{"ok":true}`, false, 0, false, false, `true`},
		{"malformed err keeps id", `{"promiseId":5,"err":"boom"}`, true, 5, true, false, ""},
		{"no outcome", `{"promiseId":7}`, true, 7, true, false, ""},
		{"not json", `nope`, false, 0, true, false, ""},
		{"bad id", `{"promiseId":"x","ok":1}`, false, 0, true, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := decodeEnvelope([]byte(tt.buf))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if env.HasID != tt.hasID || env.PromiseID != tt.id {
				t.Errorf("id = (%v,%d), want (%v,%d)", env.HasID, env.PromiseID, tt.hasID, tt.id)
			}
			if (env.Err != nil) != tt.opErr {
				t.Errorf("Err = %v", env.Err)
			}
			if tt.ok != "" && string(env.Ok) != tt.ok {
				t.Errorf("Ok = %s, want %s", env.Ok, tt.ok)
			}
		})
	}
}

func TestStructuredAsyncResolves(t *testing.T) {
	inv := &fakeInvoker{}
	var mt Microtasks
	d := newTestDispatcher(inv, &mt)

	def := d.CallAsync("op_kv_get", map[string]any{"key": "a"})
	req, err := DecodeRequest(inv.lastAsync().payload)
	if err != nil || req.PromiseID == nil {
		t.Fatalf("request = %+v, %v", req, err)
	}
	if req.Args["key"] != "a" {
		t.Errorf("args = %v", req.Args)
	}

	var got string
	def.Then(func(raw json.RawMessage, err error) {
		got, _ = Decode[string](raw)
	})

	d.Route(4, EncodeResult(req.PromiseID, "value", nil))
	if got != "" {
		t.Fatal("Then must wait for the microtask queue")
	}
	mt.Run()
	if got != "value" {
		t.Errorf("got %q", got)
	}
}

func TestStructuredAsyncOpError(t *testing.T) {
	inv := &fakeInvoker{}
	var mt Microtasks
	d := newTestDispatcher(inv, &mt)

	def := d.CallAsync("op_fetch", map[string]any{"url": "http://x"})
	req, _ := DecodeRequest(inv.lastAsync().payload)
	d.Route(3, EncodeResult(req.PromiseID, nil, NewOpError(PermissionDenied, "denied")))

	_, err := def.Result()
	if KindOf(err) != PermissionDenied || err.Error() != "denied" {
		t.Errorf("err = %v", err)
	}
}

// A malformed buffer rejects only the call it names; the other op's call
// resolves normally.
func TestStructuredDecodeErrorIsolated(t *testing.T) {
	inv := &fakeInvoker{}
	var mt Microtasks
	var faults []error
	d := newTestDispatcher(inv, &mt, WithFaultHandler(func(err error) { faults = append(faults, err) }))

	fetch := d.CallAsync("op_fetch", nil)
	kv := d.CallAsync("op_kv_get", map[string]any{"key": "k"})
	fetchReq, _ := DecodeRequest(inv.asyncCalls[0].payload)
	kvReq, _ := DecodeRequest(inv.asyncCalls[1].payload)
	if *fetchReq.PromiseID != 1 {
		t.Fatalf("first promise id = %d", *fetchReq.PromiseID)
	}

	if err := d.Route(3, []byte(`{"promiseId":1,"err":"boom"}`)); err != nil {
		t.Fatalf("Route: %v", err)
	}
	if err := d.Route(4, EncodeResult(kvReq.PromiseID, 42, nil)); err != nil {
		t.Fatalf("Route: %v", err)
	}

	_, fetchErr := fetch.Result()
	if !errors.Is(fetchErr, fault.ErrDecode) {
		t.Errorf("fetch err = %v, want decode error", fetchErr)
	}
	if fault.IsFatal(fetchErr) {
		t.Error("decode error must not be fatal")
	}
	raw, err := kv.Result()
	if err != nil || string(raw) != "42" {
		t.Errorf("kv = %s, %v", raw, err)
	}
	if len(faults) != 0 {
		t.Errorf("unexpected faults: %v", faults)
	}
}

func TestStructuredUnreadableIDFallsBackToSoleCall(t *testing.T) {
	inv := &fakeInvoker{}
	var mt Microtasks
	d := newTestDispatcher(inv, &mt)

	def := d.CallAsync("op_fetch", nil)
	d.Route(3, []byte(`garbage`))

	if _, err := def.Result(); !errors.Is(err, fault.ErrDecode) {
		t.Errorf("err = %v", err)
	}
	if d.Pending() != 0 {
		t.Errorf("pending = %d", d.Pending())
	}
}

func TestStructuredUnattributableReported(t *testing.T) {
	inv := &fakeInvoker{}
	var mt Microtasks
	var faults []error
	d := newTestDispatcher(inv, &mt, WithFaultHandler(func(err error) { faults = append(faults, err) }))

	a := d.CallAsync("op_fetch", nil)
	b := d.CallAsync("op_fetch", nil)
	d.Route(3, []byte(`garbage`))

	if len(faults) != 1 || !errors.Is(faults[0], fault.ErrDecode) {
		t.Fatalf("faults = %v", faults)
	}
	if a.Settled() || b.Settled() {
		t.Error("ambiguous buffer must not settle either call")
	}

	d.Route(3, []byte(`{"promiseId":99,"ok":1}`))
	if len(faults) != 2 || !errors.Is(faults[1], fault.ErrUnknownPromise) {
		t.Errorf("faults = %v", faults)
	}
}

func TestStructuredSettlesOnce(t *testing.T) {
	inv := &fakeInvoker{}
	var mt Microtasks
	var faults []error
	d := newTestDispatcher(inv, &mt, WithFaultHandler(func(err error) { faults = append(faults, err) }))

	def := d.CallAsync("op_kv_get", nil)
	req, _ := DecodeRequest(inv.lastAsync().payload)
	d.Route(4, EncodeResult(req.PromiseID, "first", nil))
	d.Route(4, EncodeResult(req.PromiseID, "second", nil))

	raw, _ := def.Result()
	if string(raw) != `"first"` {
		t.Errorf("result = %s", raw)
	}
	if len(faults) != 1 {
		t.Errorf("duplicate completion should be reported once, got %v", faults)
	}
}

func TestCallSync(t *testing.T) {
	inv := &fakeInvoker{respond: func(id uint32, payload []byte) ([]byte, error) {
		req, err := DecodeRequest(payload)
		if err != nil {
			return nil, err
		}
		if req.PromiseID != nil {
			return nil, errors.New("sync request carried a promise id")
		}
		return EncodeResult(nil, map[string]any{"echo": req.Args["key"]}, nil), nil
	}}
	var mt Microtasks
	d := newTestDispatcher(inv, &mt)

	var out struct {
		Echo string `json:"echo"`
	}
	if err := d.CallSync("op_kv_get", map[string]any{"key": "z"}, &out); err != nil {
		t.Fatalf("CallSync: %v", err)
	}
	if out.Echo != "z" {
		t.Errorf("echo = %q", out.Echo)
	}
	if len(inv.syncCalls) != 1 || inv.syncCalls[0].id != 4 {
		t.Errorf("sync calls = %+v", inv.syncCalls)
	}
}

func TestCallUnknownName(t *testing.T) {
	inv := &fakeInvoker{}
	var mt Microtasks
	d := newTestDispatcher(inv, &mt)

	err := d.CallSync("op_missing", nil, nil)
	if !errors.Is(err, fault.ErrNotAdvertised) {
		t.Errorf("CallSync err = %v", err)
	}
	if fault.IsFatal(err) {
		t.Error("a call to an unadvertised op must not be fatal")
	}
	if _, err := d.CallAsync("op_missing", nil).Result(); !errors.Is(err, fault.ErrNotAdvertised) {
		t.Errorf("CallAsync err = %v", err)
	}
	if len(inv.asyncCalls)+len(inv.syncCalls) != 0 {
		t.Error("host should not be called")
	}
}

func TestCallWrongCodec(t *testing.T) {
	inv := &fakeInvoker{}
	var mt Microtasks
	d := newTestDispatcher(inv, &mt)

	if err := d.CallSync(OpRead, nil, nil); err == nil {
		t.Error("structured call to op_read should fail")
	}
	if _, err := d.InvokeSync(1, []byte(`{}`)); err == nil {
		t.Error("raw structured call to op_read should fail")
	}
	if _, err := d.InvokeSync(50, []byte(`{}`)); !errors.Is(err, fault.ErrNotAdvertised) {
		t.Errorf("InvokeSync unknown id err = %v", err)
	}
}
