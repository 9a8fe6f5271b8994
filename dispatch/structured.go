package dispatch

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/caffeineduck/opcore/fault"
)

const promiseIDField = "promiseId"

var (
	errNotObject = errors.New("arguments must encode as a JSON object")
	errNoOutcome = errors.New("response has neither ok nor err")
)

// Request is a structured call as seen by the host.
type Request struct {
	// PromiseID is nil for sync calls.
	PromiseID *uint64
	Args      map[string]any
}

// EncodeRequest serializes args, which must encode as a JSON object (or be
// nil), adding promiseId when it is non-zero.
func EncodeRequest(promiseID uint64, args any) ([]byte, error) {
	body := []byte("{}")
	if args != nil {
		var err error
		if body, err = json.Marshal(args); err != nil {
			return nil, fmt.Errorf("encode arguments: %w", err)
		}
		if bytes.Equal(body, []byte("null")) {
			body = []byte("{}")
		}
		if len(body) < 2 || body[0] != '{' {
			return nil, errNotObject
		}
	}
	if promiseID == 0 {
		return body, nil
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, `{"%s":%d`, promiseIDField, promiseID)
	if inner := bytes.TrimSpace(body[1 : len(body)-1]); len(inner) > 0 {
		b.WriteByte(',')
		b.Write(inner)
	}
	b.WriteByte('}')
	return b.Bytes(), nil
}

// DecodeRequest parses a structured request. An empty payload is an empty
// argument object.
func DecodeRequest(payload []byte) (Request, error) {
	req := Request{Args: map[string]any{}}
	if len(bytes.TrimSpace(payload)) == 0 {
		return req, nil
	}

	var head struct {
		PromiseID *uint64 `json:"promiseId"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		return req, fmt.Errorf("decode request: %w", err)
	}
	if err := json.Unmarshal(payload, &req.Args); err != nil {
		return req, fmt.Errorf("decode request: %w", err)
	}
	if req.Args == nil {
		req.Args = map[string]any{}
	}
	delete(req.Args, promiseIDField)
	req.PromiseID = head.PromiseID
	return req, nil
}

type responseWire struct {
	PromiseID *uint64         `json:"promiseId,omitempty"`
	Ok        json.RawMessage `json:"ok,omitempty"`
	Err       *OpError        `json:"err,omitempty"`
}

// EncodeResult serializes the outcome of a structured call. A value that
// cannot be marshaled becomes an InvalidData error.
func EncodeResult(promiseID *uint64, value any, err error) []byte {
	resp := responseWire{PromiseID: promiseID}
	if err != nil {
		resp.Err = AsOpError(err)
	} else {
		ok, merr := json.Marshal(value)
		if merr != nil {
			resp.Err = NewOpError(InvalidData, "encode result: %v", merr)
		} else {
			resp.Ok = ok
		}
	}
	data, _ := json.Marshal(resp)
	return data
}

// envelope is a decoded response. PromiseID is set whenever it could be
// read, even if the rest of the buffer is malformed.
type envelope struct {
	PromiseID uint64
	HasID     bool
	Ok        json.RawMessage
	Err       *OpError
}

func decodeEnvelope(buf []byte) (envelope, error) {
	var env envelope

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(buf, &fields); err != nil {
		return env, err
	}
	if raw, ok := fields[promiseIDField]; ok {
		if err := json.Unmarshal(raw, &env.PromiseID); err != nil {
			return env, fmt.Errorf("promiseId: %w", err)
		}
		env.HasID = true
	}
	if raw, ok := fields["err"]; ok && !bytes.Equal(raw, []byte("null")) {
		var oe OpError
		if err := json.Unmarshal(raw, &oe); err != nil {
			return env, fmt.Errorf("err: %w", err)
		}
		env.Err = &oe
		return env, nil
	}
	if raw, ok := fields["ok"]; ok {
		env.Ok = raw
		return env, nil
	}
	return env, errNoOutcome
}

// Structured issues structured-codec calls and decodes their completions.
type Structured struct {
	inv     Invoker
	sched   Scheduler
	label   func(uint32) string
	onFault func(error)
	nextID  uint64
	pending promiseTable[json.RawMessage]
}

// NewStructured creates a structured-codec dispatcher.
func NewStructured(inv Invoker, sched Scheduler, onFault func(error)) *Structured {
	return &Structured{
		inv:     inv,
		sched:   sched,
		label:   defaultLabel,
		onFault: faultOrDiscard(onFault),
		pending: newPromiseTable[json.RawMessage](),
	}
}

// SendSync calls op synchronously and returns the raw ok value.
func (s *Structured) SendSync(opID uint32, args any) (json.RawMessage, error) {
	payload, err := EncodeRequest(0, args)
	if err != nil {
		return nil, err
	}
	buf, err := s.inv.InvokeSync(opID, payload)
	if err != nil {
		return nil, err
	}
	env, err := decodeEnvelope(buf)
	if err != nil {
		return nil, fault.Decode(s.label(opID), err)
	}
	if env.Err != nil {
		return nil, env.Err
	}
	return env.Ok, nil
}

// SendAsync starts op and returns the Deferred its completion settles.
func (s *Structured) SendAsync(opID uint32, args any) *Deferred[json.RawMessage] {
	s.nextID++
	id := s.nextID

	payload, err := EncodeRequest(id, args)
	if err != nil {
		return Rejected[json.RawMessage](s.sched, err)
	}

	d := NewDeferred[json.RawMessage](s.sched)
	s.pending.add(id, opID, d)
	if err := s.inv.InvokeAsync(opID, payload); err != nil {
		s.pending.take(id)
		d.Reject(err)
	}
	return d
}

// Complete decodes a completion and settles its call.
func (s *Structured) Complete(opID uint32, buf []byte) {
	env, decErr := decodeEnvelope(buf)

	var (
		d  *Deferred[json.RawMessage]
		ok bool
	)
	switch {
	case env.HasID:
		if d, ok = s.pending.take(env.PromiseID); !ok {
			s.onFault(&fault.Error{
				Phase:  fault.PhaseDecode,
				Kind:   fault.KindUnknownPromise,
				Op:     s.label(opID),
				Detail: fmt.Sprintf("promise %d", env.PromiseID),
				Cause:  decErr,
			})
			return
		}
	default:
		// Without a readable promise id the buffer can only be attributed
		// when a single call to this op is in flight.
		if d, ok = s.pending.takeSole(opID); !ok {
			cause := decErr
			if cause == nil {
				cause = errors.New("response has no promiseId")
			}
			s.onFault(fault.Decode(s.label(opID), cause))
			return
		}
	}

	if decErr != nil {
		d.Reject(fault.Decode(s.label(opID), decErr))
		return
	}
	if env.Err != nil {
		d.Reject(env.Err)
		return
	}
	d.Resolve(env.Ok)
}

// Pending returns the number of calls awaiting completion.
func (s *Structured) Pending() int {
	return s.pending.len()
}

// Decode unmarshals a structured result into a T.
func Decode[T any](raw json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("decode result: %w", err)
	}
	return v, nil
}
