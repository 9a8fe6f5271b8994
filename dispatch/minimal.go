package dispatch

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/caffeineduck/opcore/fault"
)

// MinimalHeaderSize is the size of the minimal record header.
const MinimalHeaderSize = 8

var errShortRecord = errors.New("minimal record shorter than header")

// MinimalRecord is one minimal-codec message. In requests Status carries the
// resource id; in responses it carries the result, negative on failure.
type MinimalRecord struct {
	PromiseID uint32
	Status    int32
	Data      []byte
}

// EncodeMinimal serializes rec.
func EncodeMinimal(rec MinimalRecord) []byte {
	buf := make([]byte, MinimalHeaderSize+len(rec.Data))
	binary.LittleEndian.PutUint32(buf[0:4], rec.PromiseID)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(rec.Status))
	copy(buf[MinimalHeaderSize:], rec.Data)
	return buf
}

// DecodeMinimal parses buf. Data aliases buf.
func DecodeMinimal(buf []byte) (MinimalRecord, error) {
	if len(buf) < MinimalHeaderSize {
		return MinimalRecord{}, fmt.Errorf("%w: %d bytes", errShortRecord, len(buf))
	}
	return MinimalRecord{
		PromiseID: binary.LittleEndian.Uint32(buf[0:4]),
		Status:    int32(binary.LittleEndian.Uint32(buf[4:8])),
		Data:      buf[MinimalHeaderSize:],
	}, nil
}

// Err returns the OpError carried by a failed response, or nil.
func (r MinimalRecord) Err() error {
	if r.Status >= 0 {
		return nil
	}
	kind := Other
	if r.Status != math.MinInt32 {
		kind = ErrorKind(-r.Status)
	}
	return &OpError{Kind: kind, Message: string(r.Data)}
}

// MinimalError builds the response record for a failed call.
func MinimalError(promiseID uint32, err error) MinimalRecord {
	oe := AsOpError(err)
	return MinimalRecord{
		PromiseID: promiseID,
		Status:    -int32(oe.Kind),
		Data:      []byte(oe.Message),
	}
}

// MinimalResult is the outcome of a successful byte-stream call: N is the
// count reported by the host and Data any bytes it returned.
type MinimalResult struct {
	N    int32
	Data []byte
}

// Minimal issues minimal-codec calls and decodes their completions.
type Minimal struct {
	inv     Invoker
	sched   Scheduler
	label   func(uint32) string
	onFault func(error)
	nextID  uint32
	pending promiseTable[MinimalResult]
}

// NewMinimal creates a minimal-codec dispatcher.
func NewMinimal(inv Invoker, sched Scheduler, onFault func(error)) *Minimal {
	return &Minimal{
		inv:     inv,
		sched:   sched,
		label:   defaultLabel,
		onFault: faultOrDiscard(onFault),
		pending: newPromiseTable[MinimalResult](),
	}
}

func (m *Minimal) promiseID() uint32 {
	m.nextID++
	if m.nextID == 0 {
		m.nextID = 1
	}
	return m.nextID
}

// SendSync calls op synchronously with the given resource id and data.
func (m *Minimal) SendSync(opID uint32, rid int32, data []byte) (MinimalResult, error) {
	buf, err := m.inv.InvokeSync(opID, EncodeMinimal(MinimalRecord{Status: rid, Data: data}))
	if err != nil {
		return MinimalResult{}, err
	}
	rec, err := DecodeMinimal(buf)
	if err != nil {
		return MinimalResult{}, fault.Decode(m.label(opID), err)
	}
	if err := rec.Err(); err != nil {
		return MinimalResult{}, err
	}
	return MinimalResult{N: rec.Status, Data: rec.Data}, nil
}

// SendAsync starts op and returns the Deferred its completion settles.
func (m *Minimal) SendAsync(opID uint32, rid int32, data []byte) *Deferred[MinimalResult] {
	id := m.promiseID()
	d := NewDeferred[MinimalResult](m.sched)
	m.pending.add(uint64(id), opID, d)

	if err := m.inv.InvokeAsync(opID, EncodeMinimal(MinimalRecord{PromiseID: id, Status: rid, Data: data})); err != nil {
		m.pending.take(uint64(id))
		d.Reject(err)
	}
	return d
}

// Complete decodes a completion and settles its call.
func (m *Minimal) Complete(opID uint32, buf []byte) {
	var (
		d  *Deferred[MinimalResult]
		ok bool
	)
	if len(buf) >= 4 {
		id := binary.LittleEndian.Uint32(buf[0:4])
		d, ok = m.pending.take(uint64(id))
		if !ok {
			m.onFault(&fault.Error{
				Phase:  fault.PhaseDecode,
				Kind:   fault.KindUnknownPromise,
				Op:     m.label(opID),
				Detail: fmt.Sprintf("promise %d", id),
			})
			return
		}
	} else if d, ok = m.pending.takeSole(opID); !ok {
		m.onFault(fault.Decode(m.label(opID), fmt.Errorf("%w: %d bytes", errShortRecord, len(buf))))
		return
	}

	rec, err := DecodeMinimal(buf)
	if err != nil {
		d.Reject(fault.Decode(m.label(opID), err))
		return
	}
	if err := rec.Err(); err != nil {
		d.Reject(err)
		return
	}
	d.Resolve(MinimalResult{N: rec.Status, Data: rec.Data})
}

// Pending returns the number of calls awaiting completion.
func (m *Minimal) Pending() int {
	return m.pending.len()
}

func defaultLabel(id uint32) string {
	return fmt.Sprintf("#%d", id)
}

func faultOrDiscard(fn func(error)) func(error) {
	if fn == nil {
		return func(error) {}
	}
	return fn
}
