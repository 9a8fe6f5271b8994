package dispatch

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/caffeineduck/opcore/fault"
	"github.com/caffeineduck/opcore/ops"
)

// DefaultReadSize is the read length used when a caller asks for zero bytes.
const DefaultReadSize = 64 * 1024

// Option configures a Dispatcher.
type Option func(*config)

type config struct {
	log     *zap.Logger
	onFault func(error)
}

// WithLogger sets the logger for routing and decode faults.
func WithLogger(log *zap.Logger) Option {
	return func(c *config) {
		c.log = log
	}
}

// WithFaultHandler receives decode faults that cannot be attributed to a
// pending call. By default they are logged.
func WithFaultHandler(fn func(error)) Option {
	return func(c *config) {
		c.onFault = fn
	}
}

// Dispatcher is the script-facing entry point for op calls. It owns the
// router and one decoder of each codec.
type Dispatcher struct {
	table      *ops.Table
	inv        Invoker
	sched      Scheduler
	router     *Router
	minimal    *Minimal
	structured *Structured
	log        *zap.Logger
}

// New builds the decoders for table and binds every op to one of them.
func New(table *ops.Table, inv Invoker, sched Scheduler, opts ...Option) (*Dispatcher, error) {
	if sched == nil {
		return nil, errors.New("dispatch: nil scheduler")
	}
	cfg := config{log: zap.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.onFault == nil {
		log := cfg.log
		cfg.onFault = func(err error) {
			log.Warn("dropped completion", zap.Error(err))
		}
	}

	d := &Dispatcher{
		table:      table,
		inv:        inv,
		sched:      sched,
		router:     NewRouter(cfg.log),
		minimal:    NewMinimal(inv, sched, cfg.onFault),
		structured: NewStructured(inv, sched, cfg.onFault),
		log:        cfg.log,
	}
	d.minimal.label = table.Label
	d.structured.label = table.Label

	if err := d.router.Bind(table, d.minimal, d.structured); err != nil {
		return nil, err
	}
	return d, nil
}

// Table returns the op table.
func (d *Dispatcher) Table() *ops.Table {
	return d.table
}

// Router returns the completion router.
func (d *Dispatcher) Router() *Router {
	return d.router
}

// Route delivers a host completion.
func (d *Dispatcher) Route(id uint32, buf []byte) error {
	return d.router.Route(id, buf)
}

// Has reports whether the host advertised name.
func (d *Dispatcher) Has(name string) bool {
	_, ok := d.table.ID(name)
	return ok
}

// Pending returns the number of calls awaiting completion.
func (d *Dispatcher) Pending() int {
	return d.minimal.Pending() + d.structured.Pending()
}

func (d *Dispatcher) lookup(name string, want Codec) (uint32, error) {
	id, ok := d.table.ID(name)
	if !ok {
		return 0, fault.NotAdvertised(name)
	}
	if codec, _ := d.router.Codec(id); codec != want {
		return 0, fmt.Errorf("op %s uses the %s codec", name, codec)
	}
	return id, nil
}

// CallSync calls a structured op and unmarshals its result into out, which
// may be nil.
func (d *Dispatcher) CallSync(name string, args, out any) error {
	raw, err := d.CallSyncRaw(name, args)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fault.Decode(name, err)
	}
	return nil
}

// CallSyncRaw calls a structured op and returns its raw result.
func (d *Dispatcher) CallSyncRaw(name string, args any) (json.RawMessage, error) {
	id, err := d.lookup(name, CodecStructured)
	if err != nil {
		return nil, err
	}
	return d.structured.SendSync(id, args)
}

// CallAsync starts a structured op.
func (d *Dispatcher) CallAsync(name string, args any) *Deferred[json.RawMessage] {
	id, err := d.lookup(name, CodecStructured)
	if err != nil {
		return Rejected[json.RawMessage](d.sched, err)
	}
	return d.structured.SendAsync(id, args)
}

// InvokeSync forwards a pre-encoded structured request for op id and returns
// the raw response envelope. It is the path used by guest modules.
func (d *Dispatcher) InvokeSync(id uint32, payload []byte) ([]byte, error) {
	if codec, ok := d.router.Codec(id); !ok {
		return nil, fault.NotAdvertised(d.table.Label(id))
	} else if codec != CodecStructured {
		return nil, fmt.Errorf("op %s uses the %s codec", d.table.Label(id), codec)
	}
	return d.inv.InvokeSync(id, payload)
}

// Read reads up to n bytes from resource rid.
func (d *Dispatcher) Read(rid int32, n int) *Deferred[MinimalResult] {
	id, err := d.lookup(OpRead, CodecMinimal)
	if err != nil {
		return Rejected[MinimalResult](d.sched, err)
	}
	size, err := readSize(n)
	if err != nil {
		return Rejected[MinimalResult](d.sched, err)
	}
	return d.minimal.SendAsync(id, rid, size)
}

// ReadSync reads up to n bytes from resource rid synchronously.
func (d *Dispatcher) ReadSync(rid int32, n int) (MinimalResult, error) {
	id, err := d.lookup(OpRead, CodecMinimal)
	if err != nil {
		return MinimalResult{}, err
	}
	size, err := readSize(n)
	if err != nil {
		return MinimalResult{}, err
	}
	return d.minimal.SendSync(id, rid, size)
}

// Write writes p to resource rid.
func (d *Dispatcher) Write(rid int32, p []byte) *Deferred[MinimalResult] {
	id, err := d.lookup(OpWrite, CodecMinimal)
	if err != nil {
		return Rejected[MinimalResult](d.sched, err)
	}
	return d.minimal.SendAsync(id, rid, p)
}

// WriteSync writes p to resource rid synchronously.
func (d *Dispatcher) WriteSync(rid int32, p []byte) (MinimalResult, error) {
	id, err := d.lookup(OpWrite, CodecMinimal)
	if err != nil {
		return MinimalResult{}, err
	}
	return d.minimal.SendSync(id, rid, p)
}

func readSize(n int) ([]byte, error) {
	if n <= 0 {
		n = DefaultReadSize
	}
	if uint64(n) > math.MaxUint32 {
		return nil, NewOpError(InvalidInput, "read size %d out of range", n)
	}
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(n))
	return buf, nil
}

// ReadRequestSize returns the byte count requested by an op_read payload.
func ReadRequestSize(data []byte) int {
	if len(data) < 4 {
		return DefaultReadSize
	}
	n := int(binary.LittleEndian.Uint32(data))
	if n <= 0 {
		return DefaultReadSize
	}
	return n
}
