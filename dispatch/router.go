package dispatch

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/caffeineduck/opcore/fault"
	"github.com/caffeineduck/opcore/ops"
)

type binding struct {
	codec   Codec
	handler Handler
}

// Router maps op ids to the handler that decodes their completions. It is
// populated once during bootstrap and read-only afterwards.
type Router struct {
	bindings map[uint32]binding
	label    func(uint32) string
	log      *zap.Logger
}

// NewRouter creates an empty router.
func NewRouter(log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	return &Router{
		bindings: make(map[uint32]binding),
		label:    defaultLabel,
		log:      log,
	}
}

// Register binds op id to h. Each id may be bound once.
func (r *Router) Register(id uint32, codec Codec, h Handler) error {
	if _, dup := r.bindings[id]; dup {
		return &fault.Error{
			Phase:  fault.PhaseRouting,
			Kind:   fault.KindDuplicateBinding,
			Op:     r.label(id),
			Detail: "handler already registered",
		}
	}
	r.bindings[id] = binding{codec: codec, handler: h}
	return nil
}

// Bind registers every op in t, choosing the handler by CodecFor.
func (r *Router) Bind(t *ops.Table, minimal, structured Handler) error {
	r.label = t.Label
	for _, op := range t.All() {
		codec := CodecFor(op.Name)
		h := structured
		if codec == CodecMinimal {
			h = minimal
		}
		if err := r.Register(op.ID, codec, h); err != nil {
			return err
		}
	}
	r.log.Debug("router bound", zap.Int("ops", len(r.bindings)))
	return nil
}

// Route hands a completion to the handler bound to id. An id with no
// binding is a routing fault; no handler is invoked.
func (r *Router) Route(id uint32, buf []byte) error {
	b, ok := r.bindings[id]
	if !ok {
		err := fault.UnknownOp(r.label(id))
		r.log.Error("completion for unknown op",
			zap.Uint32("op_id", id),
			zap.Int("bytes", len(buf)),
		)
		return err
	}
	b.handler.Complete(id, buf)
	return nil
}

// Codec returns the codec bound to id.
func (r *Router) Codec(id uint32) (Codec, bool) {
	b, ok := r.bindings[id]
	return b.codec, ok
}

// Len returns the number of bound ops.
func (r *Router) Len() int {
	return len(r.bindings)
}

func (r *Router) String() string {
	return fmt.Sprintf("Router(%d ops)", len(r.bindings))
}
