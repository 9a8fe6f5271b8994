package nativehost

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/caffeineduck/opcore/dispatch"
)

// OpFunc implements a structured op. The result is JSON encoded.
type OpFunc func(ctx context.Context, args map[string]any) (any, error)

// StreamFunc implements a byte-stream op. It returns the count reported to
// the caller and any bytes to hand back.
type StreamFunc func(ctx context.Context, rid int32, data []byte) (int32, []byte, error)

var ErrRegistrySealed = errors.New("op registry sealed")

type entry struct {
	name   string
	codec  dispatch.Codec
	op     OpFunc
	stream StreamFunc
}

// Registry holds the host's ops. Ids are assigned from the sorted names the
// first time Ops is called; after that the registry is sealed.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*entry
	byID   []*entry
	sealed bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*entry)}
}

// Register adds a structured op, replacing any previous one of that name.
func (r *Registry) Register(name string, fn OpFunc) error {
	if dispatch.CodecFor(name) != dispatch.CodecStructured {
		return fmt.Errorf("op %s must be registered with RegisterStream", name)
	}
	return r.add(&entry{name: name, codec: dispatch.CodecStructured, op: fn})
}

// RegisterStream adds a byte-stream op.
func (r *Registry) RegisterStream(name string, fn StreamFunc) error {
	if dispatch.CodecFor(name) != dispatch.CodecMinimal {
		return fmt.Errorf("op %s does not use the minimal codec", name)
	}
	return r.add(&entry{name: name, codec: dispatch.CodecMinimal, stream: fn})
}

func (r *Registry) add(e *entry) error {
	if e.name == "" {
		return errors.New("op name required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return fmt.Errorf("register %s: %w", e.name, ErrRegistrySealed)
	}
	r.byName[e.name] = e
	return nil
}

// Ops seals the registry and returns every op with its id.
func (r *Registry) Ops() (map[string]uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.sealed {
		names := make([]string, 0, len(r.byName))
		for name := range r.byName {
			names = append(names, name)
		}
		sort.Strings(names)
		r.byID = make([]*entry, len(names))
		for id, name := range names {
			r.byID[id] = r.byName[name]
		}
		r.sealed = true
	}

	out := make(map[string]uint32, len(r.byID))
	for id, e := range r.byID {
		out[e.name] = uint32(id)
	}
	return out, nil
}

func (r *Registry) get(id uint32) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if int(id) >= len(r.byID) {
		return nil, false
	}
	return r.byID[id], true
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	_, ok := r.byName[name]
	r.mu.RUnlock()
	return ok
}

// List returns the registered names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
