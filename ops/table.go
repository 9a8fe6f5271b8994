// Package ops holds the operation table: the snapshot, taken once from the
// host, of every op name and the numeric id the host assigned to it.
package ops

import (
	"fmt"
	"sort"

	"github.com/caffeineduck/opcore/fault"
)

// Op describes one host operation.
type Op struct {
	Name string
	ID   uint32
}

// Enumerator is the host side of the op table: it reports every op it
// implements together with its id.
type Enumerator interface {
	Ops() (map[string]uint32, error)
}

// Table maps op names to ids and back. It is immutable once built.
type Table struct {
	byName map[string]uint32
	byID   map[uint32]string
}

// Build queries e once and validates the result. Names must be non-empty
// and ids must be unique; an empty enumeration is rejected.
func Build(e Enumerator) (*Table, error) {
	raw, err := e.Ops()
	if err != nil {
		return nil, fault.Wrap(fault.PhaseStartup, fault.KindMalformedOpTable, err, "enumerate ops")
	}
	if len(raw) == 0 {
		return nil, fault.Startup(fault.KindEmptyOpTable, "host advertised no ops")
	}

	t := &Table{
		byName: make(map[string]uint32, len(raw)),
		byID:   make(map[uint32]string, len(raw)),
	}
	for name, id := range raw {
		if name == "" {
			return nil, fault.Startup(fault.KindMalformedOpTable, fmt.Sprintf("op #%d has no name", id))
		}
		if other, dup := t.byID[id]; dup {
			return nil, fault.Startup(fault.KindMalformedOpTable,
				fmt.Sprintf("ops %q and %q share id %d", other, name, id))
		}
		t.byName[name] = id
		t.byID[id] = name
	}
	return t, nil
}

// ID returns the id for name.
func (t *Table) ID(name string) (uint32, bool) {
	id, ok := t.byName[name]
	return id, ok
}

// Name returns the name for id.
func (t *Table) Name(id uint32) (string, bool) {
	name, ok := t.byID[id]
	return name, ok
}

// Has reports whether id was advertised by the host.
func (t *Table) Has(id uint32) bool {
	_, ok := t.byID[id]
	return ok
}

// Len returns the number of ops.
func (t *Table) Len() int {
	return len(t.byName)
}

// All returns every op sorted by id.
func (t *Table) All() []Op {
	all := make([]Op, 0, len(t.byName))
	for name, id := range t.byName {
		all = append(all, Op{Name: name, ID: id})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all
}

// Label renders id for diagnostics, using the op name when known.
func (t *Table) Label(id uint32) string {
	if name, ok := t.byID[id]; ok {
		return name
	}
	return fmt.Sprintf("#%d", id)
}

// Map adapts a plain map to an Enumerator.
type Map map[string]uint32

// Ops returns m.
func (m Map) Ops() (map[string]uint32, error) {
	return m, nil
}
