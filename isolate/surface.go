package isolate

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrReadOnly = errors.New("property is read-only")
	ErrFrozen   = errors.New("surface is frozen")
)

// Access describes how a property may be used.
type Access uint8

const (
	// ReadOnly properties hold a fixed value.
	ReadOnly Access = iota
	// Writable properties may be reassigned with Set.
	Writable
	// Getter properties compute their value on every Get.
	Getter
)

// Property is one named entry of a Surface.
type Property struct {
	Access Access
	Value  any
	Get    func() any
}

// ReadOnlyValue returns a fixed property.
func ReadOnlyValue(v any) Property {
	return Property{Access: ReadOnly, Value: v}
}

// WritableValue returns a reassignable property.
func WritableValue(v any) Property {
	return Property{Access: Writable, Value: v}
}

// GetterOnly returns a computed property.
func GetterOnly(fn func() any) Property {
	return Property{Access: Getter, Get: fn}
}

// Surface is a named set of properties visible to scripts: the global
// object or a namespace hung off it.
type Surface struct {
	name   string
	mu     sync.RWMutex
	props  map[string]Property
	frozen bool
}

// NewSurface creates an empty surface.
func NewSurface(name string) *Surface {
	return &Surface{name: name, props: make(map[string]Property)}
}

// Define adds or replaces properties. Read-only and getter properties
// cannot be redefined.
func (s *Surface) Define(props map[string]Property) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.frozen {
		return fmt.Errorf("%s: %w", s.name, ErrFrozen)
	}
	for name, p := range props {
		if old, ok := s.props[name]; ok && old.Access != Writable {
			return fmt.Errorf("%s.%s: %w", s.name, name, ErrReadOnly)
		}
		if p.Access == Getter && p.Get == nil {
			return fmt.Errorf("%s.%s: getter without function", s.name, name)
		}
	}
	for name, p := range props {
		s.props[name] = p
	}
	return nil
}

// Get returns the current value of name.
func (s *Surface) Get(name string) (any, bool) {
	s.mu.RLock()
	p, ok := s.props[name]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if p.Access == Getter {
		return p.Get(), true
	}
	return p.Value, true
}

// Set assigns a writable property, creating it if the surface is not
// frozen.
func (s *Surface) Set(name string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.props[name]
	switch {
	case ok && p.Access != Writable:
		return fmt.Errorf("%s.%s: %w", s.name, name, ErrReadOnly)
	case !ok && s.frozen:
		return fmt.Errorf("%s: %w", s.name, ErrFrozen)
	case s.frozen:
		// Frozen surfaces keep their values too.
		return fmt.Errorf("%s.%s: %w", s.name, name, ErrFrozen)
	}
	s.props[name] = Property{Access: Writable, Value: v}
	return nil
}

// Delete removes name. It reports false when the surface is frozen or the
// property does not exist.
func (s *Surface) Delete(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.frozen {
		return false
	}
	if _, ok := s.props[name]; !ok {
		return false
	}
	delete(s.props, name)
	return true
}

// Has reports whether name is defined.
func (s *Surface) Has(name string) bool {
	s.mu.RLock()
	_, ok := s.props[name]
	s.mu.RUnlock()
	return ok
}

// Freeze makes the surface immutable.
func (s *Surface) Freeze() {
	s.mu.Lock()
	s.frozen = true
	s.mu.Unlock()
}

// Frozen reports whether Freeze was called.
func (s *Surface) Frozen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frozen
}

// Names returns the property names in sorted order.
func (s *Surface) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.props))
	for name := range s.props {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Name returns the surface's name.
func (s *Surface) Name() string {
	return s.name
}
