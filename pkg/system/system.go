package system

// Named pairs a component with its name for ordered iteration.
type Named struct {
	Name      string
	Component Component
}

// System is an ordered, immutable collection of named components. All
// modifying operations return a new snapshot and leave the receiver
// untouched, so a published System can be read concurrently without
// synchronization.
//
// A nil *System is a valid empty system.
type System struct {
	order  []string
	byName map[string]Component
}

// New returns an empty system.
func New() *System {
	return &System{byName: make(map[string]Component)}
}

// With returns a copy of the system with the named component appended.
// If the name is already present, the component is replaced in place
// and the original position is kept.
func (s *System) With(name string, c Component) *System {
	next := s.clone()
	if _, ok := next.byName[name]; !ok {
		next.order = append(next.order, name)
	}
	next.byName[name] = c
	return next
}

// Without returns a copy of the system with the named component
// removed. Removing an absent name is a no-op copy.
func (s *System) Without(name string) *System {
	next := s.clone()
	if _, ok := next.byName[name]; !ok {
		return next
	}
	delete(next.byName, name)
	for i, n := range next.order {
		if n == name {
			next.order = append(next.order[:i], next.order[i+1:]...)
			break
		}
	}
	return next
}

// Component returns the named component, if present.
func (s *System) Component(name string) (Component, bool) {
	if s == nil {
		return nil, false
	}
	c, ok := s.byName[name]
	return c, ok
}

// Len returns the number of components.
func (s *System) Len() int {
	if s == nil {
		return 0
	}
	return len(s.order)
}

// Names returns the component names in start order.
func (s *System) Names() []string {
	if s == nil {
		return nil
	}
	names := make([]string, len(s.order))
	copy(names, s.order)
	return names
}

// Forward returns the components in start order.
func (s *System) Forward() []Named {
	if s == nil {
		return nil
	}
	out := make([]Named, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, Named{Name: name, Component: s.byName[name]})
	}
	return out
}

// Reverse returns the components in stop order, the reverse of the
// start order.
func (s *System) Reverse() []Named {
	if s == nil {
		return nil
	}
	out := make([]Named, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		name := s.order[i]
		out = append(out, Named{Name: name, Component: s.byName[name]})
	}
	return out
}

func (s *System) clone() *System {
	next := &System{byName: make(map[string]Component)}
	if s == nil {
		return next
	}
	next.order = make([]string, len(s.order))
	copy(next.order, s.order)
	for name, c := range s.byName {
		next.byName[name] = c
	}
	return next
}
