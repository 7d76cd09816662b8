package entity

import (
	"maps"
	"slices"
)

// State holds the fields, dirty set and newness of an entity graph, so a
// failed save can put the graph back as it was. Field values are kept as
// is, not copied.
type State struct {
	entities map[*Entity]state
}

type state struct {
	fields  map[string]any
	order   []string
	dirty   map[string]bool
	newness Newness
}

// Capture records the state of e and of the entities nested in its fields.
func (e *Entity) Capture() *State {
	s := &State{entities: make(map[*Entity]state)}
	s.capture(e)
	return s
}

func (s *State) capture(e *Entity) {
	if e == nil {
		return
	}
	if _, ok := s.entities[e]; ok {
		return
	}
	s.entities[e] = state{
		fields:  maps.Clone(e.fields),
		order:   slices.Clone(e.order),
		dirty:   maps.Clone(e.dirty),
		newness: e.newness,
	}
	for _, v := range e.fields {
		switch v := v.(type) {
		case *Entity:
			s.capture(v)
		case []*Entity:
			for _, c := range v {
				s.capture(c)
			}
		}
	}
}

// Restore puts every captured entity back in its recorded state, in place.
// Recorded validation errors are kept, and an entity of unknown newness
// that was since resolved as new stays new.
func (s *State) Restore() {
	if s == nil {
		return
	}
	for e, st := range s.entities {
		e.fields = maps.Clone(st.fields)
		e.order = slices.Clone(st.order)
		e.dirty = maps.Clone(st.dirty)
		if st.newness != NewnessUnknown || e.newness != NewnessNew {
			e.newness = st.newness
		}
	}
}
