// Package pipeline implements an immutable codec-stage sequence in the
// shape of design note 9: an ordered list of named stages that is
// reconfigured by producing a new Sequence rather than mutating one in
// place, so a stage swap can never race a concurrent read on the old
// sequence. The connection engine (engine/conn) does not build or hold a
// Sequence; it reconfigures connections directly (e.g. wrapping the
// net.Conn in a tls.Conn after a CONNECT).
package pipeline

// Stage is one named unit in a connection's codec pipeline. Stage values
// are opaque handles; Name is used only for InsertBefore/Remove lookups and
// diagnostics.
type Stage struct {
	Name  string
	Value any
}

// Sequence is an immutable, ordered list of Stages. The zero value is an
// empty sequence.
type Sequence struct {
	stages []Stage
}

// New builds a Sequence from the given stages, in order.
func New(stages ...Stage) Sequence {
	out := make([]Stage, len(stages))
	copy(out, stages)
	return Sequence{stages: out}
}

// Stages returns the ordered stage list. Callers must not mutate the
// returned slice.
func (s Sequence) Stages() []Stage { return s.stages }

// Len reports the number of stages.
func (s Sequence) Len() int { return len(s.stages) }

// Get returns the stage named name and whether it was found.
func (s Sequence) Get(name string) (Stage, bool) {
	for _, st := range s.stages {
		if st.Name == name {
			return st, true
		}
	}
	return Stage{}, false
}

// InsertBefore returns a new Sequence with stage inserted immediately
// before the first stage named before. If before is not found, stage is
// appended at the end.
func (s Sequence) InsertBefore(before string, stage Stage) Sequence {
	out := make([]Stage, 0, len(s.stages)+1)
	inserted := false
	for _, st := range s.stages {
		if st.Name == before {
			out = append(out, stage)
			inserted = true
		}
		out = append(out, st)
	}
	if !inserted {
		out = append(out, stage)
	}
	return Sequence{stages: out}
}

// InsertAfter returns a new Sequence with stage inserted immediately after
// the first stage named after. If after is not found, stage is appended.
func (s Sequence) InsertAfter(after string, stage Stage) Sequence {
	out := make([]Stage, 0, len(s.stages)+1)
	inserted := false
	for _, st := range s.stages {
		out = append(out, st)
		if st.Name == after {
			out = append(out, stage)
			inserted = true
		}
	}
	if !inserted {
		out = append(out, stage)
	}
	return Sequence{stages: out}
}

// Remove returns a new Sequence with every stage named name removed.
func (s Sequence) Remove(name string) Sequence {
	out := make([]Stage, 0, len(s.stages))
	for _, st := range s.stages {
		if st.Name != name {
			out = append(out, st)
		}
	}
	return Sequence{stages: out}
}

// Replace returns a new Sequence with the first stage named name swapped
// for stage. If name is not found, Replace behaves like appending stage.
func (s Sequence) Replace(name string, stage Stage) Sequence {
	out := make([]Stage, len(s.stages))
	copy(out, s.stages)
	for i, st := range out {
		if st.Name == name {
			out[i] = stage
			return Sequence{stages: out}
		}
	}
	return Sequence{stages: append(out, stage)}
}
