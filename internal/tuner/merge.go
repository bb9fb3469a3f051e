package tuner

import "fmt"

// Merge folds a set's deltas directly into the frozen base weights so
// later forward passes skip the delta computation entirely. Only variants
// whose delta is an additive linear function of the wrapped weight can
// merge (the low-rank forms); everything else fails before any unit is
// touched. Merging an already merged set is a no-op.
func (m *Model) Merge(name string) error {
	return m.eachMerger(name, func(mg Merger) { mg.Merge() })
}

// Unmerge restores the pre-merge base weights bit for bit. Unmerging an
// unmerged set is a no-op.
func (m *Model) Unmerge(name string) error {
	return m.eachMerger(name, func(mg Merger) { mg.Unmerge() })
}

func (m *Model) eachMerger(name string, op func(Merger)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sets[name]
	if !ok {
		return &Error{Tuner: name, Err: fmt.Errorf("%w: no such tuner set", ErrConfig)}
	}
	mergers := make([]Merger, 0, len(s.units))
	for _, path := range s.targets {
		u := s.units[path]
		mg, ok := u.(Merger)
		if !ok {
			return &Error{Tuner: name, Path: path, Err: ErrUnsupportedMerge}
		}
		mergers = append(mergers, mg)
	}
	for _, mg := range mergers {
		op(mg)
	}
	return nil
}
