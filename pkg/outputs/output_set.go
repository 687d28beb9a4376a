package outputs

// OutputSet is a set of canonical paths. Iteration follows first declaration
// order; equality only considers membership. The zero value is an empty set.
type OutputSet struct {
	order []string
	index map[string]struct{}
}

// NewOutputSet builds a set from paths, dropping duplicates
func NewOutputSet(paths ...string) OutputSet {
	var s OutputSet
	s.add(paths...)
	return s
}

func (s *OutputSet) add(paths ...string) {
	if s.index == nil {
		s.index = make(map[string]struct{}, len(paths))
	}
	for _, p := range paths {
		if _, seen := s.index[p]; seen {
			continue
		}
		s.index[p] = struct{}{}
		s.order = append(s.order, p)
	}
}

func (s OutputSet) clone() OutputSet {
	return NewOutputSet(s.order...)
}

// Paths returns the members in declaration order. The slice is a copy and never nil.
func (s OutputSet) Paths() []string {
	paths := make([]string, len(s.order))
	copy(paths, s.order)
	return paths
}

func (s OutputSet) Len() int {
	return len(s.order)
}

func (s OutputSet) IsEmpty() bool {
	return len(s.order) == 0
}

func (s OutputSet) Contains(path string) bool {
	_, ok := s.index[path]
	return ok
}

// Equal reports whether both sets hold the same members, in any order
func (s OutputSet) Equal(other OutputSet) bool {
	if s.Len() != other.Len() {
		return false
	}
	for _, p := range s.order {
		if !other.Contains(p) {
			return false
		}
	}
	return true
}
