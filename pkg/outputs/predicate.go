package outputs

// Predicate decides, for a task, whether its previous result may be reused
type Predicate interface {
	IsSatisfiedBy(task Task) bool
}

// PredicateFunc adapts a plain function to Predicate
type PredicateFunc func(task Task) bool

func (f PredicateFunc) IsSatisfiedBy(task Task) bool {
	return f(task)
}

// AndPredicate is the conjunction of an ordered list of predicates.
// The zero value has no predicates and is satisfied by every task.
type AndPredicate struct {
	predicates []Predicate
}

// And returns a new conjunction with p appended; the receiver is left untouched
func (a AndPredicate) And(p Predicate) AndPredicate {
	next := make([]Predicate, 0, len(a.predicates)+1)
	next = append(next, a.predicates...)
	next = append(next, p)
	return AndPredicate{predicates: next}
}

// Len returns the number of registered predicates
func (a AndPredicate) Len() int {
	return len(a.predicates)
}

// IsSatisfiedBy evaluates every predicate in registration order. Predicates may have
// side effects that callers rely on, so evaluation never stops at the first false.
func (a AndPredicate) IsSatisfiedBy(task Task) bool {
	result := true
	for _, p := range a.predicates {
		if !p.IsSatisfiedBy(task) {
			result = false
		}
	}
	return result
}
