package params

// OneOf holds either a single value used for every request or a list of
// candidates that the Selector picks from.
type OneOf[T any] struct {
	items  []T
	isList bool
}

// Single wraps one value that is reused for every request.
func Single[T any](v T) OneOf[T] {
	return OneOf[T]{items: []T{v}}
}

// List wraps candidate values. An empty list resolves to the zero value.
func List[T any](vs ...T) OneOf[T] {
	return OneOf[T]{items: vs, isList: true}
}

// IsList reports whether the value was given as a list.
func (o OneOf[T]) IsList() bool { return o.isList }

// Len is the number of list candidates. Single values report 0 so they do
// not take part in index bounds.
func (o OneOf[T]) Len() int {
	if !o.isList {
		return 0
	}
	return len(o.items)
}

// Values returns the underlying candidates.
func (o OneOf[T]) Values() []T { return o.items }

// At returns the candidate at i. A single value ignores i.
func (o OneOf[T]) At(i int) T {
	var zero T
	if !o.isList {
		if len(o.items) == 0 {
			return zero
		}
		return o.items[0]
	}
	if i < 0 || i >= len(o.items) {
		return zero
	}
	return o.items[i]
}
