package chain

// Journaled is implemented by every stateful component that must roll back with a failed call.
type Journaled interface {
	Snapshot() any
	Restore(snapshot any)
}

// Journal gives a group of components all-or-nothing call semantics.
type Journal struct {
	components []Journaled
	depth      int
}

func NewJournal(components ...Journaled) *Journal {
	return &Journal{components: components}
}

func (j *Journal) Register(components ...Journaled) {
	j.components = append(j.components, components...)
}

// Depth reports how many Atomic calls are currently open.
func (j *Journal) Depth() int {
	return j.depth
}

// Atomic runs fn and restores every registered component if fn returns an error or panics.
// Calls nest: an inner failure only unwinds the inner call.
func (j *Journal) Atomic(fn func() error) (err error) {
	snaps := make([]any, len(j.components))
	for i, c := range j.components {
		snaps[i] = c.Snapshot()
	}
	j.depth++

	defer func() {
		j.depth--
		if p := recover(); p != nil {
			j.restore(snaps)
			panic(p) // re-throw panic after rollback
		}
		if err != nil {
			j.restore(snaps)
		}
	}()

	return fn()
}

func (j *Journal) restore(snaps []any) {
	for i, s := range snaps {
		j.components[i].Restore(s)
	}
}
