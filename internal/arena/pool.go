package arena

// Pool holds the candidate ids still eligible for matching. It remembers the
// full set it was initialized with so a session can be restarted.
//
// Pool is not goroutine-safe; the Controller serializes access.
type Pool struct {
	ids     []string
	index   map[string]int // id -> position in ids
	initial []string
}

// NewPool creates a pool holding ids. Callers are expected to pass unique,
// non-empty ids (see Controller.Start for validation).
func NewPool(ids []string) *Pool {
	p := &Pool{}
	p.Initialize(ids)
	return p
}

// Initialize replaces both the current and the remembered full set.
func (p *Pool) Initialize(ids []string) {
	p.initial = make([]string, len(ids))
	copy(p.initial, ids)
	p.Reset()
}

// Reset restores the pool to the full set passed to Initialize.
func (p *Pool) Reset() {
	p.ids = make([]string, len(p.initial))
	copy(p.ids, p.initial)
	p.index = make(map[string]int, len(p.ids))
	for i, id := range p.ids {
		p.index[id] = i
	}
}

// Remove deletes id from the pool. Removing an absent id is a no-op; the
// return value reports whether anything was removed.
func (p *Pool) Remove(id string) bool {
	i, ok := p.index[id]
	if !ok {
		return false
	}

	// Swap with the last element to keep removal O(1).
	last := len(p.ids) - 1
	if i != last {
		moved := p.ids[last]
		p.ids[i] = moved
		p.index[moved] = i
	}
	p.ids = p.ids[:last]
	delete(p.index, id)
	return true
}

// Size returns the number of ids still in the pool.
func (p *Pool) Size() int {
	return len(p.ids)
}

// Contains reports whether id is still eligible.
func (p *Pool) Contains(id string) bool {
	_, ok := p.index[id]
	return ok
}

// At returns the id stored at position i. Positions are only stable until the
// next Remove.
func (p *Pool) At(i int) string {
	return p.ids[i]
}

// IDs returns a copy of the ids currently in the pool.
func (p *Pool) IDs() []string {
	out := make([]string, len(p.ids))
	copy(out, p.ids)
	return out
}

// InitialSize returns the size of the full set.
func (p *Pool) InitialSize() int {
	return len(p.initial)
}
