package arena

// keySeparator joins the two ids of a pair key. Profile ids are printable
// strings, so a NUL byte cannot collide with id content.
const keySeparator = "\x00"

// PairKey is the canonical, order-independent key for two ids.
type PairKey string

// KeyOf returns the canonical key for the unordered pair {a, b}. The ids are
// ordered before joining so KeyOf(a, b) == KeyOf(b, a).
func KeyOf(a, b string) PairKey {
	if b < a {
		a, b = b, a
	}
	return PairKey(a + keySeparator + b)
}

// History records which unordered pairs have been shown in the current
// session.
type History struct {
	seen map[PairKey]struct{}
}

// NewHistory returns an empty history.
func NewHistory() *History {
	return &History{seen: make(map[PairKey]struct{})}
}

// HasBeenShown reports whether the unordered pair {a, b} was recorded.
func (h *History) HasBeenShown(a, b string) bool {
	_, ok := h.seen[KeyOf(a, b)]
	return ok
}

// Record marks {a, b} as shown. Recording a pair twice is a no-op.
func (h *History) Record(a, b string) {
	h.seen[KeyOf(a, b)] = struct{}{}
}

// Clear forgets every recorded pair.
func (h *History) Clear() {
	h.seen = make(map[PairKey]struct{})
}

// Len returns the number of distinct pairs recorded.
func (h *History) Len() int {
	return len(h.seen)
}
