package quote

// Ticketer hands out monotonically increasing request tickets. Only the most
// recently issued ticket is current; responses holding older tickets are stale.
// It is not safe for concurrent use; the Engine guards it with its own mutex
// so that checking a ticket and publishing its result happen atomically.
type Ticketer struct {
	current uint64
}

// Next issues a new ticket, superseding all earlier ones
func (t *Ticketer) Next() uint64 {
	t.current++
	return t.current
}

// IsCurrent reports whether ticket is still the latest issued
func (t *Ticketer) IsCurrent(ticket uint64) bool {
	return ticket == t.current
}

// Invalidate marks every outstanding ticket stale
func (t *Ticketer) Invalidate() {
	t.Next()
}
