package lifecycle

import "sort"

// Flags records which one-time actions have been applied to a ticket. A
// flag only ever moves from false to true.
type Flags struct {
	InitialStopApplied bool
	BreakevenApplied   bool
	PartialClosed      bool
}

type entry struct {
	flags Flags
	r     float64 // stop distance seen on the first cycle
}

// Store holds lifecycle state for the tickets the venue reports open. It is
// owned by one engine and is not safe for concurrent use.
type Store struct {
	entries map[string]*entry
}

func NewStore() *Store {
	return &Store{entries: make(map[string]*entry)}
}

// track returns the entry for ticket, creating it with r when the ticket
// has not been seen before or r was unknown then.
func (s *Store) track(ticket string, r float64) *entry {
	e, ok := s.entries[ticket]
	if !ok {
		e = &entry{r: r}
		s.entries[ticket] = e
	}
	if e.r <= 0 {
		e.r = r
	}
	return e
}

// Get returns a copy of the flags for ticket.
func (s *Store) Get(ticket string) (Flags, bool) {
	e, ok := s.entries[ticket]
	if !ok {
		return Flags{}, false
	}
	return e.flags, true
}

// Prune drops every ticket not in open and returns the dropped tickets.
func (s *Store) Prune(open map[string]bool) []string {
	var gone []string
	for t := range s.entries {
		if !open[t] {
			gone = append(gone, t)
			delete(s.entries, t)
		}
	}
	sort.Strings(gone)
	return gone
}

func (s *Store) Len() int {
	return len(s.entries)
}

// Tickets lists tracked tickets in sorted order.
func (s *Store) Tickets() []string {
	out := make([]string, 0, len(s.entries))
	for t := range s.entries {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
