package chatclient

import "sort"

// Rooms is the local membership set. It mirrors which conversations the UI
// has open; inbound scoped events for any other conversation are dropped.
type Rooms struct {
	joined map[string]struct{}
}

func NewRooms() *Rooms {
	return &Rooms{joined: make(map[string]struct{})}
}

// Add reports whether id was newly joined.
func (r *Rooms) Add(id string) bool {
	if _, ok := r.joined[id]; ok {
		return false
	}
	r.joined[id] = struct{}{}
	return true
}

// Remove reports whether id was joined.
func (r *Rooms) Remove(id string) bool {
	if _, ok := r.joined[id]; !ok {
		return false
	}
	delete(r.joined, id)
	return true
}

func (r *Rooms) Has(id string) bool {
	_, ok := r.joined[id]
	return ok
}

// IDs returns the joined conversation ids in sorted order.
func (r *Rooms) IDs() []string {
	out := make([]string, 0, len(r.joined))
	for id := range r.joined {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
