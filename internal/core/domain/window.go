package domain

import "encoding/json"

// DefaultUpdateWindowSize is how many processed update ids a bot remembers
const DefaultUpdateWindowSize = 500

// UpdateWindow is a bounded set of recently processed update ids.
// Membership is O(1); once full, the oldest id is evicted on insert.
// Not safe for concurrent use; a bot is synced by one goroutine at a time.
type UpdateWindow struct {
	ring  []int64
	head  int // index of the oldest entry
	size  int
	index map[int64]struct{}
}

// NewUpdateWindow creates an empty window with the given capacity
func NewUpdateWindow(capacity int) *UpdateWindow {
	if capacity <= 0 {
		capacity = DefaultUpdateWindowSize
	}
	return &UpdateWindow{
		ring:  make([]int64, capacity),
		index: make(map[int64]struct{}, capacity),
	}
}

// Capacity returns the maximum number of ids kept
func (w *UpdateWindow) Capacity() int { return len(w.ring) }

// Len returns the number of ids currently kept
func (w *UpdateWindow) Len() int { return w.size }

// Contains reports whether id was recorded and not yet evicted
func (w *UpdateWindow) Contains(id int64) bool {
	_, ok := w.index[id]
	return ok
}

// Add records id. It returns false if id was already present.
func (w *UpdateWindow) Add(id int64) bool {
	if w.Contains(id) {
		return false
	}
	if w.size == len(w.ring) {
		delete(w.index, w.ring[w.head])
		w.ring[w.head] = id
		w.head = (w.head + 1) % len(w.ring)
	} else {
		w.ring[(w.head+w.size)%len(w.ring)] = id
		w.size++
	}
	w.index[id] = struct{}{}
	return true
}

// IDs returns the kept ids, oldest first
func (w *UpdateWindow) IDs() []int64 {
	out := make([]int64, 0, w.size)
	for i := 0; i < w.size; i++ {
		out = append(out, w.ring[(w.head+i)%len(w.ring)])
	}
	return out
}

// Resize changes the capacity, keeping the newest ids
func (w *UpdateWindow) Resize(capacity int) {
	if capacity <= 0 || capacity == len(w.ring) {
		return
	}
	ids := w.IDs()
	*w = *NewUpdateWindow(capacity)
	for _, id := range ids {
		w.Add(id)
	}
}

// MarshalJSON stores the window as a plain id list
func (w *UpdateWindow) MarshalJSON() ([]byte, error) {
	if w == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(w.IDs())
}

// UnmarshalJSON loads an id list, keeping the newest DefaultUpdateWindowSize ids
func (w *UpdateWindow) UnmarshalJSON(data []byte) error {
	var ids []int64
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*w = *NewUpdateWindow(DefaultUpdateWindowSize)
	for _, id := range ids {
		w.Add(id)
	}
	return nil
}
