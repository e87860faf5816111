package thumbs

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// MarkerState is the outcome recorded for an element.
type MarkerState int

const (
	Unprocessed MarkerState = iota
	// Bad means no thumbnail URL was found. It is terminal.
	Bad
	// Done means the element was rewritten for Marker.Path.
	Done
)

func (s MarkerState) String() string {
	switch s {
	case Bad:
		return "bad"
	case Done:
		return "done"
	default:
		return "unprocessed"
	}
}

// Marker is the per-element rewrite state. Pending and Attempts track zero
// size failures for the most recent path; they do not change State.
type Marker struct {
	State    MarkerState
	Path     string
	Pending  string
	Attempts int
}

// Settled reports whether a rewrite for path would be redundant.
func (m Marker) Settled(path string) bool {
	return m.State == Bad || (m.State == Done && m.Path == path)
}

// DefaultMarkerCapacity bounds the side table. Elements dropped from the page
// age out once this many newer elements have been seen.
const DefaultMarkerCapacity = 1 << 16

// Markers is the side table of rewrite state keyed by element identity.
// It is not safe for concurrent use; the dispatcher owns it.
type Markers struct {
	cache *lru.Cache[ElementKey, Marker]
}

// NewMarkers returns a table holding at most capacity markers.
func NewMarkers(capacity int) *Markers {
	if capacity <= 0 {
		capacity = DefaultMarkerCapacity
	}
	c, err := lru.New[ElementKey, Marker](capacity)
	if err != nil {
		// only returned for a non-positive size, excluded above
		panic(err)
	}
	return &Markers{cache: c}
}

// Get returns the marker for key, Unprocessed when unknown.
func (m *Markers) Get(key ElementKey) Marker {
	mk, _ := m.cache.Get(key)
	return mk
}

func (m *Markers) MarkBad(key ElementKey) {
	m.cache.Add(key, Marker{State: Bad})
}

func (m *Markers) MarkDone(key ElementKey, path string) {
	m.cache.Add(key, Marker{State: Done, Path: path})
}

// NoteZeroSize records a failed size resolution for path and returns how many
// consecutive failures path has had on this element.
func (m *Markers) NoteZeroSize(key ElementKey, path string) int {
	mk, _ := m.cache.Get(key)
	if mk.Pending != path {
		mk.Pending = path
		mk.Attempts = 0
	}
	mk.Attempts++
	m.cache.Add(key, mk)
	return mk.Attempts
}

// Forget drops the marker for key.
func (m *Markers) Forget(key ElementKey) {
	m.cache.Remove(key)
}

func (m *Markers) Len() int { return m.cache.Len() }
