package view

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"time"

	"github.com/mikey-austin/tunedeck/pkg/deck"
)

// Kind identifies how the active order was derived.
type Kind string

const (
	KindLinear          Kind = "linear"
	KindPlaylistShuffle Kind = "playlistShuffle"
	KindGlobalShuffle   Kind = "globalShuffle"
	KindSearch          Kind = "search"
)

// Labels used for catalog-wide views.
const (
	GlobalLabel         = "All Songs"
	GlobalShuffledLabel = "All Songs (Shuffled)"
)

// Snapshot is a copy of the view for rendering.
type Snapshot struct {
	Label          string
	Kind           Kind
	Songs          []deck.Song
	OriginalLength int
}

// Engine holds the original and active orderings of the view on screen.
// It is not safe for concurrent use; the session loop owns it.
type Engine struct {
	rng      *rand.Rand
	original []deck.Song
	active   []deck.Song
	source   string
	global   bool
	label    string
	kind     Kind
}

// NewEngine creates an empty engine. A nil rng is seeded from the clock.
func NewEngine(rng *rand.Rand) *Engine {
	if rng == nil {
		rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15))
	}
	return &Engine{rng: rng, kind: KindLinear}
}

// LoadPlaylist replaces the view with a playlist in service order.
func (e *Engine) LoadPlaylist(name string, songs []deck.Song) {
	e.original = slices.Clone(songs)
	e.active = slices.Clone(songs)
	e.source = name
	e.global = false
	e.label = name
	e.kind = KindLinear
}

// LoadGlobalShuffle replaces the view with a fresh shuffle of the whole catalog.
func (e *Engine) LoadGlobalShuffle(catalog []deck.Song) {
	e.original = slices.Clone(catalog)
	e.source = GlobalLabel
	e.global = true
	e.Shuffle()
}

// Shuffle re-permutes the original order. Every call draws a new permutation.
func (e *Engine) Shuffle() {
	e.active = slices.Clone(e.original)
	for i := len(e.active) - 1; i > 0; i-- {
		j := e.rng.IntN(i + 1)
		e.active[i], e.active[j] = e.active[j], e.active[i]
	}
	if e.global {
		e.kind = KindGlobalShuffle
		e.label = GlobalShuffledLabel
		return
	}
	e.kind = KindPlaylistShuffle
	e.label = e.source
}

// Unshuffle restores the original order. It also leaves a search view.
func (e *Engine) Unshuffle() {
	e.active = slices.Clone(e.original)
	e.kind = KindLinear
	e.label = e.source
}

// ApplySearch filters catalog by query and shows the matches. Blank queries
// and queries without matches leave the view untouched and report false.
func (e *Engine) ApplySearch(query string, catalog []deck.Song) bool {
	query = strings.TrimSpace(query)
	if query == "" {
		return false
	}
	matches := Match(catalog, query)
	if len(matches) == 0 {
		return false
	}
	e.active = matches
	e.kind = KindSearch
	e.label = fmt.Sprintf("Search: %q", query)
	return true
}

// Active returns the active order. Callers must not modify it.
func (e *Engine) Active() []deck.Song {
	return e.active
}

// Original returns the original order. Callers must not modify it.
func (e *Engine) Original() []deck.Song {
	return e.original
}

// Len is the length of the active order.
func (e *Engine) Len() int {
	return len(e.active)
}

// Label is the human label for the view.
func (e *Engine) Label() string {
	return e.label
}

// Kind reports how the active order was derived.
func (e *Engine) Kind() Kind {
	return e.kind
}

// Global reports whether the view is sourced from the whole catalog.
func (e *Engine) Global() bool {
	return e.global
}

// Snapshot copies the view.
func (e *Engine) Snapshot() Snapshot {
	return Snapshot{
		Label:          e.label,
		Kind:           e.kind,
		Songs:          slices.Clone(e.active),
		OriginalLength: len(e.original),
	}
}
