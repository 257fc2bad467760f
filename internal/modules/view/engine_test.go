package view

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/mikey-austin/tunedeck/pkg/deck"
)

func songs(n int, playlist string) []deck.Song {
	out := make([]deck.Song, n)
	for i := range out {
		out[i] = deck.Song{
			Title:    fmt.Sprintf("track-%02d.mp3", i),
			URL:      fmt.Sprintf("http://x/songs/%s/track-%02d.mp3", playlist, i),
			Playlist: playlist,
		}
	}
	return out
}

func newTestEngine() *Engine {
	return NewEngine(rand.New(rand.NewPCG(1, 2)))
}

func urls(list []deck.Song) []string {
	out := make([]string, len(list))
	for i, song := range list {
		out[i] = song.URL
	}
	return out
}

func TestShufflePreservesSetAndOriginal(t *testing.T) {
	for _, n := range []int{1, 2, 5, 40} {
		engine := newTestEngine()
		source := songs(n, "p")
		engine.LoadPlaylist("p", source)
		engine.Shuffle()

		if engine.Kind() != KindPlaylistShuffle {
			t.Fatalf("kind = %s", engine.Kind())
		}
		if !slices.Equal(urls(engine.Original()), urls(source)) {
			t.Fatalf("original order modified")
		}
		got := urls(engine.Active())
		want := urls(source)
		slices.Sort(got)
		slices.Sort(want)
		if !slices.Equal(got, want) {
			t.Fatalf("shuffle changed the set of songs for n=%d", n)
		}
	}
}

func TestShuffleRepermutes(t *testing.T) {
	engine := newTestEngine()
	engine.LoadPlaylist("p", songs(10, "p"))
	engine.Shuffle()
	first := urls(engine.Active())

	changed := false
	for i := 0; i < 20 && !changed; i++ {
		engine.Shuffle()
		changed = !slices.Equal(first, urls(engine.Active()))
	}
	if !changed {
		t.Fatalf("expected repeated shuffles to produce a new order")
	}
}

func TestUnshuffleRestoresOriginal(t *testing.T) {
	engine := newTestEngine()
	source := songs(12, "p")
	engine.LoadPlaylist("p", source)
	engine.Shuffle()
	engine.Shuffle()
	engine.Unshuffle()
	if !slices.Equal(urls(engine.Active()), urls(source)) {
		t.Fatalf("unshuffle did not restore original order")
	}
	engine.Unshuffle()
	if !slices.Equal(urls(engine.Active()), urls(source)) {
		t.Fatalf("unshuffle is not idempotent")
	}
	if engine.Kind() != KindLinear || engine.Label() != "p" {
		t.Fatalf("unexpected view %s %q", engine.Kind(), engine.Label())
	}
}

func TestGlobalShuffle(t *testing.T) {
	engine := newTestEngine()
	engine.LoadPlaylist("p", songs(3, "p"))
	catalog := append(songs(4, "a"), songs(4, "b")...)
	engine.LoadGlobalShuffle(catalog)

	if engine.Kind() != KindGlobalShuffle || engine.Label() != GlobalShuffledLabel {
		t.Fatalf("unexpected view %s %q", engine.Kind(), engine.Label())
	}
	if engine.Len() != len(catalog) || len(engine.Original()) != len(catalog) {
		t.Fatalf("length mismatch")
	}
	engine.Shuffle()
	if engine.Kind() != KindGlobalShuffle {
		t.Fatalf("reshuffle should stay global")
	}

	engine.LoadPlaylist("p", songs(3, "p"))
	if engine.Kind() != KindLinear || engine.Global() {
		t.Fatalf("loading a playlist should clear global state")
	}
}

func TestApplySearchMatchesTitleAndPlaylist(t *testing.T) {
	catalog := []deck.Song{
		{Title: "I Love You.mp3", URL: "u1", Playlist: "Romance"},
		{Title: "Blue.mp3", URL: "u2", Playlist: "Lovers Anthology"},
		{Title: "Other.mp3", URL: "u3", Playlist: "Rock"},
	}
	engine := newTestEngine()
	engine.LoadPlaylist("Rock", catalog[2:])

	if !engine.ApplySearch("love", catalog) {
		t.Fatalf("expected search to apply")
	}
	if got := urls(engine.Active()); !slices.Equal(got, []string{"u1", "u2"}) {
		t.Fatalf("unexpected results %v", got)
	}
	if engine.Kind() != KindSearch || engine.Label() != `Search: "love"` {
		t.Fatalf("unexpected view %s %q", engine.Kind(), engine.Label())
	}
	if len(engine.Original()) != 1 {
		t.Fatalf("search must not replace the original order")
	}

	engine.Unshuffle()
	if got := urls(engine.Active()); !slices.Equal(got, []string{"u3"}) {
		t.Fatalf("expected to return to playlist, got %v", got)
	}
}

func TestApplySearchNoOps(t *testing.T) {
	catalog := songs(3, "p")
	engine := newTestEngine()
	engine.LoadPlaylist("p", catalog)
	before := engine.Snapshot()

	for _, query := range []string{"", "   ", "\t", "zzz"} {
		if engine.ApplySearch(query, catalog) {
			t.Fatalf("query %q should be a no-op", query)
		}
		after := engine.Snapshot()
		if after.Kind != before.Kind || after.Label != before.Label || !slices.Equal(urls(after.Songs), urls(before.Songs)) {
			t.Fatalf("query %q changed the view", query)
		}
	}
}

func TestMatchFoldsCase(t *testing.T) {
	catalog := []deck.Song{{Title: "STRASSE.mp3", Playlist: "x"}, {Title: "road.mp3", Playlist: "ROADS"}}
	if got := Match(catalog, "Road"); len(got) != 1 || got[0].Title != "road.mp3" {
		t.Fatalf("unexpected matches %+v", got)
	}
	if got := Match(catalog, "  strasse "); len(got) != 1 {
		t.Fatalf("expected trimmed case-insensitive match, got %+v", got)
	}
}
