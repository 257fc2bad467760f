package view

import (
	"strings"

	"github.com/samber/lo"
	"golang.org/x/text/cases"

	"github.com/mikey-austin/tunedeck/pkg/deck"
)

// Match returns songs whose title or playlist contains query, ignoring case.
func Match(songs []deck.Song, query string) []deck.Song {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}
	fold := cases.Fold()
	needle := fold.String(query)
	return lo.Filter(songs, func(song deck.Song, _ int) bool {
		return strings.Contains(fold.String(song.Title), needle) ||
			strings.Contains(fold.String(song.Playlist), needle)
	})
}
