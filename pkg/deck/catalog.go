package deck

import (
	"regexp"
	"strings"
)

// Song is one playable file in the catalog.
type Song struct {
	Title    string `json:"title"`
	URL      string `json:"url"`
	Playlist string `json:"playlist,omitempty"`
}

// SongsReply is the catalog service body for GET /songs/{playlist}.
type SongsReply struct {
	Playlist string  `json:"playlist"`
	Songs    []Song  `json:"songs"`
	Metadata *string `json:"metadata"`
	Cover    *string `json:"cover"`
}

// GlobalReply is the catalog service body for GET /songs/global/shuffle.
type GlobalReply struct {
	Playlist string `json:"playlist"`
	Songs    []Song `json:"songs"`
	Shuffled bool   `json:"shuffled"`
	Global   bool   `json:"global"`
}

// SearchReply is the catalog service body for GET /search.
type SearchReply struct {
	Query   string `json:"query"`
	Results []Song `json:"results"`
	Count   int    `json:"count"`
}

// Descriptor is the optional info.json stored next to a playlist.
type Descriptor struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description"`
}

var mp3Suffix = regexp.MustCompile(`(?i)\.mp3$`)

// DisplayTitle strips the audio extension and encoded spaces from a file name.
func DisplayTitle(title string) string {
	title = mp3Suffix.ReplaceAllString(title, "")
	return strings.ReplaceAll(title, "%20", " ")
}
