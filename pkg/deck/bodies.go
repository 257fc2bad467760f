package deck

// EmptyBody is sent for commands without arguments.
type EmptyBody struct{}

// LoadPlaylistBody is the payload for view.loadPlaylist.
type LoadPlaylistBody struct {
	Name string `json:"name"`
}

// GlobalShuffleBody is the payload for view.globalShuffle.
type GlobalShuffleBody struct {
	Enabled bool `json:"enabled"`
}

// SearchBody is the payload for view.search.
type SearchBody struct {
	Query     string `json:"query"`
	Immediate bool   `json:"immediate,omitempty"`
}

// ViewGetReply is the reply body for view.get.
type ViewGetReply struct {
	Label string `json:"label"`
	Kind  string `json:"kind"`
	Index *int   `json:"index,omitempty"`
	Songs []Song `json:"songs"`
}

// PlaylistsReply is the reply body for catalog.playlists.
type PlaylistsReply struct {
	Playlists []PlaylistCard `json:"playlists"`
}

// PlaylistCard summarises one playlist for browsing.
type PlaylistCard struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	CoverURL    string `json:"coverUrl,omitempty"`
	Songs       int    `json:"songs"`
}

// RefreshBody is the payload for catalog.refresh.
type RefreshBody struct {
	Purge bool `json:"purge,omitempty"`
}

// PlaybackSelectBody is the payload for playback.select.
type PlaybackSelectBody struct {
	Index int `json:"index"`
}

// PlaybackSeekBody is the payload for playback.seek.
type PlaybackSeekBody struct {
	PositionSeconds float64 `json:"positionSeconds"`
}

// PlaybackSetVolumeBody is the payload for playback.setVolume.
type PlaybackSetVolumeBody struct {
	Volume float64 `json:"volume"`
}
