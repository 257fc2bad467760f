package core

import "github.com/mikey-austin/tunedeck/pkg/deck"

// NodesResult holds a list of presence records.
type NodesResult struct {
	Nodes []deck.Presence
}

// StatusResult holds player presence and state.
type StatusResult struct {
	Player deck.Presence
	State  deck.PlayerState
}

// PlaylistsResult holds the playlist cards offered by a player.
type PlaylistsResult struct {
	Player    deck.Presence
	Playlists []deck.PlaylistCard
}

// ViewResult holds a player's active view.
type ViewResult struct {
	Player deck.Presence
	View   deck.ViewGetReply
}
