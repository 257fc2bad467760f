package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mikey-austin/tunedeck/internal/core"
	"github.com/mikey-austin/tunedeck/pkg/deck"
)

// Config configures the catalog service client.
type Config struct {
	// BaseURL is the API root, e.g. https://host/app/api.
	BaseURL string
	// StaticURL is the root the /songs static tree is served under.
	// Defaults to BaseURL without a trailing /api.
	StaticURL   string
	Timeout     time.Duration
	FanoutLimit int
}

// Listing is one playlist's songs and optional assets.
type Listing struct {
	Playlist    string
	Songs       []deck.Song
	MetadataURL string
	CoverURL    string
}

// Client fetches playlists and songs from the catalog service.
type Client struct {
	log    *zap.Logger
	http   *http.Client
	config Config
}

// New validates cfg and builds a client. A nil httpClient uses one with cfg.Timeout.
func New(log *zap.Logger, cfg Config, httpClient *http.Client) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("base_url required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("base_url: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.FanoutLimit <= 0 {
		cfg.FanoutLimit = 8
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if strings.TrimSpace(cfg.StaticURL) == "" {
		cfg.StaticURL = strings.TrimSuffix(cfg.BaseURL, "/api")
	}
	cfg.StaticURL = strings.TrimRight(cfg.StaticURL, "/")
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{log: log, http: httpClient, config: cfg}, nil
}

// ListPlaylists returns playlist names in service order.
func (c *Client) ListPlaylists(ctx context.Context) ([]string, error) {
	var names []string
	if err := c.getJSON(ctx, c.config.BaseURL+"/playlists", &names); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			err = fmt.Errorf("%w: %v", core.ErrServiceUnavailable, err)
		}
		return nil, fmt.Errorf("list playlists: %w", err)
	}
	return names, nil
}

// ListSongs returns the songs of one playlist, each tagged with its name.
func (c *Client) ListSongs(ctx context.Context, name string) (Listing, error) {
	if strings.TrimSpace(name) == "" {
		return Listing{}, fmt.Errorf("list songs: %w: playlist name required", core.ErrInvalidRequest)
	}
	var reply deck.SongsReply
	endpoint := c.config.BaseURL + "/songs/" + url.PathEscape(name)
	if err := c.getJSON(ctx, endpoint, &reply); err != nil {
		return Listing{}, fmt.Errorf("playlist %q: %w", name, err)
	}
	listing := Listing{
		Playlist: name,
		Songs: lo.Map(reply.Songs, func(song deck.Song, _ int) deck.Song {
			song.Playlist = name
			return song
		}),
	}
	if reply.Metadata != nil {
		listing.MetadataURL = *reply.Metadata
	}
	if reply.Cover != nil {
		listing.CoverURL = *reply.Cover
	}
	return listing, nil
}

// ListAllSongsFlattened returns every song across playlists. The service's
// aggregate endpoint is preferred; when it is missing the listing is built
// by fetching each playlist concurrently.
func (c *Client) ListAllSongsFlattened(ctx context.Context) ([]deck.Song, error) {
	var reply deck.GlobalReply
	err := c.getJSON(ctx, c.config.BaseURL+"/songs/global/shuffle", &reply)
	if err == nil {
		return lo.Map(reply.Songs, func(song deck.Song, _ int) deck.Song {
			if song.Playlist == "" {
				song.Playlist = PlaylistFromURL(song.URL)
			}
			return song
		}), nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("list all songs: %w", err)
	}
	c.log.Debug("aggregate listing unavailable, fanning out")
	return c.fanOut(ctx)
}

func (c *Client) fanOut(ctx context.Context) ([]deck.Song, error) {
	names, err := c.ListPlaylists(ctx)
	if err != nil {
		return nil, err
	}

	results := make([][]deck.Song, len(names))
	errs := make([]error, len(names))
	var group errgroup.Group
	group.SetLimit(c.config.FanoutLimit)
	for i, name := range names {
		group.Go(func() error {
			listing, err := c.ListSongs(ctx, name)
			if err != nil {
				c.log.Warn("playlist fetch failed", zap.String("playlist", name), zap.Error(err))
				errs[i] = err
				return nil
			}
			results[i] = listing.Songs
			return nil
		})
	}
	_ = group.Wait()

	if len(names) > 0 && lo.EveryBy(errs, func(err error) bool { return err != nil }) {
		return nil, fmt.Errorf("%w: every playlist fetch failed: %w", core.ErrServiceUnavailable, errors.Join(errs...))
	}
	return lo.Flatten(results), nil
}

// Search asks the service for songs matching query.
func (c *Client) Search(ctx context.Context, query string) ([]deck.Song, error) {
	params := url.Values{}
	params.Set("q", query)
	var reply deck.SearchReply
	if err := c.getJSON(ctx, c.config.BaseURL+"/search?"+params.Encode(), &reply); err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}
	return reply.Results, nil
}

// FetchDescriptor loads a playlist's info.json.
func (c *Client) FetchDescriptor(ctx context.Context, descriptorURL string) (deck.Descriptor, error) {
	var desc deck.Descriptor
	if err := c.getJSON(ctx, descriptorURL, &desc); err != nil {
		return deck.Descriptor{}, fmt.Errorf("descriptor: %w", err)
	}
	return desc, nil
}

// CoverURL is the conventional cover location for a playlist.
func (c *Client) CoverURL(playlist string) string {
	if playlist == "" {
		return ""
	}
	return c.config.StaticURL + "/songs/" + url.PathEscape(playlist) + "/cover.jpg"
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrInvalidRequest, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "tunedeck/1.0")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", core.ErrNotFound, resp.Status)
	case resp.StatusCode == http.StatusBadRequest:
		return fmt.Errorf("%w: %s", core.ErrInvalidRequest, resp.Status)
	case resp.StatusCode >= 400:
		return fmt.Errorf("%w: %s", core.ErrServiceUnavailable, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode: %v", core.ErrServiceUnavailable, err)
	}
	return nil
}

// PlaylistFromURL extracts the playlist directory from a /songs/<playlist>/<file> URL.
func PlaylistFromURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	parts := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "songs" {
			return parts[i+1]
		}
	}
	return ""
}
