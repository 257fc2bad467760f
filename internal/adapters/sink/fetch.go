package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// MaxTrackBytes caps the size of a track held in memory.
const MaxTrackBytes = 256 << 20

// ErrTrackTooLarge is returned when a track exceeds the fetch limit.
var ErrTrackTooLarge = errors.New("track too large")

// fetchTrack downloads url into memory. Bodies over limit bytes are
// rejected rather than truncated.
func fetchTrack(ctx context.Context, client *http.Client, url string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("fetch %s: %s", url, resp.Status)
	}
	if resp.ContentLength > limit {
		return nil, fmt.Errorf("fetch %s: %w: %d bytes", url, ErrTrackTooLarge, resp.ContentLength)
	}
	data, err := readTrack(resp.Body, limit)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	return data, nil
}

func readTrack(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: over %d bytes", ErrTrackTooLarge, limit)
	}
	return data, nil
}
