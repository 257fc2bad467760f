//go:build !gstreamer

package sink

import (
	"errors"

	"go.uber.org/zap"
)

// NewGst reports that GStreamer support was not compiled in.
func NewGst(log *zap.Logger, pipeline string, device string) (Output, error) {
	return nil, errors.New("gstreamer sink not built; rebuild with -tags gstreamer")
}
