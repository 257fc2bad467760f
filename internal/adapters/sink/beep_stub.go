//go:build !((linux && cgo) || windows || darwin)

package sink

import (
	"errors"
	"net/http"

	"go.uber.org/zap"
)

// BeepAvailable reports whether the beep sink is compiled in.
const BeepAvailable = false

// NewBeep reports that speaker output needs cgo on this platform.
func NewBeep(log *zap.Logger, httpClient *http.Client) (Output, error) {
	return nil, errors.New("beep sink requires cgo")
}
