package clock

import "time"

// Clock provides time.Now() access.
type Clock struct{}

// NowUnix returns current unix seconds.
func (Clock) NowUnix() int64 {
	return time.Now().Unix()
}

// NowMillis returns current unix milliseconds.
func (Clock) NowMillis() int64 {
	return time.Now().UnixMilli()
}
