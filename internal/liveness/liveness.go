// Package liveness derives device connectivity from telemetry staleness.
//
// The stores persist a conectado flag for their own bookkeeping, but that
// flag only reflects the last write. External consumers must always use
// the recomputed value.
package liveness

import "time"

// DefaultWindow is how long a machine stays "connected" after its last
// telemetry write.
const DefaultWindow = 60 * time.Second

// Connected reports whether a machine with the given last-update time
// (unix seconds, nil when it never reported) counts as connected at now.
func Connected(lastUpdate *float64, now time.Time, window time.Duration) bool {
	if lastUpdate == nil {
		return false
	}
	elapsed := now.Sub(time.Unix(0, int64(*lastUpdate*float64(time.Second))))
	return elapsed >= 0 && elapsed <= window
}

// UnixSeconds converts a time to the unix-seconds representation stored
// in DeviceState.UltimoTimestamp and Command timestamps.
func UnixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
