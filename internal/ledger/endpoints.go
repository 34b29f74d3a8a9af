package ledger

import (
	"github.com/registry-mirror/internal/circuitbreaker"
)

// nextEndpoint maps a retry attempt (1-based) to an endpoint index. Rotation
// is a pure function of the attempt number; there is no shared rotation
// pointer to mutate.
func nextEndpoint(count, attempt int) int {
	return (attempt - 1) % count
}

// pickEndpoint returns the index of the first endpoint, starting at the
// attempt's rotation slot, whose breaker admits a request. Falls back to the
// rotation slot itself when every breaker is open, so a fully cooled-down
// pool still gets probed instead of deadlocking.
func pickEndpoint(breakers []*circuitbreaker.Breaker, attempt int) int {
	start := nextEndpoint(len(breakers), attempt)
	for i := 0; i < len(breakers); i++ {
		idx := (start + i) % len(breakers)
		if breakers[idx].Allow() {
			return idx
		}
	}
	return start
}
