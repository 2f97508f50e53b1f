// README: Announcement waves for new orders.
package matching

import (
	"math/rand"
	"time"

	"tgtaxi/internal/types"
)

const (
	// defaultInitialWave is the number of drivers told about a new order right away.
	defaultInitialWave = 5
	// defaultBroadcastDelay is how long an order waits before the remaining drivers hear of it.
	defaultBroadcastDelay = 30 * time.Second
	defaultTick           = 5 * time.Second
	defaultKeyTTL         = 24 * time.Hour
)

// PickRandomDrivers returns up to n distinct drivers from pool without mutating it.
func PickRandomDrivers(pool []types.ID, n int) []types.ID {
	if n <= 0 || len(pool) == 0 {
		return nil
	}
	cp := make([]types.ID, len(pool))
	copy(cp, pool)
	rand.Shuffle(len(cp), func(i, j int) { cp[i], cp[j] = cp[j], cp[i] })
	if n > len(cp) {
		n = len(cp)
	}
	return cp[:n]
}
