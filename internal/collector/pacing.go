package collector

import (
	"context"
	"math/rand/v2"
	"time"
)

// Pacing holds the delay windows between upstream calls. Delays are
// unconditional and jittered; nothing adapts to response times or error
// rates.
type Pacing struct {
	ItemDelayMin time.Duration
	ItemDelayMax time.Duration
	PageDelayMin time.Duration
	PageDelayMax time.Duration
}

// DefaultPacing returns the delay windows used by production runs.
func DefaultPacing() Pacing {
	return Pacing{
		ItemDelayMin: 100 * time.Millisecond,
		ItemDelayMax: 300 * time.Millisecond,
		PageDelayMin: 300 * time.Millisecond,
		PageDelayMax: time.Second,
	}
}

func (p Pacing) itemDelay() time.Duration {
	return jitter(p.ItemDelayMin, p.ItemDelayMax)
}

func (p Pacing) pageDelay() time.Duration {
	return jitter(p.PageDelayMin, p.PageDelayMax)
}

func jitter(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo)
}

// sleepCtx waits for d unless the context ends first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
