package channel

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Pacer spaces out sends. Wait blocks until the next send may start.
type Pacer interface {
	Wait(ctx context.Context) error
}

// RatePacer admits rps sends per second with bursts of rps.
type RatePacer struct {
	limiter *rate.Limiter
}

func NewRatePacer(rps int) *RatePacer {
	if rps <= 0 {
		rps = 1
	}
	return &RatePacer{limiter: rate.NewLimiter(rate.Limit(rps), rps)}
}

func (p *RatePacer) Wait(ctx context.Context) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	return nil
}
