package notify

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Throttled caps the dispatch rate of an underlying Sender. Callers block
// until a token is available or ctx is done.
type Throttled struct {
	next    Sender
	limiter *rate.Limiter
}

// NewThrottled wraps next with a limit of perSecond messages per second and
// the given burst.
func NewThrottled(next Sender, perSecond float64, burst int) *Throttled {
	if burst < 1 {
		burst = 1
	}
	return &Throttled{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Send waits for a dispatch slot, then forwards to the wrapped Sender.
func (t *Throttled) Send(ctx context.Context, mobile, body string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("sms dispatch throttled: %w", err)
	}
	return t.next.Send(ctx, mobile, body)
}
