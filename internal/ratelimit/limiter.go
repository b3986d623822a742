package ratelimit

import "context"

// ClaimLimiter bounds how often bots of one automation kind may poll for
// work. Over-limit polls are rejected, not queued; bots are expected to
// back off and poll again.
type ClaimLimiter interface {
	Allow(ctx context.Context, kind string) (bool, error)
}
