package provider

import (
	"context"
	"fmt"
	"iter"
	"time"

	"golang.org/x/time/rate"

	"github.com/theimaginaryfoundation/chatlog/transcript"
)

// RateLimited waits on Limiter before opening each stream of Source.
type RateLimited struct {
	Source  transcript.StreamSource
	Limiter *rate.Limiter
}

// NewRateLimited allows perMinute streams per minute with the given burst.
func NewRateLimited(src transcript.StreamSource, perMinute float64, burst int) RateLimited {
	if burst < 1 {
		burst = 1
	}
	return RateLimited{
		Source:  src,
		Limiter: rate.NewLimiter(rate.Limit(perMinute/time.Minute.Seconds()), burst),
	}
}

func (r RateLimited) Stream(ctx context.Context, prompt string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if r.Limiter != nil {
			if err := r.Limiter.Wait(ctx); err != nil {
				yield("", fmt.Errorf("RateLimited: %w", err))
				return
			}
		}
		for chunk, err := range r.Source.Stream(ctx, prompt) {
			if !yield(chunk, err) || err != nil {
				return
			}
		}
	}
}
