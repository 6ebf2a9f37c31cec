package embed

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/bbiangul/agrokg/kgerr"
)

// Retrying retries transient provider failures with exponential backoff.
// Non-transient errors are returned after the first attempt.
type Retrying struct {
	Next       Embedder
	MaxRetries int
	Initial    time.Duration
	Max        time.Duration
}

// WithRetry wraps e with the default retry policy.
func WithRetry(e Embedder) *Retrying {
	return &Retrying{Next: e, MaxRetries: 3, Initial: 200 * time.Millisecond, Max: 5 * time.Second}
}

func (r *Retrying) Model() string { return r.Next.Model() }

func (r *Retrying) Dim() int { return r.Next.Dim() }

func (r *Retrying) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = r.Initial
	eb.MaxInterval = r.Max

	attempts := 0
	out, err := backoff.Retry(ctx, func() ([][]float32, error) {
		attempts++
		vecs, err := r.Next.Embed(ctx, texts)
		if err == nil {
			return vecs, nil
		}
		if !kgerr.IsTransient(err) {
			return nil, backoff.Permanent(err)
		}
		slog.Warn("embed: transient failure", "model", r.Next.Model(), "attempt", attempts, "error", err)
		return nil, err
	}, backoff.WithBackOff(eb), backoff.WithMaxTries(uint(r.MaxRetries+1)))
	if err != nil {
		if kgerr.IsTransient(err) {
			return nil, kgerr.Wrap(err, kgerr.CodeEmbedTransient, "embedding retries exhausted",
				kgerr.Field("attempts", attempts))
		}
		return nil, err
	}
	return out, nil
}
