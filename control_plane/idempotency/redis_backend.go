package idempotency

import (
	"context"

	"github.com/fluxforge/orchestrator/control_plane/store"
)

// RedisBackend adapts store.RedisStore's two-phase idempotency pattern
// to the Backend interface, giving a concurrent retry of an in-flight
// key a wait-for-result instead of a race.
type RedisBackend struct {
	store *store.RedisStore
}

func NewRedisBackend(s *store.RedisStore) *RedisBackend {
	return &RedisBackend{store: s}
}

func (b *RedisBackend) Execute(ctx context.Context, key string, fn func(context.Context) (Response, error)) (Response, error) {
	result, err := b.store.ExecuteIdempotent(ctx, key, func(ctx context.Context) (*store.IdempotencyResult, error) {
		resp, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		headers := make(map[string]string, len(resp.Headers))
		for k, vs := range resp.Headers {
			if len(vs) > 0 {
				headers[k] = vs[0]
			}
		}
		return &store.IdempotencyResult{
			StatusCode: resp.StatusCode,
			Body:       resp.Body,
			Headers:    headers,
		}, nil
	})
	if err != nil {
		return Response{}, err
	}

	headers := make(map[string][]string, len(result.Headers))
	for k, v := range result.Headers {
		headers[k] = []string{v}
	}
	return Response{StatusCode: result.StatusCode, Body: result.Body, Headers: headers}, nil
}
