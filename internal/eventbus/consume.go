package eventbus

import (
	"context"
	"sync"
)

// Consume hands payloads from sub to handler until ctx is cancelled or the
// subscription closes. wg, when set, is marked done on return.
func Consume[T any](ctx context.Context, sub *TypedSubscription[T], wg *sync.WaitGroup, handler func(T)) {
	ConsumeEnvelope(ctx, sub, wg, func(env TypedEnvelope[T]) { handler(env.Payload) })
}

// ConsumeEnvelope is Consume with access to the envelope metadata.
func ConsumeEnvelope[T any](ctx context.Context, sub *TypedSubscription[T], wg *sync.WaitGroup, handler func(TypedEnvelope[T])) {
	if wg != nil {
		defer wg.Done()
	}
	if sub == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-sub.C():
			if !ok {
				return
			}
			handler(env)
		}
	}
}
