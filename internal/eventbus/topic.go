package eventbus

import (
	"context"
	"time"
)

// TopicDef binds a Topic to its payload type.
type TopicDef[T any] struct{ topic Topic }

// NewTopicDef creates a typed topic descriptor.
func NewTopicDef[T any](topic Topic) TopicDef[T] { return TopicDef[T]{topic: topic} }

// Topic returns the underlying topic string.
func (d TopicDef[T]) Topic() Topic { return d.topic }

// Profiles groups the profile topic descriptors.
var Profiles = struct {
	Lifecycle TopicDef[ProfileLifecycleEvent]
	Validated TopicDef[ProfileValidatedEvent]
	Refreshed TopicDef[ProfilesRefreshedEvent]
}{
	Lifecycle: NewTopicDef[ProfileLifecycleEvent](TopicProfilesLifecycle),
	Validated: NewTopicDef[ProfileValidatedEvent](TopicProfilesValidated),
	Refreshed: NewTopicDef[ProfilesRefreshedEvent](TopicProfilesRefreshed),
}

// PublishOption customises the envelope built by Publish.
type PublishOption func(*Envelope)

// WithTimestamp overrides the envelope timestamp.
func WithTimestamp(ts time.Time) PublishOption {
	return func(env *Envelope) { env.Timestamp = ts }
}

// WithCorrelationID sets the envelope correlation ID.
func WithCorrelationID(id string) PublishOption {
	return func(env *Envelope) { env.CorrelationID = id }
}

// Publish sends a typed payload. A nil bus is a no-op.
func Publish[T any](ctx context.Context, bus *Bus, td TopicDef[T], source Source, payload T, opts ...PublishOption) {
	if bus == nil {
		return
	}
	env := Envelope{Topic: td.topic, Source: source, Payload: payload}
	for _, opt := range opts {
		opt(&env)
	}
	bus.Publish(ctx, env)
}

// SubscribeTo creates a typed subscription for a descriptor.
func SubscribeTo[T any](bus *Bus, td TopicDef[T], opts ...SubscriptionOption) *TypedSubscription[T] {
	return Subscribe[T](bus, td.topic, opts...)
}
