package eventbus

import "time"

// Topic identifies a logical channel on the bus.
type Topic string

const (
	TopicProfilesLifecycle Topic = "profiles.lifecycle"
	TopicProfilesValidated Topic = "profiles.validated"
	TopicProfilesRefreshed Topic = "profiles.refreshed"
)

// Source describes which component produced an event.
type Source string

const (
	SourceRegistry Source = "registry"
	SourceWatcher  Source = "watcher"
	SourceCLI      Source = "cli"
	SourceUnknown  Source = "unknown"
)

// Envelope wraps every message published on the bus.
type Envelope struct {
	Topic         Topic
	Timestamp     time.Time
	Source        Source
	CorrelationID string
	Payload       any
}

// LifecycleAction names a profile lifecycle transition.
type LifecycleAction string

const (
	ActionCreated LifecycleAction = "created"
	ActionUpdated LifecycleAction = "updated"
	ActionDeleted LifecycleAction = "deleted"
	ActionDefault LifecycleAction = "default"
)

// ProfileLifecycleEvent reports a persisted change to one profile.
type ProfileLifecycleEvent struct {
	Action LifecycleAction
	Name   string
	Type   string
}

// ProfileValidatedEvent reports the outcome of a session check.
type ProfileValidatedEvent struct {
	Name   string
	Type   string
	Active bool
}

// ProfilesRefreshedEvent reports a completed registry rebuild.
type ProfilesRefreshedEvent struct {
	Profiles int
	Types    []string
	Failures int
}
