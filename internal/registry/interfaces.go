package registry

import (
	"context"

	"github.com/nupi-ai/connprof/internal/capability"
	"github.com/nupi-ai/connprof/internal/config/store"
	"github.com/nupi-ai/connprof/internal/profile"
)

// ProfileStore persists the profiles of one type.
type ProfileStore interface {
	Load(ctx context.Context, name string) (profile.Profile, error)
	LoadDefault(ctx context.Context) (profile.Profile, error)
	LoadAll(ctx context.Context) ([]profile.Profile, error)
	Save(ctx context.Context, p profile.Profile) (profile.Profile, error)
	Update(ctx context.Context, name string, fields profile.Fields, merge bool) (profile.Profile, error)
	Delete(ctx context.Context, name string) (profile.Profile, error)
	Configurations(ctx context.Context) ([]profile.Schema, error)
}

// DefaultSetter is implemented by stores that can persist a type default.
type DefaultSetter interface {
	SetDefault(ctx context.Context, name string) error
}

// StoreFactory opens the store of a profile type.
type StoreFactory interface {
	ForType(ctx context.Context, typ string, schema profile.Schema) (ProfileStore, error)
}

// StoreFactoryFunc adapts a function to StoreFactory.
type StoreFactoryFunc func(ctx context.Context, typ string, schema profile.Schema) (ProfileStore, error)

// ForType calls f.
func (f StoreFactoryFunc) ForType(ctx context.Context, typ string, schema profile.Schema) (ProfileStore, error) {
	return f(ctx, typ, schema)
}

// Capabilities is the part of the capability registry the profile registry
// depends on. *capability.Registry implements it.
type Capabilities interface {
	Types() []string
	Schema(typ string) (profile.Schema, bool)
	Supports(typ string, axis profile.Domain) bool
	ValidSession(ctx context.Context, p profile.Profile, opts capability.SessionOptions) (*capability.Session, error)
	Status(ctx context.Context, p profile.Profile) (profile.Status, error)
	CollectProfileDetails(ctx context.Context, prompts capability.Prompter, existing profile.Fields, schema profile.Schema, rePrompt bool) (profile.Fields, bool, error)
}

// SettingsStore persists per-domain view state as a whole object.
type SettingsStore interface {
	LoadDomainSettings(ctx context.Context, domain profile.Domain) (store.DomainSettings, error)
	SaveDomainSettings(ctx context.Context, domain profile.Domain, settings store.DomainSettings) error
}

// Prompter interacts with the user. Every method expresses cancellation as
// a false result.
type Prompter interface {
	SelectProfile(ctx context.Context, title string, names []string) (string, bool)
	Confirm(ctx context.Context, message string) bool
	Input(ctx context.Context, label, current string, secret bool) (string, bool)
	Notify(msg string)
}

// ErrorHandler reports failures of user-facing operations.
type ErrorHandler interface {
	Handle(err error, contextName, message string)
}

// Entry is a favorite shown by a consumer store. Its label starts with the
// bracketed profile name.
type Entry struct {
	Label string
}

// SessionNode is a top-level node of a consumer store. Profile is empty for
// nodes not backed by a profile.
type SessionNode struct {
	Label   string
	Profile string
}

// ConsumerStore is a per-domain view that shows profiles as session nodes,
// favorites and history entries.
type ConsumerStore interface {
	TreeType() profile.Domain
	FileHistory() []string
	RemoveFileHistory(entry string)
	Favorites() []Entry
	RemoveFavorite(ctx context.Context, entry Entry) error
	SessionNodes() []SessionNode
	HideSession(node SessionNode)
	Refresh()
	AddSession(ctx context.Context, name string) error
}

type nopPrompter struct{}

func (nopPrompter) SelectProfile(context.Context, string, []string) (string, bool) { return "", false }
func (nopPrompter) Confirm(context.Context, string) bool                           { return false }
func (nopPrompter) Input(context.Context, string, string, bool) (string, bool)     { return "", false }
func (nopPrompter) Notify(string)                                                  {}
