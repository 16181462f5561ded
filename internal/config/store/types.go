package store

// DomainSettings is the persisted view state of one consumer domain. It is
// always read and written as a whole.
type DomainSettings struct {
	Sessions  []string `json:"sessions,omitempty" yaml:"sessions,omitempty"`
	Favorites []string `json:"favorites,omitempty" yaml:"favorites,omitempty"`
	History   []string `json:"history,omitempty" yaml:"history,omitempty"`
}

// IsZero reports whether no list holds entries.
func (d DomainSettings) IsZero() bool {
	return len(d.Sessions) == 0 && len(d.Favorites) == 0 && len(d.History) == 0
}

const (
	settingSessions  = "sessions"
	settingFavorites = "favorites"
	settingHistory   = "history"
)
