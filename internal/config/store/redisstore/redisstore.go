// Package redisstore keeps connection profiles in Redis so that several
// machines can share one profile set. Secure fields are sealed with the same
// AES-GCM scheme as the SQLite store before they leave the process.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/nupi-ai/connprof/internal/config"
	"github.com/nupi-ai/connprof/internal/config/store"
	storecrypto "github.com/nupi-ai/connprof/internal/config/store/crypto"
	"github.com/nupi-ai/connprof/internal/profile"
)

// AddrEnv overrides the Redis address.
const AddrEnv = "CONNPROF_REDIS_ADDR"

const defaultPrefix = "connprof"

// Options configures a Redis-backed store.
type Options struct {
	Addr         string // host:port, ignored when Client is set
	Client       redis.UniversalClient
	InstanceName string
	Prefix       string // key prefix, default "connprof"
	Key          []byte // AES-256 key sealing secure fields
}

// Store persists profiles and domain settings in Redis.
//
// Keys:
//
//	<prefix>:<instance>:profile:<lower name>   hash name,type,fields,secure
//	<prefix>:<instance>:type:<type>            set of lower names
//	<prefix>:<instance>:default:<type>         lower name
//	<prefix>:<instance>:schemas                hash type -> schema JSON
//	<prefix>:<instance>:settings:<namespace>   hash key -> value
type Store struct {
	client   redis.UniversalClient
	owned    bool
	instance string
	prefix   string
	key      []byte
}

// Open connects to Redis and verifies the connection.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if len(opts.Key) != storecrypto.KeySize {
		return nil, fmt.Errorf("redisstore: sealing key must be %d bytes", storecrypto.KeySize)
	}
	s := &Store{
		client:   opts.Client,
		instance: opts.InstanceName,
		prefix:   opts.Prefix,
		key:      opts.Key,
	}
	if s.instance == "" {
		s.instance = config.DefaultInstance
	}
	if s.prefix == "" {
		s.prefix = defaultPrefix
	}
	if s.client == nil {
		if opts.Addr == "" {
			return nil, fmt.Errorf("redisstore: address is required")
		}
		s.client = redis.NewClient(&redis.Options{Addr: opts.Addr})
		s.owned = true
	}
	if err := s.client.Ping(ctx).Err(); err != nil {
		s.Close()
		return nil, fmt.Errorf("redisstore: ping %s: %w", opts.Addr, err)
	}
	return s, nil
}

// Close releases the client when the store created it.
func (s *Store) Close() error {
	if s == nil || !s.owned {
		return nil
	}
	return s.client.Close()
}

func (s *Store) k(parts ...string) string {
	return s.prefix + ":" + s.instance + ":" + strings.Join(parts, ":")
}

func (s *Store) profileKey(name string) string {
	return s.k("profile", strings.ToLower(name))
}

// ForType returns the manager for typ and records a non-empty schema.
func (s *Store) ForType(ctx context.Context, typ string, schema profile.Schema) (*TypeManager, error) {
	typ = strings.TrimSpace(typ)
	if typ == "" {
		return nil, fmt.Errorf("redisstore: profile type is required")
	}
	if !schema.IsZero() {
		if schema.Type == "" {
			schema.Type = typ
		}
		raw, err := json.Marshal(schema)
		if err != nil {
			return nil, fmt.Errorf("redisstore: encode %s schema: %w", typ, err)
		}
		if err := s.client.HSet(ctx, s.k("schemas"), typ, raw).Err(); err != nil {
			return nil, fmt.Errorf("redisstore: record %s schema: %w", typ, err)
		}
	}
	return &TypeManager{store: s, typ: typ, schema: schema}, nil
}

// LoadDomainSettings returns the persisted lists of a consumer domain.
func (s *Store) LoadDomainSettings(ctx context.Context, domain profile.Domain) (store.DomainSettings, error) {
	values, err := s.client.HGetAll(ctx, s.k("settings", domain.SettingsNamespace())).Result()
	if err != nil {
		return store.DomainSettings{}, fmt.Errorf("redisstore: load %s settings: %w", domain, err)
	}
	var out store.DomainSettings
	for field, target := range map[string]*[]string{
		"sessions":  &out.Sessions,
		"favorites": &out.Favorites,
		"history":   &out.History,
	} {
		raw, ok := values[field]
		if !ok {
			continue
		}
		if err := json.Unmarshal([]byte(raw), target); err != nil {
			return store.DomainSettings{}, fmt.Errorf("redisstore: decode %s.%s: %w", domain, field, err)
		}
	}
	return out, nil
}

// SaveDomainSettings replaces every list of a consumer domain atomically.
func (s *Store) SaveDomainSettings(ctx context.Context, domain profile.Domain, settings store.DomainSettings) error {
	values := map[string]any{}
	for field, list := range map[string][]string{
		"sessions":  settings.Sessions,
		"favorites": settings.Favorites,
		"history":   settings.History,
	} {
		if list == nil {
			list = []string{}
		}
		raw, err := json.Marshal(list)
		if err != nil {
			return fmt.Errorf("redisstore: encode %s: %w", field, err)
		}
		values[field] = string(raw)
	}
	key := s.k("settings", domain.SettingsNamespace())
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, values)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redisstore: save %s settings: %w", domain, err)
	}
	return nil
}

// TypeManager persists the profiles of one type.
type TypeManager struct {
	store  *Store
	typ    string
	schema profile.Schema
}

func (m *TypeManager) Type() string { return m.typ }

func (m *TypeManager) Configurations(ctx context.Context) ([]profile.Schema, error) {
	raw, err := m.store.client.HGetAll(ctx, m.store.k("schemas")).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: list schemas: %w", err)
	}
	types := make([]string, 0, len(raw))
	for typ := range raw {
		types = append(types, typ)
	}
	sort.Strings(types)

	out := make([]profile.Schema, 0, len(types))
	for _, typ := range types {
		var schema profile.Schema
		if err := json.Unmarshal([]byte(raw[typ]), &schema); err != nil {
			return nil, fmt.Errorf("redisstore: decode %s schema: %w", typ, err)
		}
		out = append(out, schema)
	}
	return out, nil
}

func (m *TypeManager) Load(ctx context.Context, name string) (profile.Profile, error) {
	p, err := m.read(ctx, name)
	if err != nil {
		return profile.Profile{}, err
	}
	return p, nil
}

func (m *TypeManager) readLenient(ctx context.Context, name string) (profile.Profile, error) {
	p, err := m.read(ctx, name)
	if errors.Is(err, store.ErrMissingCredentials) {
		return p, nil
	}
	return p, err
}

func (m *TypeManager) LoadDefault(ctx context.Context) (profile.Profile, error) {
	name, err := m.store.client.Get(ctx, m.store.k("default", m.typ)).Result()
	if errors.Is(err, redis.Nil) {
		return profile.Profile{}, store.NotFoundError{Entity: "default profile", Key: m.typ}
	}
	if err != nil {
		return profile.Profile{}, fmt.Errorf("redisstore: load default %s: %w", m.typ, err)
	}
	return m.readLenient(ctx, name)
}

func (m *TypeManager) LoadAll(ctx context.Context) ([]profile.Profile, error) {
	names, err := m.store.client.SMembers(ctx, m.store.k("type", m.typ)).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: list %s profiles: %w", m.typ, err)
	}
	sort.Strings(names)

	out := make([]profile.Profile, 0, len(names))
	for _, name := range names {
		p, err := m.readLenient(ctx, name)
		if store.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Save creates a profile. Names are unique per instance regardless of type
// and case.
func (m *TypeManager) Save(ctx context.Context, p profile.Profile) (profile.Profile, error) {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return profile.Profile{}, fmt.Errorf("redisstore: save profile: name is required")
	}
	hash, err := m.encode(name, p.Fields)
	if err != nil {
		return profile.Profile{}, err
	}

	key := m.store.profileKey(name)
	created, err := m.store.client.HSetNX(ctx, key, "name", name).Result()
	if err != nil {
		return profile.Profile{}, fmt.Errorf("redisstore: save profile %q: %w", name, err)
	}
	if !created {
		return profile.Profile{}, fmt.Errorf("redisstore: profile %q: %w", name, store.ErrAlreadyExists)
	}
	_, err = m.store.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, hash)
		pipe.SAdd(ctx, m.store.k("type", m.typ), strings.ToLower(name))
		return nil
	})
	if err != nil {
		m.store.client.Del(ctx, key)
		return profile.Profile{}, fmt.Errorf("redisstore: save profile %q: %w", name, err)
	}
	return profile.Profile{Name: name, Type: m.typ, Fields: p.Fields.Clone()}, nil
}

func (m *TypeManager) Update(ctx context.Context, name string, fields profile.Fields, merge bool) (profile.Profile, error) {
	current, err := m.read(ctx, name)
	if err != nil {
		return profile.Profile{}, err
	}
	next := fields.Clone()
	if merge {
		next = profile.Merge(current.Fields, fields)
	}
	for k, v := range next {
		if v == nil {
			delete(next, k)
		}
	}
	hash, err := m.encode(current.Name, next)
	if err != nil {
		return profile.Profile{}, err
	}
	if err := m.store.client.HSet(ctx, m.store.profileKey(name), hash).Err(); err != nil {
		return profile.Profile{}, fmt.Errorf("redisstore: update profile %q: %w", name, err)
	}
	return profile.Profile{Name: current.Name, Type: m.typ, Fields: next}, nil
}

func (m *TypeManager) Delete(ctx context.Context, name string) (profile.Profile, error) {
	current, err := m.readLenient(ctx, name)
	if err != nil {
		return profile.Profile{}, err
	}
	lower := strings.ToLower(name)
	defaultKey := m.store.k("default", m.typ)
	_, err = m.store.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, m.store.profileKey(name))
		pipe.SRem(ctx, m.store.k("type", m.typ), lower)
		return nil
	})
	if err != nil {
		return profile.Profile{}, fmt.Errorf("redisstore: delete profile %q: %w", name, err)
	}
	if def, _ := m.store.client.Get(ctx, defaultKey).Result(); def == lower {
		m.store.client.Del(ctx, defaultKey)
	}
	return current, nil
}

func (m *TypeManager) SetDefault(ctx context.Context, name string) error {
	if _, err := m.readLenient(ctx, name); err != nil {
		return err
	}
	if err := m.store.client.Set(ctx, m.store.k("default", m.typ), strings.ToLower(name), 0).Err(); err != nil {
		return fmt.Errorf("redisstore: set default %s: %w", m.typ, err)
	}
	return nil
}

func (m *TypeManager) encode(name string, fields profile.Fields) (map[string]any, error) {
	plain := profile.Fields{}
	sealed := map[string]string{}
	for k, v := range fields {
		if v == nil {
			continue
		}
		if prop, ok := m.schema.Property(k); ok && prop.Secure {
			value, err := storecrypto.EncryptValue(m.store.key, fields.String(k))
			if err != nil {
				return nil, fmt.Errorf("redisstore: seal %s of %q: %w", k, name, err)
			}
			sealed[k] = value
			continue
		}
		plain[k] = v
	}
	plainJSON, err := json.Marshal(plain)
	if err != nil {
		return nil, fmt.Errorf("redisstore: encode %q: %w", name, err)
	}
	sealedJSON, err := json.Marshal(sealed)
	if err != nil {
		return nil, fmt.Errorf("redisstore: encode %q: %w", name, err)
	}
	return map[string]any{
		"name":   name,
		"type":   m.typ,
		"fields": string(plainJSON),
		"secure": string(sealedJSON),
	}, nil
}

// read loads a profile of the manager's type. Unopenable sealed values are
// reported as store.ErrMissingCredentials.
func (m *TypeManager) read(ctx context.Context, name string) (profile.Profile, error) {
	values, err := m.store.client.HGetAll(ctx, m.store.profileKey(name)).Result()
	if err != nil {
		return profile.Profile{}, fmt.Errorf("redisstore: load profile %q: %w", name, err)
	}
	if len(values) == 0 || values["type"] != m.typ {
		return profile.Profile{}, store.NotFoundError{Entity: "profile", Key: m.typ + "/" + name}
	}

	fields, err := profile.DecodeFields([]byte(values["fields"]))
	if err != nil {
		return profile.Profile{}, fmt.Errorf("redisstore: decode %q: %w", name, err)
	}
	p := profile.Profile{Name: values["name"], Type: m.typ, Fields: fields}

	var sealed map[string]string
	if raw := values["secure"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &sealed); err != nil {
			return profile.Profile{}, fmt.Errorf("redisstore: decode credentials of %q: %w", name, err)
		}
	}
	var missing []string
	for k, v := range sealed {
		plain, err := storecrypto.DecryptValue(m.store.key, v)
		if err != nil {
			missing = append(missing, k)
			continue
		}
		p.Fields[k] = plain
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return p, fmt.Errorf("redisstore: credentials %v of %q: %w", missing, name, store.ErrMissingCredentials)
	}
	return p, nil
}
