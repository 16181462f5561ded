package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nupi-ai/connprof/internal/capability"
	"github.com/nupi-ai/connprof/internal/capability/builtin"
	"github.com/nupi-ai/connprof/internal/config"
	"github.com/nupi-ai/connprof/internal/config/store"
	storecrypto "github.com/nupi-ai/connprof/internal/config/store/crypto"
	"github.com/nupi-ai/connprof/internal/config/store/redisstore"
	"github.com/nupi-ai/connprof/internal/errorhandling"
	"github.com/nupi-ai/connprof/internal/eventbus"
	"github.com/nupi-ai/connprof/internal/logging"
	"github.com/nupi-ai/connprof/internal/profile"
	"github.com/nupi-ai/connprof/internal/registry"
	"github.com/nupi-ai/connprof/internal/treestore"
)

// app is the composition root shared by every command. It owns the
// registry and the consumer stores for the duration of one invocation.
type app struct {
	logger   *zap.Logger
	errs     *errorhandling.Handler
	bus      *eventbus.Bus
	caps     *capability.Registry
	registry *registry.Registry
	prompter *terminalPrompter
	views    []*treestore.Store
	watcher  registry.ChangeWatcher // nil when the backend cannot be watched

	closers []func() error
}

// openApp wires the stack from the persistent flags and loads the
// registry and the consumer stores.
func openApp(cmd *cobra.Command) (*app, error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	flags := cmd.Flags()
	instance, _ := flags.GetString("instance")
	dbPath, _ := flags.GetString("db")
	backend, _ := flags.GetString("store")
	redisAddr, _ := flags.GetString("redis-addr")
	debug, _ := flags.GetBool("debug")
	assumeYes, _ := flags.GetBool("yes")
	noInput, _ := flags.GetBool("no-input")

	paths, err := config.EnsureInstanceDirs(instance)
	if err != nil {
		return nil, fmt.Errorf("ensure instance directories: %w", err)
	}
	// Errors reach the terminal through the error handler; the log keeps
	// the detail unless --debug asks for it on stderr.
	logOpts := logging.Options{Debug: debug}
	if !debug {
		logOpts.Paths = []string{filepath.Join(paths.Logs, "connprof.log")}
	}
	logger, err := logging.New(logOpts)
	if err != nil {
		return nil, err
	}
	a := &app{logger: logger}
	a.closers = append(a.closers, func() error {
		_ = logger.Sync()
		return nil
	})
	a.errs = errorhandling.New(logger, cmd.ErrOrStderr())
	a.bus = eventbus.New(eventbus.WithLogger(logger.Named("eventbus")))
	a.closers = append(a.closers, func() error {
		a.bus.Shutdown()
		return nil
	})

	a.caps, err = builtin.NewRegistry(builtin.Options{
		TypesFile:  paths.TypesFile,
		ScriptsDir: paths.TypesDir,
		Logger:     logger.Named("capability"),
	})
	if err != nil {
		// Broken extra types are reported; built-ins stay usable.
		logger.Warn("some profile types were not registered", zap.Error(err))
	}

	var (
		factory  registry.StoreFactory
		settings registry.SettingsStore
	)
	switch strings.ToLower(backend) {
	case "", "sqlite":
		s, err := store.Open(store.Options{InstanceName: instance, DBPath: dbPath})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("open profile store: %w", err)
		}
		a.closers = append(a.closers, s.Close)
		factory = sqliteFactory(s)
		settings = s
		a.watcher = s
	case "redis":
		key, err := sealingKey(paths, dbPath)
		if err != nil {
			a.Close()
			return nil, err
		}
		s, err := redisstore.Open(ctx, redisstore.Options{Addr: redisAddr, InstanceName: instance, Key: key})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("open profile store: %w", err)
		}
		a.closers = append(a.closers, s.Close)
		factory = redisFactory(s)
		settings = s
	default:
		a.Close()
		return nil, fmt.Errorf("unknown store backend %q (expected sqlite or redis)", backend)
	}

	a.prompter = newTerminalPrompter(cmd.InOrStdin(), cmd.ErrOrStderr(), assumeYes)
	a.prompter.noInput = noInput
	a.registry = registry.New(a.caps, factory,
		registry.WithLogger(logger.Named("registry")),
		registry.WithBus(a.bus),
		registry.WithErrorHandler(a.errs),
		registry.WithSettings(settings),
		registry.WithPrompter(a.prompter),
	)

	a.views = treestore.Stores(settings, treestore.WithLogger(logger.Named("treestore")))
	for _, v := range a.views {
		if err := v.Load(ctx); err != nil {
			a.errs.Handle(err, "startup", "cannot load "+string(v.TreeType())+" view")
		}
	}

	report := a.registry.Refresh(ctx)
	if err := report.Err(); err != nil {
		a.errs.Handle(err, "profiles.refresh", "some profiles could not be loaded")
	}
	return a, nil
}

// sqliteFactory opens per-type managers on a SQLite store.
func sqliteFactory(s *store.Store) registry.StoreFactory {
	return registry.StoreFactoryFunc(func(ctx context.Context, typ string, schema profile.Schema) (registry.ProfileStore, error) {
		m, err := s.ForType(ctx, typ, schema)
		if err != nil {
			return nil, err
		}
		return m, nil
	})
}

// redisFactory opens per-type managers on a Redis store.
func redisFactory(s *redisstore.Store) registry.StoreFactory {
	return registry.StoreFactoryFunc(func(ctx context.Context, typ string, schema profile.Schema) (registry.ProfileStore, error) {
		m, err := s.ForType(ctx, typ, schema)
		if err != nil {
			return nil, err
		}
		return m, nil
	})
}

// sealingKey returns the instance key used to seal secure fields in Redis,
// creating it on first use.
func sealingKey(paths config.InstancePaths, dbPath string) ([]byte, error) {
	if dbPath == "" {
		dbPath = paths.ConfigDB
	}
	keyPath := storecrypto.KeyPath(dbPath)
	key, err := storecrypto.LoadKey(keyPath)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return storecrypto.CreateKey(keyPath)
	}
	return key, nil
}

// follow subscribes every view to registry lifecycle events. The returned
// function stops the subscriptions.
func (a *app) follow(ctx context.Context) func() {
	var stops []func()
	for _, v := range a.views {
		stops = append(stops, v.Follow(ctx, a.bus, a.caps))
	}
	return func() {
		for _, stop := range stops {
			stop()
		}
	}
}

// view returns the consumer store of domain.
func (a *app) view(domain profile.Domain) *treestore.Store {
	for _, v := range a.views {
		if v.TreeType() == domain {
			return v
		}
	}
	return nil
}

// flush saves pending view changes.
func (a *app) flush(ctx context.Context) {
	for _, v := range a.views {
		if err := v.Flush(ctx); err != nil {
			a.errs.Handle(err, "views.flush", "cannot save "+string(v.TreeType())+" view")
		}
	}
}

// Close releases everything in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
