// Package builtin registers the built-in profile types together with user
// types declared in <instance>/types.yaml and scripted types under
// <instance>/types/*.js.
package builtin

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/nupi-ai/connprof/internal/capability"
	"github.com/nupi-ai/connprof/internal/capability/grpchealth"
	"github.com/nupi-ai/connprof/internal/capability/httpapi"
	"github.com/nupi-ai/connprof/internal/capability/script"
	"github.com/nupi-ai/connprof/internal/capability/sshcap"
	"github.com/nupi-ai/connprof/internal/capability/wscap"
	"github.com/nupi-ai/connprof/internal/profile"
)

// Options locates user-defined types.
type Options struct {
	TypesFile  string
	ScriptsDir string
	Logger     *zap.Logger
}

// ForKind returns the capability implementing a transport kind.
func ForKind(kind string) (capability.Capability, error) {
	switch kind {
	case "http":
		return httpapi.New(), nil
	case "grpc":
		return grpchealth.New(), nil
	case "ssh":
		return sshcap.New(), nil
	case "ws":
		return wscap.New(), nil
	}
	return nil, fmt.Errorf("builtin: unknown kind %q", kind)
}

func definition(spec capability.TypeSpec) (capability.Definition, error) {
	c, err := ForKind(spec.Kind)
	if err != nil {
		return capability.Definition{}, fmt.Errorf("type %s: %w", spec.Type, err)
	}
	return capability.Definition{Type: spec.Type, Schema: spec.Schema, Axes: spec.Axes, Capability: c}, nil
}

// NewRegistry returns a registry with every built-in and user type.
func NewRegistry(opts Options) (*capability.Registry, error) {
	reg := capability.NewRegistry()
	return reg, Register(reg, opts)
}

// Register adds the built-in types, then user types. A user type that fails
// to load or collides with a known type is skipped and reported in the
// returned error; the remaining types are still registered.
func Register(reg *capability.Registry, opts Options) error {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	for _, spec := range capability.BuiltinSpecs() {
		if spec.Type == profile.BaseType {
			continue
		}
		def, err := definition(spec)
		if err != nil {
			return err
		}
		if err := reg.Register(def); err != nil {
			return err
		}
	}

	var errs []error
	if opts.TypesFile != "" {
		specs, err := capability.LoadTypeSpecs(opts.TypesFile)
		if err != nil {
			errs = append(errs, err)
		}
		for _, spec := range specs {
			def, err := definition(spec)
			if err == nil {
				err = reg.Register(def)
			}
			if err != nil {
				logger.Warn("skipping profile type", zap.String("type", spec.Type), zap.String("source", opts.TypesFile), zap.Error(err))
				errs = append(errs, err)
				continue
			}
			logger.Debug("registered profile type", zap.String("type", spec.Type), zap.String("kind", spec.Kind))
		}
	}

	if opts.ScriptsDir != "" {
		types, err := script.LoadDir(opts.ScriptsDir)
		if err != nil {
			errs = append(errs, err)
		}
		for _, t := range types {
			if err := reg.Register(t.Definition()); err != nil {
				logger.Warn("skipping scripted profile type", zap.String("type", t.Spec().Type), zap.String("source", t.Path()), zap.Error(err))
				errs = append(errs, err)
				continue
			}
			logger.Debug("registered scripted profile type", zap.String("type", t.Spec().Type))
		}
	}
	return errors.Join(errs...)
}
