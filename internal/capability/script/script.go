// Package script loads profile types implemented in JavaScript. A type
// script assigns module.exports an object with the type name, its schema
// properties, the axes it serves, and status/validSession functions:
//
//	module.exports = {
//	  type: "echo",
//	  title: "Echo service",
//	  axes: ["jobs"],
//	  properties: [{name: "host", type: "string"}],
//	  status: function (profile) { return "active"; },
//	  validSession: function (profile) { return {endpoint: "echo://" + profile.fields.host}; },
//	};
package script

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/dop251/goja"

	"github.com/nupi-ai/connprof/internal/capability"
	"github.com/nupi-ai/connprof/internal/profile"
)

// Type is a script-backed profile type. A goja runtime is not safe for
// concurrent use, so calls are serialised.
type Type struct {
	path   string
	spec   capability.TypeSpec
	mu     sync.Mutex
	vm     *goja.Runtime
	status goja.Callable
	valid  goja.Callable
}

// Load evaluates the script at path.
func Load(path string) (*Type, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("script: read %s: %w", path, err)
	}

	vm := goja.New()
	exports := vm.NewObject()
	module := vm.NewObject()
	module.Set("exports", exports)
	vm.Set("module", module)
	vm.Set("exports", exports)

	if _, err := vm.RunScript(path, string(data)); err != nil {
		return nil, fmt.Errorf("script: execute %s: %w", path, err)
	}
	if v := module.Get("exports"); v != nil && !goja.IsUndefined(v) && !goja.IsNull(v) {
		exports = v.ToObject(vm)
	}

	t := &Type{path: path, vm: vm}
	if name := exports.Get("type"); name != nil && !goja.IsUndefined(name) {
		t.spec.Type = name.String()
	} else {
		t.spec.Type = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if title := exports.Get("title"); title != nil && !goja.IsUndefined(title) {
		t.spec.Title = title.String()
	}
	t.spec.Kind = "script"

	if err := decodeExport(exports.Get("properties"), &t.spec.Properties); err != nil {
		return nil, fmt.Errorf("script %s: properties: %w", path, err)
	}
	var axes []string
	if err := decodeExport(exports.Get("axes"), &axes); err != nil {
		return nil, fmt.Errorf("script %s: axes: %w", path, err)
	}
	for _, raw := range axes {
		d, err := profile.ParseDomain(raw)
		if err != nil {
			return nil, fmt.Errorf("script %s: %w", path, err)
		}
		t.spec.Axes = append(t.spec.Axes, d)
	}

	var ok bool
	if t.status, ok = goja.AssertFunction(exports.Get("status")); !ok {
		return nil, fmt.Errorf("script %s: status must be a function", path)
	}
	if t.valid, ok = goja.AssertFunction(exports.Get("validSession")); !ok {
		return nil, fmt.Errorf("script %s: validSession must be a function", path)
	}
	return t, nil
}

// LoadDir loads every *.js file in dir in name order. A missing directory
// yields no types. Scripts that fail to load are reported together.
func LoadDir(dir string) ([]*Type, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("script: read dir %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".js") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var (
		out  []*Type
		errs []error
	)
	for _, name := range names {
		t, err := Load(filepath.Join(dir, name))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, t)
	}
	return out, errors.Join(errs...)
}

func decodeExport(v goja.Value, dst any) error {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	data, err := json.Marshal(v.Export())
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}

// Spec returns the type description declared by the script.
func (t *Type) Spec() capability.TypeSpec { return t.spec }

// Path returns the script file.
func (t *Type) Path() string { return t.path }

// Definition adapts the type for capability.Registry.Register.
func (t *Type) Definition() capability.Definition {
	return capability.Definition{Type: t.spec.Type, Schema: t.spec.Schema, Axes: t.spec.Axes, Capability: t}
}

func (t *Type) call(ctx context.Context, fn goja.Callable, p profile.Profile) (goja.Value, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	interrupted := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		t.vm.Interrupt(ctx.Err())
		close(interrupted)
	})
	defer func() {
		if !stop() {
			<-interrupted
		}
		t.vm.ClearInterrupt()
	}()

	arg := t.vm.ToValue(map[string]any{
		"name":   p.Name,
		"type":   p.Type,
		"fields": map[string]any(p.Fields.Clone()),
	})
	v, err := fn(goja.Undefined(), arg)
	if err != nil {
		return nil, fmt.Errorf("script %s: %w", t.spec.Type, err)
	}
	return v, nil
}

// Status calls the script's status function. It may return a status string
// or a boolean.
func (t *Type) Status(ctx context.Context, p profile.Profile) (profile.Status, error) {
	v, err := t.call(ctx, t.status, p)
	if err != nil {
		return profile.StatusInactive, err
	}
	switch x := v.Export().(type) {
	case bool:
		if x {
			return profile.StatusActive, nil
		}
	case string:
		if profile.Status(strings.ToLower(x)) == profile.StatusActive {
			return profile.StatusActive, nil
		}
	}
	return profile.StatusInactive, nil
}

// ValidSession calls the script's validSession function. A falsy result
// means no session; an object may carry an endpoint.
func (t *Type) ValidSession(ctx context.Context, p profile.Profile, opts capability.SessionOptions) (*capability.Session, error) {
	user, password, ok := capability.Credentials(ctx, p, opts)
	if !ok {
		return nil, nil
	}
	p = p.Clone()
	if user != "" {
		p.Fields["user"] = user
	}
	if password != "" {
		p.Fields["password"] = password
	}

	v, err := t.call(ctx, t.valid, p)
	if err != nil {
		return nil, err
	}
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) || !v.ToBoolean() {
		return nil, nil
	}
	endpoint := ""
	if obj, ok := v.Export().(map[string]any); ok {
		if s, ok := obj["endpoint"].(string); ok {
			endpoint = s
		}
	}
	return capability.NewSession(p.Name, p.Type, endpoint, nil), nil
}
