package script

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nupi-ai/connprof/internal/capability"
	"github.com/nupi-ai/connprof/internal/profile"
)

const echoScript = `
module.exports = {
  type: "echo",
  title: "Echo service",
  axes: ["jobs", "USS"],
  properties: [
    {name: "host", type: "string"},
    {name: "password", type: "string", secure: true, optional: true}
  ],
  status: function (p) { return p.fields.host === "up" ? "active" : "inactive"; },
  validSession: function (p) {
    if (p.fields.password !== "pw") { return null; }
    return {endpoint: "echo://" + p.fields.host};
  }
};
`

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	typ, err := Load(writeScript(t, t.TempDir(), "echo.js", echoScript))
	require.NoError(t, err)

	spec := typ.Spec()
	assert.Equal(t, "echo", spec.Type)
	assert.Equal(t, "Echo service", spec.Title)
	assert.Equal(t, []profile.Domain{profile.DomainJobs, profile.DomainFiles}, spec.Axes)
	require.Len(t, spec.Properties, 2)
	assert.True(t, spec.Properties[1].Secure)
	assert.Equal(t, profile.KindString, spec.Properties[0].Kind)
}

func TestStatusAndSession(t *testing.T) {
	typ, err := Load(writeScript(t, t.TempDir(), "echo.js", echoScript))
	require.NoError(t, err)
	ctx := context.Background()

	status, err := typ.Status(ctx, profile.Profile{Name: "e", Type: "echo", Fields: profile.Fields{"host": "up"}})
	require.NoError(t, err)
	assert.Equal(t, profile.StatusActive, status)

	status, err = typ.Status(ctx, profile.Profile{Name: "e", Type: "echo", Fields: profile.Fields{"host": "down"}})
	require.NoError(t, err)
	assert.Equal(t, profile.StatusInactive, status)

	sess, err := typ.ValidSession(ctx, profile.Profile{Name: "e", Type: "echo", Fields: profile.Fields{"host": "up", "password": "pw"}}, capability.SessionOptions{})
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "echo://up", sess.Endpoint)

	sess, err = typ.ValidSession(ctx, profile.Profile{Name: "e", Type: "echo", Fields: profile.Fields{"host": "up"}}, capability.SessionOptions{})
	require.NoError(t, err)
	assert.Nil(t, sess)
}

func TestRegisterDefinition(t *testing.T) {
	typ, err := Load(writeScript(t, t.TempDir(), "echo.js", echoScript))
	require.NoError(t, err)

	reg := capability.NewRegistry()
	require.NoError(t, reg.Register(typ.Definition()))
	assert.True(t, reg.Supports("echo", profile.DomainJobs))
}

func TestInterruptOnCancel(t *testing.T) {
	body := `module.exports = {
  status: function () { for (;;) {} },
  validSession: function () { return null; }
};`
	typ, err := Load(writeScript(t, t.TempDir(), "spin.js", body))
	require.NoError(t, err)
	assert.Equal(t, "spin", typ.Spec().Type)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	status, err := typ.Status(ctx, profile.Profile{Name: "s", Type: "spin"})
	assert.Error(t, err)
	assert.Equal(t, profile.StatusInactive, status)
}

func TestLoadRejectsMissingFunctions(t *testing.T) {
	_, err := Load(writeScript(t, t.TempDir(), "bad.js", `module.exports = {type: "bad"};`))
	assert.Error(t, err)
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "b.js", echoScript)
	writeScript(t, dir, "a.js", `module.exports = {type: "a", status: function(){return true}, validSession: function(){return {}}};`)
	writeScript(t, dir, "broken.js", `module.exports = {`)
	writeScript(t, dir, "notes.txt", "ignored")

	types, err := LoadDir(dir)
	assert.Error(t, err)
	require.Len(t, types, 2)
	assert.Equal(t, "a", types[0].Spec().Type)
	assert.Equal(t, "echo", types[1].Spec().Type)

	none, err := LoadDir(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.Nil(t, none)
}
