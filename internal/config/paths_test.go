package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGetHomeDefault(t *testing.T) {
	t.Setenv(HomeEnv, "")

	userHome, _ := os.UserHomeDir()
	expected := filepath.Join(userHome, ".connprof")

	if home := GetHome(); home != expected {
		t.Errorf("GetHome() = %s; want %s", home, expected)
	}
}

func TestGetHomeOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(HomeEnv, dir)

	if home := GetHome(); home != dir {
		t.Errorf("GetHome() = %s; want %s", home, dir)
	}
}

func TestGetInstancePaths(t *testing.T) {
	t.Setenv(HomeEnv, "")
	paths := GetInstancePaths("")

	if !strings.Contains(paths.ConfigDB, filepath.Join("instances", "default", "config.db")) {
		t.Errorf("ConfigDB path incorrect: %s", paths.ConfigDB)
	}
	if !strings.Contains(paths.TypesFile, filepath.Join("instances", "default", "types.yaml")) {
		t.Errorf("TypesFile path incorrect: %s", paths.TypesFile)
	}
	if custom := GetInstancePaths("lab"); !strings.Contains(custom.Home, filepath.Join("instances", "lab")) {
		t.Errorf("custom instance home incorrect: %s", custom.Home)
	}
}

func TestExpandPath(t *testing.T) {
	home, _ := os.UserHomeDir()

	tests := []struct {
		input string
		want  string
	}{
		{"~/test", filepath.Join(home, "test")},
		{"~", home},
		{"/absolute/path", "/absolute/path"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := ExpandPath(tt.input); got != tt.want {
			t.Errorf("ExpandPath(%q) = %q; want %q", tt.input, got, tt.want)
		}
	}
}

func TestEnsureInstanceDirs(t *testing.T) {
	t.Setenv(HomeEnv, t.TempDir())

	paths, err := EnsureInstanceDirs("ci")
	if err != nil {
		t.Fatalf("EnsureInstanceDirs: %v", err)
	}
	for _, dir := range []string{paths.Home, paths.TypesDir, paths.Logs, paths.ExportDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("expected directory %s: %v", dir, err)
		}
	}
}
