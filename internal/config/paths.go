package config

import (
	"os"
	"path/filepath"
)

const (
	DefaultInstance = "default"

	// HomeEnv overrides the connprof home directory.
	HomeEnv = "CONNPROF_HOME"
)

// InstancePaths contains all paths for a connprof instance.
type InstancePaths struct {
	Home      string // Instance home directory
	ConfigDB  string // SQLite configuration store path
	TypesFile string // Optional YAML file declaring extra profile types
	TypesDir  string // Scripted profile types (*.js)
	Logs      string // Logs directory
	ExportDir string // Default target for profile exports
}

// GetInstancePaths returns all paths for a given instance.
// Empty instance name defaults to "default".
func GetInstancePaths(instanceName string) InstancePaths {
	if instanceName == "" {
		instanceName = DefaultInstance
	}

	instanceDir := filepath.Join(GetHome(), "instances", instanceName)

	return InstancePaths{
		Home:      instanceDir,
		ConfigDB:  filepath.Join(instanceDir, "config.db"),
		TypesFile: filepath.Join(instanceDir, "types.yaml"),
		TypesDir:  filepath.Join(instanceDir, "types"),
		Logs:      filepath.Join(instanceDir, "logs"),
		ExportDir: filepath.Join(instanceDir, "exports"),
	}
}

// GetHome returns the connprof home directory: $CONNPROF_HOME when set,
// ~/.connprof otherwise.
func GetHome() string {
	if home := os.Getenv(HomeEnv); home != "" {
		return ExpandPath(home)
	}
	userHome, _ := os.UserHomeDir()
	return filepath.Join(userHome, ".connprof")
}

// ExpandPath expands ~ to the user home directory.
func ExpandPath(path string) string {
	if len(path) == 0 {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) == 1 {
			return home
		}
		if path[1] == '/' || path[1] == os.PathSeparator {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// EnsureInstanceDirs creates the directory structure for the given instance if it does not exist.
func EnsureInstanceDirs(instanceName string) (InstancePaths, error) {
	paths := GetInstancePaths(instanceName)

	dirs := []string{
		paths.Home,
		paths.TypesDir,
		paths.Logs,
		paths.ExportDir,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return paths, err
		}
	}

	return paths, nil
}
