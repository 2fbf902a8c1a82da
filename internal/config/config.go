// Package config resolves tool-level configuration: storage paths and
// logging options, layered from defaults, an optional YAML config file,
// environment variables, and command-line flags (highest precedence last).
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	yaml "github.com/goccy/go-yaml"
	"github.com/spf13/viper"
)

// Config is the resolved tool configuration for one invocation.
type Config struct {
	LocalStorageDir  string
	SharedStorageDir string
	LogLevel         string
	LogJSON          bool
}

// Load resolves configuration from defaults, the YAML file at configPath
// (if non-empty and present; a human-facing format, parsed with
// goccy/go-yaml rather than viper's built-in decoder), and
// BUILDGRAPH_-prefixed environment variables. configPath is optional.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetDefault("local_storage_dir", defaultLocalStorageDir())
	v.SetDefault("shared_storage_dir", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)
	v.SetEnvPrefix("BUILDGRAPH")
	v.AutomaticEnv()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case err == nil:
			var raw map[string]any
			if err := yaml.Unmarshal(data, &raw); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", configPath, err)
			}
			if err := v.MergeConfigMap(raw); err != nil {
				return nil, fmt.Errorf("merge config %s: %w", configPath, err)
			}
		case os.IsNotExist(err):
			// Optional file; fall through to defaults/env.
		default:
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
	}

	return &Config{
		LocalStorageDir:  v.GetString("local_storage_dir"),
		SharedStorageDir: v.GetString("shared_storage_dir"),
		LogLevel:         v.GetString("log_level"),
		LogJSON:          v.GetBool("log_json"),
	}, nil
}

// LocalStorageDirFor scopes cfg's local storage root to one workspace, so
// multiple workspaces on the same machine never collide in the shared
// per-user cache directory.
func LocalStorageDirFor(cfg *Config, workspaceRoot string) string {
	abs, err := filepath.Abs(workspaceRoot)
	if err != nil {
		abs = workspaceRoot
	}
	return filepath.Join(cfg.LocalStorageDir, sanitizeWorkspacePath(abs))
}

func sanitizeWorkspacePath(p string) string {
	r := make([]rune, 0, len(p))
	for _, c := range p {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			r = append(r, c)
		default:
			r = append(r, '_')
		}
	}
	return string(r)
}

func defaultLocalStorageDir() string {
	return filepath.Join(xdg.CacheHome, "buildgraph")
}
