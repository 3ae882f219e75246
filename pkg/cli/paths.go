package cli

import (
	"os"
	"path/filepath"
)

// DefaultConfigFile is the configuration filename under the config dir.
const DefaultConfigFile = "config.yaml"

// Paths resolves the per-user directories of an app.
type Paths struct {
	// AppName is the application name
	AppName string

	// ConfigRoot is the user config root, e.g. ~/.config
	ConfigRoot string

	// CacheRoot is the user cache root, e.g. ~/.cache
	CacheRoot string
}

// NewPaths creates a new Paths instance for the given app
func NewPaths(appName string) (*Paths, error) {
	cfg, err := os.UserConfigDir()
	if err != nil {
		return nil, err
	}
	cache, err := os.UserCacheDir()
	if err != nil {
		return nil, err
	}
	return &Paths{AppName: appName, ConfigRoot: cfg, CacheRoot: cache}, nil
}

// ConfigDir returns the app config directory (<config root>/<app>)
func (p *Paths) ConfigDir() string {
	return filepath.Join(p.ConfigRoot, p.AppName)
}

// ConfigFile returns the config file path (<config root>/<app>/config.yaml)
func (p *Paths) ConfigFile() string {
	return filepath.Join(p.ConfigDir(), DefaultConfigFile)
}

// CacheDir returns the app cache directory (<cache root>/<app>)
func (p *Paths) CacheDir() string {
	return filepath.Join(p.CacheRoot, p.AppName)
}

// CatalogDir holds the persisted descriptor cache.
func (p *Paths) CatalogDir() string {
	return filepath.Join(p.CacheDir(), "catalog")
}

// MemoDir holds the badger descriptor memo.
func (p *Paths) MemoDir() string {
	return filepath.Join(p.CacheDir(), "memo")
}

// EnsureCacheDir creates the cache directory if it doesn't exist
func (p *Paths) EnsureCacheDir() error {
	return os.MkdirAll(p.CacheDir(), 0755)
}
