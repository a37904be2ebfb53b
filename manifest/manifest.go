// Package manifest handles appup.toml plugin configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/RAMAABHI/rebar3-appup-plugin/appup"
)

// Manifest represents an appup.toml configuration.
type Manifest struct {
	Purge   PurgeConfig            `toml:"purge"`
	Modules map[string]PurgeConfig `toml:"modules"`
	Output  OutputConfig           `toml:"output"`

	// VolatileChunks lists extra chunk tags excluded from artifact
	// comparison, on top of the built-in volatile set.
	VolatileChunks []string `toml:"volatile-chunks"`

	// Dir is the directory containing the appup.toml file (set at load time).
	Dir string `toml:"-"`
}

// PurgeConfig is a (pre, post) purge policy pair. Empty fields fall back
// to soft purging.
type PurgeConfig struct {
	Pre  string `toml:"pre"`
	Post string `toml:"post"`
}

// OutputConfig configures where generated instruction files go.
type OutputConfig struct {
	Dir string `toml:"dir"`
}

// Default returns the configuration used when no appup.toml exists.
func Default() *Manifest {
	return &Manifest{}
}

// Load parses an appup.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, "appup.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return &m, nil
}

// FindAndLoad walks up from startDir to find an appup.toml file, then
// loads and returns the manifest. Returns nil if none is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, "appup.toml")
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// PurgeTable resolves the configured policies into the generator's purge
// table: per-module exact-name entries over the configured default.
func (m *Manifest) PurgeTable() *appup.PurgeTable {
	t := appup.DefaultPurgeTable()
	if m == nil {
		return t
	}
	t.Default = purgePair(m.Purge)
	for name, cfg := range m.Modules {
		if t.Modules == nil {
			t.Modules = make(map[string]appup.PurgePair)
		}
		t.Modules[name] = purgePair(cfg)
	}
	return t
}

// OutputDir returns the directory for generated instruction files,
// defaulting to the manifest directory.
func (m *Manifest) OutputDir() string {
	if m == nil || (m.Output.Dir == "" && m.Dir == "") {
		return "."
	}
	if m.Output.Dir == "" {
		return m.Dir
	}
	if filepath.IsAbs(m.Output.Dir) {
		return m.Output.Dir
	}
	return filepath.Join(m.Dir, m.Output.Dir)
}

func purgePair(cfg PurgeConfig) appup.PurgePair {
	p := appup.PurgePair{Pre: appup.SoftPurge, Post: appup.SoftPurge}
	if cfg.Pre == string(appup.BrutalPurge) {
		p.Pre = appup.BrutalPurge
	}
	if cfg.Post == string(appup.BrutalPurge) {
		p.Post = appup.BrutalPurge
	}
	return p
}
