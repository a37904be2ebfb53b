// Package release locates compiled-artifact directories and computes the
// module-level difference between two versions of a release.
package release

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/RAMAABHI/rebar3-appup-plugin/beam"
)

// ArtifactExt is the file extension of compiled-module artifacts.
const ArtifactExt = ".beam"

var ErrNotADirectory = errors.New("not a directory")

// ---------------------------------------------------------------------------
// Release metadata
// ---------------------------------------------------------------------------

// Meta is the release-level identity read from release.toml at a release
// root: the component name and version that key fragment selection and
// the rendered output.
type Meta struct {
	Name        string `toml:"name"`
	Version     string `toml:"version"`
	Description string `toml:"description"`
}

// LoadMeta reads release.toml from dir. A missing file is an error: the
// differ cannot name its output without it.
func LoadMeta(dir string) (*Meta, error) {
	path := filepath.Join(dir, "release.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	var m Meta
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if m.Name == "" || m.Version == "" {
		return nil, fmt.Errorf("%s: name and version are required", path)
	}
	return &m, nil
}

// ---------------------------------------------------------------------------
// Directory Differ
// ---------------------------------------------------------------------------

// ModulePair identifies a module present on both sides whose artifacts
// differ.
type ModulePair struct {
	Name    string
	OldPath string
	NewPath string
}

// Diff is the module-level difference between two artifact directories.
// All three lists are sorted by module name.
type Diff struct {
	OnlyOld []string
	OnlyNew []string
	Changed []ModulePair
}

// ChangedNames returns the names of changed modules, sorted.
func (d *Diff) ChangedNames() []string {
	names := make([]string, len(d.Changed))
	for i, p := range d.Changed {
		names[i] = p.Name
	}
	return names
}

// DiffDirs computes (only-old, only-new, changed) over the artifact files
// of two directories. Modules present in both are compared semantically;
// a pair lands in Changed only when the comparator reports a difference.
// extraVolatile extends the volatile tag set for those comparisons.
func DiffDirs(oldDir, newDir string, extraVolatile []string) (*Diff, error) {
	oldMods, err := listArtifacts(oldDir)
	if err != nil {
		return nil, err
	}
	newMods, err := listArtifacts(newDir)
	if err != nil {
		return nil, err
	}

	d := &Diff{}
	for name := range oldMods {
		if _, ok := newMods[name]; !ok {
			d.OnlyOld = append(d.OnlyOld, name)
		}
	}
	for name := range newMods {
		if _, ok := oldMods[name]; !ok {
			d.OnlyNew = append(d.OnlyNew, name)
		}
	}

	for name, oldPath := range oldMods {
		newPath, ok := newMods[name]
		if !ok {
			continue
		}
		cmp, err := beam.Compare(oldPath, newPath, extraVolatile)
		if err != nil {
			return nil, fmt.Errorf("comparing %s: %w", name, err)
		}
		if !cmp.Equal {
			d.Changed = append(d.Changed, ModulePair{Name: name, OldPath: oldPath, NewPath: newPath})
		}
	}

	sort.Strings(d.OnlyOld)
	sort.Strings(d.OnlyNew)
	sort.Slice(d.Changed, func(i, j int) bool { return d.Changed[i].Name < d.Changed[j].Name })
	return d, nil
}

// ListArtifacts maps module name to artifact path for every artifact file
// directly under dir.
func ListArtifacts(dir string) (map[string]string, error) {
	return listArtifacts(dir)
}

func listArtifacts(dir string) (map[string]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotADirectory, dir)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotADirectory, dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}

	mods := make(map[string]string)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ArtifactExt) {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ArtifactExt)
		mods[name] = filepath.Join(dir, e.Name())
	}
	return mods, nil
}
