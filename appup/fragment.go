package appup

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// ---------------------------------------------------------------------------
// Fragments: externally authored instruction splices
// ---------------------------------------------------------------------------

// Direction selects which half of a fragment applies.
type Direction int

const (
	Upgrade Direction = iota
	Downgrade
)

// Entry is one version-pattern-keyed instruction list inside a fragment.
// The pattern nominally describes the old version being upgraded from.
type Entry struct {
	Pattern      string   `toml:"pattern"`
	Instructions []string `toml:"instructions"`
}

// Fragment is an externally authored set of extra instructions, spliced
// before or after the generated plan. Pattern gates the whole fragment;
// the per-direction entries are then selected individually.
type Fragment struct {
	Pattern   string  `toml:"pattern"`
	Upgrade   []Entry `toml:"upgrade"`
	Downgrade []Entry `toml:"downgrade"`
}

// LoadFragment reads a fragment file. A missing file is not an error: it
// contributes an empty instruction list for both directions, reported
// here as a nil fragment.
func LoadFragment(path string) (*Fragment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading fragment %s: %w", path, err)
	}
	var f Fragment
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse error in fragment %s: %w", path, err)
	}
	return &f, nil
}

// Expand selects every entry for the direction whose pattern matches
// version and concatenates their instructions in declared order. A
// version may match multiple entries; all contribute. A nil fragment, or
// one whose own pattern does not match, expands to nothing.
func (f *Fragment) Expand(dir Direction, version string) []Instruction {
	if f == nil || !Matches(f.Pattern, version) {
		return nil
	}
	entries := f.Upgrade
	if dir == Downgrade {
		entries = f.Downgrade
	}
	var out []Instruction
	for _, e := range entries {
		if !Matches(e.Pattern, version) {
			continue
		}
		for _, text := range e.Instructions {
			out = append(out, Raw{Text: text})
		}
	}
	return out
}

// Merge splices the pre and post fragments around the generated plan for
// one direction. Fragment selection keys off the new version for both
// directions; the entry patterns are declared against the old version
// but downgrade selection deliberately mirrors the upgrade selector, so
// oldVersion goes unused here.
func Merge(pre, post *Fragment, dir Direction, oldVersion, newVersion string, generated []Instruction) []Instruction {
	selector := newVersion

	var out []Instruction
	out = append(out, pre.Expand(dir, selector)...)
	out = append(out, generated...)
	out = append(out, post.Expand(dir, selector)...)
	return out
}
