package beam

import (
	"bytes"
	"errors"
	"fmt"
	"os"
)

// ---------------------------------------------------------------------------
// Artifact Comparator
// ---------------------------------------------------------------------------

// ErrModulesDiffer indicates the two files decode to different module
// names: a directory or file mix-up by the caller, not a content change.
var ErrModulesDiffer = errors.New("artifacts name different modules")

// Comparison is the result of comparing two artifacts for the same
// module.
type Comparison struct {
	Equal  bool
	Module string
	// DifferingTag names the first chunk tag whose presence or payload
	// disagrees. Empty when Equal.
	DifferingTag string
}

// Compare decides whether two artifacts are behaviorally identical,
// ignoring the volatile chunk set plus any tags in extraVolatile. Both
// files are first scanned in index mode to census their tags, then
// re-read restricted to the non-volatile tags with payloads materialized.
func Compare(pathA, pathB string, extraVolatile []string) (*Comparison, error) {
	a, err := compareRead(pathA, extraVolatile)
	if err != nil {
		return nil, err
	}
	b, err := compareRead(pathB, extraVolatile)
	if err != nil {
		return nil, err
	}

	if a.Module != b.Module {
		return nil, fmt.Errorf("%w: %q vs %q", ErrModulesDiffer, a.Module, b.Module)
	}

	result := &Comparison{Module: a.Module}
	n := len(a.Chunks)
	if len(b.Chunks) < n {
		n = len(b.Chunks)
	}
	for i := 0; i < n; i++ {
		if a.Chunks[i].Tag != b.Chunks[i].Tag {
			result.DifferingTag = a.Chunks[i].Tag
			return result, nil
		}
		if !bytes.Equal(a.Chunks[i].Data, b.Chunks[i].Data) {
			result.DifferingTag = a.Chunks[i].Tag
			return result, nil
		}
	}
	if len(a.Chunks) != len(b.Chunks) {
		longer := a
		if len(b.Chunks) > len(a.Chunks) {
			longer = b
		}
		result.DifferingTag = longer.Chunks[n].Tag
		return result, nil
	}

	result.Equal = true
	return result, nil
}

// compareRead reads path restricted to its non-volatile tags.
func compareRead(path string, extraVolatile []string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	index, err := ReadIndex(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	extra := tagSet(extraVolatile)
	var keep []string
	for _, tag := range index.Tags() {
		if VolatileTags[tag] || (extra != nil && extra[tag]) {
			continue
		}
		keep = append(keep, tag)
	}

	f, err := Read(data, keep, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}
