// Package xref builds the module-level calls relation for a set of
// artifact directories. The relation comes from each artifact's import
// table and is cached in a SQLite database keyed by artifact content
// hash, so unchanged artifacts are not re-parsed across runs.
package xref

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/RAMAABHI/rebar3-appup-plugin/beam"
	"github.com/RAMAABHI/rebar3-appup-plugin/release"
)

// Index is an explicit call-graph handle opened over one or more artifact
// directories. It is torn down with Close; there is no process-wide
// session state.
type Index struct {
	mu    sync.Mutex
	db    *sql.DB
	calls map[string]map[string]bool // caller module -> callee set
}

// Open builds the calls relation for every artifact under dirs. When
// cachePath is non-empty a SQLite cache is opened (and created) there;
// an empty cachePath disables caching.
func Open(cachePath string, dirs ...string) (*Index, error) {
	x := &Index{calls: make(map[string]map[string]bool)}

	if cachePath != "" {
		db, err := sql.Open("sqlite", cachePath)
		if err != nil {
			return nil, fmt.Errorf("opening xref cache: %w", err)
		}
		if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting busy timeout: %w", err)
		}
		if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS calls (
			hash   TEXT NOT NULL,
			module TEXT NOT NULL,
			callee TEXT NOT NULL
		)`); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating calls table: %w", err)
		}
		if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS calls_hash ON calls (hash)`); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating calls index: %w", err)
		}
		x.db = db
	}

	for _, dir := range dirs {
		artifacts, err := release.ListArtifacts(dir)
		if err != nil {
			x.Close()
			return nil, err
		}
		for _, path := range artifacts {
			if err := x.indexArtifact(path); err != nil {
				x.Close()
				return nil, err
			}
		}
	}
	return x, nil
}

// Close releases the cache database, if any.
func (x *Index) Close() error {
	if x.db != nil {
		err := x.db.Close()
		x.db = nil
		return err
	}
	return nil
}

// Calls answers "which of these candidate modules does module call",
// excluding self-calls. The result is sorted.
func (x *Index) Calls(module string, candidates []string) []string {
	x.mu.Lock()
	defer x.mu.Unlock()

	callees := x.calls[module]
	if len(callees) == 0 {
		return nil
	}
	var out []string
	for _, c := range candidates {
		if c == module {
			continue
		}
		if callees[c] {
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}

// indexArtifact records the artifact's calls relation, consulting the
// cache first.
func (x *Index) indexArtifact(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	if module, callees, ok := x.cached(hash); ok {
		x.record(module, callees)
		return nil
	}

	f, err := beam.Read(data, []string{beam.TagImports}, []string{beam.TagImports})
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	imports, err := f.Imports()
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	callees := make(map[string]bool)
	for _, im := range imports {
		callees[im.Module] = true
	}
	x.record(f.Module, callees)
	return x.store(hash, f.Module, callees)
}

func (x *Index) record(module string, callees map[string]bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	set := x.calls[module]
	if set == nil {
		set = make(map[string]bool)
		x.calls[module] = set
	}
	for c := range callees {
		set[c] = true
	}
}

// cached loads a previously indexed artifact by content hash. The module
// row is always present for an indexed artifact, with an empty callee
// marker when the module calls nothing.
func (x *Index) cached(hash string) (string, map[string]bool, bool) {
	if x.db == nil {
		return "", nil, false
	}
	rows, err := x.db.Query("SELECT module, callee FROM calls WHERE hash = ?", hash)
	if err != nil {
		return "", nil, false
	}
	defer rows.Close()

	var module string
	callees := make(map[string]bool)
	found := false
	for rows.Next() {
		var callee string
		if err := rows.Scan(&module, &callee); err != nil {
			return "", nil, false
		}
		found = true
		if callee != "" {
			callees[callee] = true
		}
	}
	if rows.Err() != nil || !found {
		return "", nil, false
	}
	return module, callees, true
}

func (x *Index) store(hash, module string, callees map[string]bool) error {
	if x.db == nil {
		return nil
	}
	if len(callees) == 0 {
		if _, err := x.db.Exec(
			"INSERT INTO calls (hash, module, callee) VALUES (?, ?, '')",
			hash, module,
		); err != nil {
			return fmt.Errorf("caching %s: %w", module, err)
		}
		return nil
	}
	for callee := range callees {
		if _, err := x.db.Exec(
			"INSERT INTO calls (hash, module, callee) VALUES (?, ?, ?)",
			hash, module, callee,
		); err != nil {
			return fmt.Errorf("caching %s: %w", module, err)
		}
	}
	return nil
}
