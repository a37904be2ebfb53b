package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/RAMAABHI/rebar3-appup-plugin/appup"
	"github.com/RAMAABHI/rebar3-appup-plugin/manifest"
	"github.com/RAMAABHI/rebar3-appup-plugin/release"
	"github.com/RAMAABHI/rebar3-appup-plugin/xref"
)

// handleGenerateCommand processes the `appup generate` subcommand: diff
// the two artifact directories, build both plans, splice any fragment
// files, and write <name>.appup.
func handleGenerateCommand(args []string) {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	oldDir := fs.String("old", "", "Old release artifact directory")
	newDir := fs.String("new", "", "New release artifact directory")
	output := fs.String("o", "", "Output file (default <output dir>/<name>.appup)")
	cache := fs.String("cache", "", "Call-graph cache database path (default disabled)")
	preFrag := fs.String("pre", "", "Pre fragment file (default <old dir>/appup.pre.toml)")
	postFrag := fs.String("post", "", "Post fragment file (default <old dir>/appup.post.toml)")
	fs.Parse(args)

	if *oldDir == "" || *newDir == "" {
		fmt.Fprintln(os.Stderr, "Error: generate requires --old and --new")
		os.Exit(2)
	}

	cfg, err := manifest.FindAndLoad(".")
	if err != nil {
		fatal("loading appup.toml: %v", err)
	}
	if cfg == nil {
		cfg = manifest.Default()
	}

	oldMeta, err := release.LoadMeta(*oldDir)
	if err != nil {
		fatal("old release: %v", err)
	}
	newMeta, err := release.LoadMeta(*newDir)
	if err != nil {
		fatal("new release: %v", err)
	}
	if oldMeta.Name != newMeta.Name {
		fatal("release names differ: %q vs %q", oldMeta.Name, newMeta.Name)
	}

	diff, err := release.DiffDirs(*oldDir, *newDir, cfg.VolatileChunks)
	if err != nil {
		fatal("diffing releases: %v", err)
	}

	index, err := xref.Open(*cache, *oldDir, *newDir)
	if err != nil {
		fatal("building call graph: %v", err)
	}
	defer index.Close()

	gen := appup.NewGenerator(index)
	gen.Purge = cfg.PurgeTable()
	upgrade, err := gen.Plan(diff)
	if err != nil {
		fatal("generating plan: %v", err)
	}
	downgrade := appup.InvertPlan(upgrade)

	pre, err := appup.LoadFragment(fragmentPath(*preFrag, *oldDir, "appup.pre.toml"))
	if err != nil {
		fatal("%v", err)
	}
	post, err := appup.LoadFragment(fragmentPath(*postFrag, *oldDir, "appup.post.toml"))
	if err != nil {
		fatal("%v", err)
	}
	upgrade = appup.Merge(pre, post, appup.Upgrade, oldMeta.Version, newMeta.Version, upgrade)
	downgrade = appup.Merge(pre, post, appup.Downgrade, oldMeta.Version, newMeta.Version, downgrade)

	outPath := *output
	if outPath == "" {
		outPath = filepath.Join(cfg.OutputDir(), newMeta.Name+".appup")
	}
	f, err := os.Create(outPath)
	if err != nil {
		fatal("creating %s: %v", outPath, err)
	}
	defer f.Close()

	err = appup.Render(f, appup.RenderData{
		Name:       newMeta.Name,
		OldVersion: oldMeta.Version,
		NewVersion: newMeta.Version,
		Date:       time.Now(),
		Upgrade:    upgrade,
		Downgrade:  downgrade,
	})
	if err != nil {
		fatal("rendering %s: %v", outPath, err)
	}
	fmt.Printf("Wrote %s (%d upgrade, %d downgrade instructions)\n",
		outPath, len(upgrade), len(downgrade))
}

func fragmentPath(explicit, dir, name string) string {
	if explicit != "" {
		return explicit
	}
	return filepath.Join(dir, name)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
