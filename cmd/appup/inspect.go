package main

import (
	"fmt"
	"os"

	"github.com/RAMAABHI/rebar3-appup-plugin/beam"
)

// handleCompareCommand processes `appup compare A B`.
func handleCompareCommand(args []string) {
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "Usage: appup compare A.beam B.beam")
		os.Exit(2)
	}
	cmp, err := beam.Compare(args[0], args[1], nil)
	if err != nil {
		fatal("%v", err)
	}
	if cmp.Equal {
		fmt.Printf("%s: equal\n", cmp.Module)
		return
	}
	fmt.Printf("%s: different (chunk %q)\n", cmp.Module, cmp.DifferingTag)
	os.Exit(1)
}

// handleInspectCommand processes `appup inspect FILE`: an index-mode scan
// plus the decoded attributes.
func handleInspectCommand(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: appup inspect FILE")
		os.Exit(2)
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		fatal("%v", err)
	}
	f, err := beam.ReadIndex(data)
	if err != nil {
		fatal("%v", err)
	}

	fmt.Printf("module: %s\n", f.Module)
	for _, c := range f.Chunks {
		volatile := ""
		if beam.VolatileTags[c.Tag] {
			volatile = "  (volatile)"
		}
		fmt.Printf("  %-4s  offset %6d  size %6d%s\n", c.Tag, c.Offset, c.Size, volatile)
	}

	full, err := beam.Read(data, []string{beam.TagAttributes}, []string{beam.TagAttributes})
	if err != nil {
		return
	}
	attrs, err := full.Attributes()
	if err != nil || (len(attrs.Behaviours) == 0 && attrs.Vsn == "") {
		return
	}
	fmt.Printf("vsn: %s\nbehaviours: %v\n", attrs.Vsn, attrs.Behaviours)
}
