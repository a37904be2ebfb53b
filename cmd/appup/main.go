// Appup CLI - generates reversible hot-upgrade instruction files by
// diffing two releases of compiled module artifacts.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tliron/commonlog"

	_ "github.com/tliron/commonlog/simple"
)

func main() {
	verbose := flag.Bool("v", false, "Verbose output")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: appup [options] <command> [args]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  generate --old DIR --new DIR   Generate the .appup instruction file\n")
		fmt.Fprintf(os.Stderr, "  compare A.beam B.beam          Compare two artifacts semantically\n")
		fmt.Fprintf(os.Stderr, "  inspect FILE                   List an artifact's chunks\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  appup generate --old _rel/1.0.0/lib/app/ebin --new _rel/1.1.0/lib/app/ebin\n")
		fmt.Fprintf(os.Stderr, "  appup compare old/foo.beam new/foo.beam\n")
	}
	flag.Parse()

	verbosity := 0
	if *verbose {
		verbosity = 2
	}
	commonlog.Configure(verbosity, nil)

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	switch args[0] {
	case "generate":
		handleGenerateCommand(args[1:])
	case "compare":
		handleCompareCommand(args[1:])
	case "inspect":
		handleInspectCommand(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
		flag.Usage()
		os.Exit(2)
	}
}
