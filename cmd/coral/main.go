// Command coral is the thin ambient entrypoint over internal/session:
// run, build, cache, and jobs subcommands. It is an external collaborator
// per spec.md §1, not part of the core dispatcher it drives.
package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]
	switch cmd {
	case "run":
		cmdRun(args)
	case "build":
		cmdBuild(args)
	case "cache":
		cmdCache(args)
	case "jobs":
		cmdJobs(args)
	case "-h", "--help", "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "coral: unknown command %q\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: coral <command> [args]

commands:
  run     submit a function call and wait for its result
  build   reconcile (and cache) an image without submitting a call
  cache   inspect or clear the local bundle/image cache indexes
  jobs    list RunRecords tracked by the jobsim backend`)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "coral:", err)
	os.Exit(1)
}
