package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0-preview"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "nanovm",
		Short: "nanovm - an embeddable dynamic-language runtime core",
		Long: `nanovm is a small embeddable runtime core: a tagged value
representation and garbage-collected heap, a resumable fiber model, a
single-threaded cooperative event loop with CSP channels, and a binary
marshal codec. It has no bytecode compiler of its own -- host programs
plug in an Executor.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	}

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newInspectCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
