// Command pathwatch provides example usage of the pathwatch library and
// doubles as a debugging tool for its consolidation behavior.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "%s: %s\n", filepath.Base(os.Args[0]), err)
	os.Exit(1)
}

func rootMain(command *cobra.Command, _ []string) {
	command.Help()
}

var rootCommand = &cobra.Command{
	Use:   "pathwatch",
	Short: "pathwatch watches files and directories with as few OS watches as possible.",
	Run:   rootMain,
}

func init() {
	rootCommand.AddCommand(watchCommand, pathsCommand)
}

func main() {
	if err := rootCommand.Execute(); err != nil {
		os.Exit(1)
	}
}
