package main

import (
	"fmt"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/pathwatch/pathwatch"
)

var pathsConfiguration policyConfiguration

// pathsMain subscribes to the given paths under the configured policy and
// reports which directories end up watched at the OS level; useful for
// inspecting how a set of subscriptions consolidates.
func pathsMain(_ *cobra.Command, arguments []string) {
	if len(arguments) == 0 {
		fatal(errors.New("no paths given"))
	}

	session := pathwatch.NewSession(pathsConfiguration.config())
	defer session.Close()

	for _, argument := range arguments {
		path, err := filepath.Abs(argument)
		if err != nil {
			fatal(errors.Wrapf(err, "unable to resolve %q", argument))
		}
		if _, err := session.Watch(path, nil); err != nil {
			fatal(errors.Wrapf(err, "unable to watch %q", argument))
		}
	}

	fmt.Printf("%d subscription(s), %d native watcher(s)\n",
		len(arguments), session.NativeWatcherCount())
	for _, dir := range session.WatchedPaths() {
		fmt.Println(dir)
	}
}

var pathsCommand = &cobra.Command{
	Use:   "paths [paths]",
	Short: "Show which directories the OS would watch for the given paths",
	Run:   pathsMain,
}

func init() {
	pathsConfiguration.register(pathsCommand.Flags())
}
