package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/pathwatch/pathwatch"
)

// policyConfiguration binds the consolidation-policy flags shared by the
// subcommands.
type policyConfiguration struct {
	reuseAncestors      bool
	relocateDescendants bool
	relocateAncestors   bool
	merge               bool
	maxAncestorLevel    int
	useDefaults         bool
}

func (c *policyConfiguration) register(flags *pflag.FlagSet) {
	flags.BoolVar(&c.useDefaults, "platform-defaults", false,
		"use the platform's default consolidation policy")
	flags.BoolVar(&c.reuseAncestors, "reuse-ancestors", false,
		"attach to existing watchers on ancestor directories")
	flags.BoolVar(&c.relocateDescendants, "relocate-descendants", false,
		"replace descendant watchers with one ancestor watcher")
	flags.BoolVar(&c.relocateAncestors, "relocate-ancestors", false,
		"narrow shared watchers when subscriptions go away")
	flags.BoolVar(&c.merge, "merge", false,
		"consolidate siblings and cousins under their common directory")
	flags.IntVar(&c.maxAncestorLevel, "max-ancestor-level", 0,
		"maximum segment distance for merging (0 removes the cap)")
}

func (c *policyConfiguration) config() pathwatch.Config {
	if c.useDefaults {
		return pathwatch.DefaultConfig()
	}
	return pathwatch.Config{
		ReuseAncestorWatchers:            c.reuseAncestors,
		RelocateDescendantWatchers:       c.relocateDescendants,
		RelocateAncestorWatchers:         c.relocateAncestors,
		MergeWatchersWithCommonAncestors: c.merge,
		MaxCommonAncestorLevel:           c.maxAncestorLevel,
	}
}

var watchConfiguration policyConfiguration

var kindColors = map[pathwatch.EventKind]*color.Color{
	pathwatch.Create: color.New(color.FgGreen),
	pathwatch.Change: color.New(color.FgCyan),
	pathwatch.Rename: color.New(color.FgYellow),
	pathwatch.Delete: color.New(color.FgRed),
}

func watchMain(_ *cobra.Command, arguments []string) {
	if len(arguments) == 0 {
		fatal(errors.New("no paths to watch"))
	}

	session := pathwatch.NewSession(watchConfiguration.config())
	defer session.Close()

	for _, argument := range arguments {
		path, err := filepath.Abs(argument)
		if err != nil {
			fatal(errors.Wrapf(err, "unable to resolve %q", argument))
		}
		sub, err := session.Watch(path, printEvent(path))
		if err != nil {
			fatal(errors.Wrapf(err, "unable to watch %q", argument))
		}
		sub.OnError(func(err error) {
			fmt.Fprintf(os.Stderr, "error on %q: %s\n", path, err)
		})
	}

	fmt.Printf("watching %d path(s) with %d native watcher(s): %v\n",
		len(arguments), session.NativeWatcherCount(), session.WatchedPaths())

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	<-interrupt
}

func printEvent(path string) pathwatch.Callback {
	return func(e pathwatch.Event) {
		kind := kindColors[e.Kind].Sprintf("%-6s", e.Kind)
		fmt.Printf("%s %s %s %s\n",
			time.Now().Format("15:04:05.0000"), kind, path, e.Path)
	}
}

var watchCommand = &cobra.Command{
	Use:   "watch [paths]",
	Short: "Watch the paths for changes and print the events",
	Run:   watchMain,
}

func init() {
	watchConfiguration.register(watchCommand.Flags())
}
