// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

// Package verifycli builds the lbcv command-line interface: verify,
// inspect, and serve subcommands sharing a common global configuration.
package verifycli

import (
	"context"
	"os"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
	"zombiezen.com/go/log"

	"lbcv.dev/verifier/internal/config"
)

var interruptSignals = []os.Signal{
	unix.SIGTERM,
	unix.SIGINT,
}

// globalConfig holds flags and settings shared across subcommands,
// mirroring the single-struct-of-persistent-flags shape the root command
// builds up before wiring its children.
type globalConfig struct {
	cfg        *config.Config
	configFile string
	debug      bool
}

// New returns the root lbcv command.
func New() *cobra.Command {
	rootCommand := &cobra.Command{
		Use:           "lbcv",
		Short:         "Lua 5.2 bytecode verifier",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	g := &globalConfig{cfg: config.Default()}
	rootCommand.PersistentFlags().StringVar(&g.configFile, "config", "", "`path` to a config file (defaults to the XDG search path)")
	rootCommand.PersistentFlags().StringVar(&g.cfg.CacheDB, "cache", g.cfg.CacheDB, "`path` to verdict cache database (empty disables caching)")
	rootCommand.PersistentFlags().BoolVar(&g.debug, "debug", false, "show debugging output")
	rootCommand.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		initLogging(g.debug)
		return loadConfig(g)
	}

	rootCommand.AddCommand(
		newVerifyCommand(g),
		newInspectCommand(g),
		newServeCommand(g),
	)

	return rootCommand
}

// Main runs the root command against os.Args, canceling its context on
// SIGINT/SIGTERM, and returns the process exit code.
func Main() int {
	root := New()
	ctx, stop := contextWithSignals(context.Background())
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		initLoggingOnce.Do(func() { initLogging(false) })
		log.Errorf(context.Background(), "%v", err)
		return 1
	}
	return 0
}

func loadConfig(g *globalConfig) error {
	if err := g.cfg.MergeEnvironment(); err != nil {
		return err
	}
	paths := config.SearchPaths()
	if g.configFile != "" {
		chosen := g.configFile
		paths = func(yield func(string) bool) {
			yield(chosen)
		}
	}
	if err := g.cfg.MergeFiles(paths); err != nil {
		return err
	}
	return g.cfg.Validate()
}

var initLoggingOnce sync.Once

func initLogging(showDebug bool) {
	initLoggingOnce.Do(func() {
		minLogLevel := log.Info
		if showDebug {
			minLogLevel = log.Debug
		}
		log.SetDefault(&log.LevelFilter{
			Min:    minLogLevel,
			Output: log.New(os.Stderr, "lbcv: ", log.StdFlags, nil),
		})
	})
}
