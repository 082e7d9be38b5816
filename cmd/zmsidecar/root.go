// Command zmsidecar is the per-camera AI detection sidecar: it reads frames
// the host publishes into shared memory, runs a detector, and drives the
// host's alarm trigger handshake.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aidect/zmsidecar/internal/config"
	"github.com/aidect/zmsidecar/internal/zoneminder"
)

var (
	hostConfigPath string
	layoutPath     string
	verbose        bool
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "zmsidecar",
		Short:         "Per-camera AI detection sidecar",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&hostConfigPath, "config", "/etc/zm/zm.conf", "path to the host KEY=VALUE config file")
	root.PersistentFlags().StringVar(&layoutPath, "layout", "/usr/share/perl5/ZoneMinder/Memory.pm", "path to the host's shared-memory layout descriptor")
	root.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable debug-level logging")

	root.AddCommand(newRunCmd())
	root.AddCommand(newTestCmd())
	root.AddCommand(newEventCmd())
	return root
}

func newLogger() (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// deps bundles the collaborators every subcommand needs: the host config,
// the parsed ABI layout and an open ConfigDB connection. Building these is
// identical across run/test/event, only the monitor id they act on and
// what they do with it differ.
type deps struct {
	logger   *zap.Logger
	hostCfg  *config.Config
	layout   *zoneminder.Layout
	configDB *zoneminder.ConfigDB
}

func setup() (*deps, error) {
	logger, err := newLogger()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}

	hostCfg, err := config.Load(hostConfigPath)
	if err != nil {
		return nil, wrapConfigErrorf("loading host config: %w", err)
	}

	layoutFile, err := os.Open(layoutPath)
	if err != nil {
		return nil, wrapConfigErrorf("opening layout descriptor: %w", err)
	}
	defer layoutFile.Close()

	layout, err := zoneminder.ParseLayout(layoutFile)
	if err != nil {
		return nil, wrapConfigErrorf("parsing layout descriptor: %w", err)
	}

	configDB, err := zoneminder.OpenConfigDB(hostCfg.DBHost, hostCfg.DBName, hostCfg.DBUser, hostCfg.DBPass)
	if err != nil {
		return nil, wrapConfigError(fmt.Errorf("opening config database: %w", err))
	}

	return &deps{logger: logger, hostCfg: hostCfg, layout: layout, configDB: configDB}, nil
}

func (d *deps) Close() {
	_ = d.configDB.Close()
	_ = d.logger.Sync()
}

// parseMonitorID parses a positional monitor id argument, rejecting
// anything that isn't a non-negative integer rather than silently treating
// a typo as monitor 0.
func parseMonitorID(arg string) (uint32, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(arg), 10, 32)
	if err != nil {
		return 0, wrapConfigErrorf("invalid monitor id %q: %w", arg, err)
	}
	return uint32(n), nil
}

func main() {
	root := newRootCmd()
	err := root.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "zmsidecar:", err)
	}
	os.Exit(exitCode(err))
}
