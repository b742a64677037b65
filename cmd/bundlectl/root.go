package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"

	"github.com/spf13/cobra"

	"github.com/meigma/bundle"
	"github.com/meigma/bundle/config"
	"github.com/meigma/bundle/progress"
)

// app holds state shared by subcommands.
type app struct {
	configPath   string
	logLevel     string
	showProgress bool

	cfg    *config.Config
	logger *slog.Logger
	client *bundle.Client
}

func newRootCmd() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:           "bundlectl",
		Short:         "Install and inspect content bundles",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "",
		"path to the configuration file (default $"+config.EnvVar+")")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "",
		"override log.level from the configuration")
	cmd.PersistentFlags().BoolVar(&a.showProgress, "progress", false,
		"print progress to stderr")

	cmd.AddCommand(
		newListCmd(a),
		newInstallCmd(a),
		newVerifyCmd(a),
		newOpenCmd(a),
		newCleanCmd(a),
		newPublishCmd(a),
	)
	return cmd
}

// loadConfig reads the configuration and builds the logger.
func (a *app) loadConfig(cmd *cobra.Command) error {
	var (
		cfg *config.Config
		err error
	)
	if a.configPath != "" {
		cfg, err = config.Load(a.configPath)
	} else {
		cfg, err = config.FromEnv()
	}
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	logger, err := cfg.Log.NewLogger(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

// setup loads the configuration, builds the client and refreshes the
// catalog.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if err := a.loadConfig(cmd); err != nil {
		return err
	}
	c, err := bundle.NewClientFromConfig(a.cfg, bundle.WithLogger(a.logger))
	if err != nil {
		return err
	}
	if _, err := c.UpdateCatalog(cmd.Context()); err != nil && !errors.Is(err, bundle.ErrNoCatalogSource) {
		return err
	}
	a.client = c
	return nil
}

// progressFunc returns a reporter printing whole-percent steps of ten, or
// nil when progress output is disabled.
func (a *app) progressFunc(w io.Writer, label string) progress.Func {
	if !a.showProgress {
		return nil
	}
	var mu sync.Mutex
	last := -1
	return func(v float64) {
		step := int(math.Floor(v*10)) * 10
		mu.Lock()
		defer mu.Unlock()
		if step <= last {
			return
		}
		last = step
		fmt.Fprintf(w, "%s: %d%%\n", label, step)
	}
}
