// Command class-index maintains annotation indexes for compiled JVM classes.
//
//	class-index scan [classes-dir|project-root]
//	class-index watch [classes-dir|project-root]
//	class-index aggregate --out index.jar build/a build/b lib/c.jar
//	class-index list org.example.Plugin --classpath build/classes,lib/c.jar
//	class-index dump Foo.class
//	class-index verify build/classes lib/c.jar
//
// Settings come from .class-index.yaml (or --config); flags override them.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"class-index/internal/config"
	"class-index/internal/logging"
	"class-index/internal/metrics"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "ERROR:", err)
		os.Exit(1)
	}
}

// app is the state shared by all subcommands after PersistentPreRunE.
type app struct {
	configPath  string
	logLevel    string
	logFormat   string
	metricsFile string

	cfg     config.Config
	log     *slog.Logger
	metrics *metrics.Metrics
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "class-index",
		Short:         "Maintain annotation indexes for compiled JVM classes",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.flushMetrics()
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "config file (default "+config.DefaultFile+" if present)")
	pf.StringVar(&a.logLevel, "log-level", "", "debug, info, warn or error")
	pf.StringVar(&a.logFormat, "log-format", "", "auto, text or json")
	pf.StringVar(&a.metricsFile, "metrics-file", "", "write Prometheus text metrics here after the run")

	root.AddCommand(
		newScanCmd(a),
		newWatchCmd(a),
		newAggregateCmd(a),
		newListCmd(a),
		newDumpCmd(a),
		newVerifyCmd(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Log.Format = a.logFormat
	}
	if a.metricsFile != "" {
		cfg.MetricsFile = a.metricsFile
	}
	log, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}
	a.cfg, a.log, a.metrics = cfg, log, metrics.New()
	return nil
}

func (a *app) flushMetrics() error {
	if a.cfg.MetricsFile == "" {
		return nil
	}
	if err := a.metrics.WriteTextfile(a.cfg.MetricsFile); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
