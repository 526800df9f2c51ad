package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"go-php-runner/config"
	"go-php-runner/logging"
	"go-php-runner/pidfile"
)

var errNotRunning = errors.New("server is not running")

// rootOptions are the persistent flags shared by every command.
type rootOptions struct {
	configFile  string
	projectRoot string
	logLevel    string
	logFormat   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	start := newStartCmd(opts)
	root := &cobra.Command{
		Use:   "go-php-runner",
		Short: "Application server for PHP workers with a static resource cache",
		Long: `go-php-runner serves files from a document root with Cache-Control,
Last-Modified, ETag and gzip handling, and forwards every other request to a
pool of long-lived PHP worker processes.

Configuration is read from go_appserver.json or go_appserver.yaml in the
project root (the nearest directory holding go.mod), or from --config.
Settings can be overridden with APP_ prefixed environment variables, for
example APP_SERVER_ADDR or APP_STATIC_GZIP_LEVEL.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          start.RunE,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.configFile, "config", "c", "", "config file (default: go_appserver.{json,yaml} in the project root)")
	pf.StringVar(&opts.projectRoot, "root", "", "project root (default: nearest directory with go.mod)")
	pf.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	pf.StringVar(&opts.logFormat, "log-format", "", "log format: text or json (overrides config)")

	root.AddCommand(
		start,
		newStopCmd(opts),
		newStatusCmd(opts),
		newReloadCmd(opts),
		newConfigCmd(opts),
	)
	return root
}

// load reads the configuration and builds the logger it describes.
func (o *rootOptions) load(stderr io.Writer) (*config.Config, *slog.Logger, error) {
	// config notices go through a bootstrap logger until the real level is known
	boot := logging.New(logging.Config{
		Level:  logging.ParseLevel(o.logLevel),
		Format: logging.ParseFormat(o.logFormat),
		Output: stderr,
	})

	cfg, err := config.Load(config.Options{File: o.configFile, ProjectRoot: o.projectRoot, Logger: boot})
	if err != nil {
		return nil, nil, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Log.Format = o.logFormat
	}

	lc := cfg.Logging()
	lc.Output = stderr
	return cfg, logging.New(lc), nil
}

// pidFile locates the pid file without validating the rest of the
// configuration, so a stopped server with a broken config still reports.
func (o *rootOptions) pidFile() (*pidfile.File, error) {
	cfg, err := config.Load(config.Options{
		File:           o.configFile,
		ProjectRoot:    o.projectRoot,
		Logger:         logging.Nop(),
		SkipValidation: true,
	})
	if err != nil {
		return nil, err
	}
	return pidfile.New(cfg.PIDFilePath())
}

func newStartCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the server in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return start(ctx, cfg, logger)
		},
	}
}

func newStopCmd(opts *rootOptions) *cobra.Command {
	var (
		force   bool
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := opts.pidFile()
			if err != nil {
				return err
			}
			rec, ok := pid.Read()
			if !ok || !pidfile.Alive(rec.MasterPID) {
				return errNotRunning
			}

			sig := stopSignal
			if force {
				sig = killSignal
			}
			if err := signalProcess(rec.MasterPID, sig); err != nil {
				return fmt.Errorf("signal master %d: %w", rec.MasterPID, err)
			}

			if err := waitExit(cmd.Context(), rec.MasterPID, timeout); err != nil {
				return err
			}
			if force {
				// a killed master cannot clean up after itself
				pid.Delete()
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stopped (master %d)\n", rec.MasterPID)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "kill the master instead of asking it to shut down")
	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "how long to wait for the master to exit")
	return cmd
}

// waitExit polls until pid is gone or timeout elapses.
func waitExit(ctx context.Context, pid int, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for pidfile.Alive(pid) {
		select {
		case <-ctx.Done():
			return fmt.Errorf("master %d still running after %s", pid, timeout)
		case <-ticker.C:
		}
	}
	return nil
}

type statusOutput struct {
	Running    bool   `json:"running"`
	MasterPID  int    `json:"master_pid,omitempty"`
	ManagerPID int    `json:"manager_pid,omitempty"`
	PIDFile    string `json:"pid_file"`
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report whether the server is running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := opts.pidFile()
			if err != nil {
				return err
			}

			out := statusOutput{PIDFile: pid.Path()}
			if rec, ok := pid.Read(); ok {
				out.Running = rec.Running()
				out.MasterPID = rec.MasterPID
				out.ManagerPID = rec.ManagerPID
			}

			w := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}
			if !out.Running {
				fmt.Fprintf(w, "stopped (pid file %s)\n", out.PIDFile)
				return nil
			}
			fmt.Fprintf(w, "running (master %d, manager %d)\n", out.MasterPID, out.ManagerPID)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print status as JSON")
	return cmd
}

func newReloadCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Recycle PHP workers and clear caches of a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := opts.pidFile()
			if err != nil {
				return err
			}
			rec, ok := pid.Read()
			if !ok || !rec.Running() {
				return errNotRunning
			}
			if err := signalProcess(rec.MasterPID, reloadSignal); err != nil {
				return fmt.Errorf("signal master %d: %w", rec.MasterPID, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reload requested (master %d)\n", rec.MasterPID)
			return nil
		},
	}
}

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(cfg); err != nil {
				return err
			}
			return enc.Close()
		},
	})
	return cmd
}
