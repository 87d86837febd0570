package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/schaermu/unitsync/internal/config"
	"github.com/schaermu/unitsync/internal/git"
	"github.com/schaermu/unitsync/internal/render"
	"github.com/schaermu/unitsync/internal/report"
	"github.com/schaermu/unitsync/internal/state"
	"github.com/schaermu/unitsync/internal/sync"
	"github.com/schaermu/unitsync/internal/systemd"
)

// Exit codes
const (
	exitOK      = 0
	exitFatal   = 1
	exitPartial = 2
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// settings are seeded from the environment and overridden by flags
	settings    config.Settings
	settingsErr error

	// Global flags
	logLevel  string
	logFormat string
	noColor   bool

	// Apply flags
	dryRun    bool
	force     bool
	assumeYes bool

	// systemctlBinary is the service manager CLI invoked by the client
	systemctlBinary = "systemctl"

	// isInteractive reports whether stdin is a terminal a human can answer on
	isInteractive = func() bool {
		return term.IsTerminal(int(os.Stdin.Fd()))
	}
)

// exitError carries a non-default process exit code
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

func main() {
	os.Exit(execute())
}

func execute() int {
	if err := rootCmd.Execute(); err != nil {
		return exitCode(err)
	}
	return exitOK
}

func exitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitFatal
}

var rootCmd = &cobra.Command{
	Use:   "unitsync",
	Short: "Reconcile systemd units with a declarative configuration",
	Long: `unitsync renders systemd unit files from templates and brings the service
manager in line with them: new units are installed and started, changed units
are rewritten and restarted, and units it installed earlier but that are no
longer configured are stopped and removed.

Units that unitsync did not install are never touched.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if settingsErr != nil {
			return settingsErr
		}
		return nil
	},
}

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply the configuration to the service manager",
	Long: `Apply renders every configured unit, compares the result with the recorded
state and executes the resulting plan: removals first, then creates and
updates in unit name order.

The plan is shown before anything changes. On a terminal you are asked to
confirm unless --yes is given. Exit status is 0 when every action succeeded,
2 when some actions failed and 1 when nothing could be attempted.`,
	RunE: runApply,
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show what apply would change without changing anything",
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun = true
		return runApply(cmd, args)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintf(out, "unitsync %s\n", version)
		_, _ = fmt.Fprintf(out, "  commit: %s\n", commit)
		_, _ = fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	settings, settingsErr = config.LoadSettings()

	// Global flags
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&settings.ConfigPath, "config", settings.ConfigPath, "config file, YAML or TOML (env UNITSYNC_CONFIG)")
	flags.StringVar(&settings.StatePath, "state", settings.StatePath, "state file (env UNITSYNC_STATE)")
	flags.StringVar(&settings.TemplatesDir, "templates", settings.TemplatesDir, "templates directory (env UNITSYNC_TEMPLATES)")
	flags.StringVar(&settings.UnitDir, "unit-dir", settings.UnitDir, "unit file directory (env UNITSYNC_UNIT_DIR)")
	flags.BoolVar(&settings.User, "user", settings.User, "operate on the user service manager (env UNITSYNC_USER)")
	flags.DurationVar(&settings.Timeout, "timeout", settings.Timeout, "timeout for each service manager operation (env UNITSYNC_TIMEOUT)")
	flags.StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	flags.StringVar(&logFormat, "log-format", "text", "log format (text, json)")
	flags.BoolVar(&noColor, "no-color", false, "disable colored output")

	// Apply command flags
	applyCmd.Flags().BoolVar(&dryRun, "dry-run", false, "show the plan without applying it")
	applyCmd.Flags().BoolVar(&force, "force", false, "overwrite units that were modified outside of unitsync")
	applyCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "do not ask for confirmation")
	planCmd.Flags().BoolVar(&force, "force", false, "plan over units that were modified outside of unitsync")

	// Add commands
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(versionCmd)
}

func runApply(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	// Setup logger
	logger := setupLogger()

	engine, err := newEngine(logger)
	if err != nil {
		return err
	}

	session, err := engine.Prepare(ctx, sync.Options{DryRun: dryRun, Force: force})
	if err != nil {
		logger.Error("sync failed", "error", err)
		return err
	}
	defer session.Release()

	out := cmd.OutOrStdout()
	printer := report.NewPrinter(out, noColor, true)
	printer.Plan(planChanges(session))

	if dryRun || session.Plan.Empty() {
		return nil
	}

	if !assumeYes && isInteractive() {
		ok, err := confirm(cmd.InOrStdin(), out, len(session.Plan.Actions))
		if err != nil {
			return err
		}
		if !ok {
			_, _ = fmt.Fprintln(out, "Apply cancelled.")
			return nil
		}
	}

	result, err := session.Apply(ctx)
	if result != nil {
		printer.Results(outcomes(result))
	}
	if err != nil {
		logger.Error("failed to save state", "error", err)
		return err
	}

	if failed := result.Failed(); len(failed) > 0 {
		return &exitError{
			code: exitPartial,
			err:  fmt.Errorf("%d of %d actions failed", len(failed), len(result.Results)),
		}
	}
	return nil
}

// newEngine wires the engine from settings and the configuration file
func newEngine(logger *slog.Logger) (*sync.Engine, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	cfg, err := loadConfig(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	unitDir, err := settings.ResolveUnitDir()
	if err != nil {
		return nil, err
	}

	manager := systemd.NewClient(unitDir,
		systemd.WithUserScope(settings.User),
		systemd.WithTimeout(settings.Timeout),
		systemd.WithBinary(systemctlBinary),
	)
	store := state.NewStore(os.ExpandEnv(settings.StatePath))
	renderer := render.NewTemplateRenderer(settings.TemplatesRoot(cfg.Source))

	logger.Debug("engine configured",
		"unit_dir", unitDir,
		"state", store.Path(),
		"templates", renderer.Dir(),
		"user", settings.User)

	engine := sync.NewEngine(cfg, renderer, store, manager, logger)
	if cfg.Source.URL != "" {
		client := git.NewShellClient(git.Auth{
			SSHKeyFile:     cfg.Source.SSHKeyFile,
			HTTPSTokenFile: cfg.Source.HTTPSTokenFile,
		})
		engine.WithSource(client, settings.SourceCheckoutDir())
	}
	return engine, nil
}

func loadConfig(logger *slog.Logger) (*config.Config, error) {
	logger.Info("loading configuration", "path", settings.ConfigPath)

	cfg, err := config.Load(settings.ConfigPath)
	if err != nil {
		return nil, err
	}

	logger.Debug("configuration loaded",
		"services", len(cfg.Services),
		"source", cfg.Source.URL,
		"ref", cfg.Source.Ref)

	return cfg, nil
}

func planChanges(s *sync.Session) []report.Change {
	changes := make([]report.Change, 0, len(s.Plan.Actions))
	for _, a := range s.Plan.Actions {
		changes = append(changes, report.Change{
			Kind:    report.Kind(a.Kind.String()),
			Unit:    a.Name,
			Old:     s.OnDisk[a.Name],
			New:     a.Unit.Content,
			Drifted: s.Drifted(a.Name),
		})
	}
	return changes
}

func outcomes(r *sync.Result) []report.Outcome {
	out := make([]report.Outcome, 0, len(r.Results))
	for _, res := range r.Results {
		out = append(out, report.Outcome{
			Kind: report.Kind(res.Action.Kind.String()),
			Unit: res.Action.Name,
			Err:  res.Err,
		})
	}
	return out
}

// confirm asks on out and reads the answer from in. Only "y" and "yes"
// approve.
func confirm(in io.Reader, out io.Writer, actions int) (bool, error) {
	noun := "actions"
	if actions == 1 {
		noun = "action"
	}
	_, _ = fmt.Fprintf(out, "Apply %d %s? [y/N]: ", actions, noun)

	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("failed to read confirmation: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

func setupLogger() *slog.Logger {
	// Parse log level
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	// Logs go to stderr; stdout carries the plan and results
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}
