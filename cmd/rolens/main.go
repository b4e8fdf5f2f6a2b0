// Package main provides the CLI entrypoint for rolens.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/verte-zerg/rolens/internal/config"
	"github.com/verte-zerg/rolens/internal/model"
	"github.com/verte-zerg/rolens/internal/probe"
	"github.com/verte-zerg/rolens/internal/progression"
	"github.com/verte-zerg/rolens/internal/session"
	"github.com/verte-zerg/rolens/internal/stats"
	"github.com/verte-zerg/rolens/internal/store"
	"github.com/verte-zerg/rolens/internal/tui"
)

const (
	defaultInterval     = time.Second
	defaultLogLevel     = "info"
	defaultAutoDownload = true
)

var (
	configPath string

	watchPID         uint
	watchInterval    time.Duration
	watchPlain       bool
	watchExecutable  string
	watchModule      string
	watchTablePath   string
	watchRemoteURL   string
	watchLockTimeout time.Duration
	watchAutoDL      bool
	watchTable       bool
	watchJournal     string
	watchLogLevel    string
	watchLogFile     string

	tableTrack string

	historyCharacter string
	historySession   string
	historySince     string
	historyLast      int
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "rolens",
		Short:         "Live XP tracker for the Ragnarok Online client",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE:          runWatchCmd,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: $XDG_CONFIG_HOME/rolens/config.toml)")
	addWatchFlags(rootCmd)

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Monitor a game client (default command)",
		Args:  cobra.NoArgs,
		RunE:  runWatchCmd,
	}
	addWatchFlags(watchCmd)

	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(newProcessesCmd())
	rootCmd.AddCommand(newTableCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newConfigCmd())
	return rootCmd
}

func addWatchFlags(cmd *cobra.Command) {
	cmd.Flags().UintVar(&watchPID, "pid", 0, "process to monitor (plain mode picks the only client when unset)")
	cmd.Flags().DurationVar(&watchInterval, "interval", defaultInterval, "poll interval")
	cmd.Flags().BoolVar(&watchPlain, "plain", false, "print log lines instead of the TUI")
	cmd.Flags().StringVar(&watchExecutable, "executable", probe.DefaultExecutable, "client executable name")
	cmd.Flags().StringVar(&watchModule, "module", probe.DefaultExecutable, "module anchoring the memory layout")
	cmd.Flags().StringVar(&watchTablePath, "table", "", "progression table path")
	cmd.Flags().StringVar(&watchRemoteURL, "remote-url", progression.DefaultRemoteURL, "baseline progression table URL")
	cmd.Flags().DurationVar(&watchLockTimeout, "lock-timeout", progression.DefaultLockTimeout, "table write lock timeout")
	cmd.Flags().BoolVar(&watchAutoDL, "auto-download", defaultAutoDownload, "download the baseline table when the local one is empty")
	cmd.Flags().BoolVar(&watchTable, "watch-table", false, "reload the table when other instances write it")
	cmd.Flags().StringVar(&watchJournal, "journal", "", "level-up journal database path")
	cmd.Flags().StringVar(&watchLogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&watchLogFile, "log-file", "", "write logs to this file")
}

// loadConfig reads the config file and the ROLENS_* environment and folds them into the flag
// variables of cmd. Explicit flags win.
func loadConfig(cmd *cobra.Command) error {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	fileCfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if watchTablePath == "" {
		watchTablePath = config.DefaultTablePath()
	}
	if watchJournal == "" {
		watchJournal = config.DefaultDBPath()
	}
	applyStringConfig(cmd, "executable", &watchExecutable, fileCfg.Probe.Executable)
	applyStringConfig(cmd, "module", &watchModule, fileCfg.Probe.Module)
	applyStringConfig(cmd, "table", &watchTablePath, fileCfg.Table.Path)
	applyStringConfig(cmd, "remote-url", &watchRemoteURL, fileCfg.Table.RemoteURL)
	applyDurationConfig(cmd, "lock-timeout", &watchLockTimeout, fileCfg.Table.LockTimeout)
	applyBoolConfig(cmd, "auto-download", &watchAutoDL, fileCfg.Table.AutoDownload)
	applyBoolConfig(cmd, "watch-table", &watchTable, fileCfg.Table.Watch)
	applyDurationConfig(cmd, "interval", &watchInterval, fileCfg.Watch.Interval)
	applyBoolConfig(cmd, "plain", &watchPlain, fileCfg.Watch.Plain)
	applyStringConfig(cmd, "journal", &watchJournal, fileCfg.Watch.Journal)
	applyStringConfig(cmd, "log-level", &watchLogLevel, fileCfg.Log.Level)
	applyStringConfig(cmd, "log-file", &watchLogFile, fileCfg.Log.File)
	return nil
}

// app bundles everything a monitoring run needs.
type app struct {
	logger  *slog.Logger
	table   *progression.Table
	remote  *progression.Remote
	journal *store.Store
	session *session.Session
	closers []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logErrf("failed to close: %v\n", err)
		}
	}
}

func openApp(logOut io.Writer) (*app, error) {
	a := &app{}
	logger, closeLog, err := newLogger(watchLogLevel, watchLogFile, logOut)
	if err != nil {
		return nil, err
	}
	a.logger = logger
	a.closers = append(a.closers, closeLog)

	table, err := progression.Open(watchTablePath,
		progression.WithLockTimeout(watchLockTimeout),
		progression.WithLogger(logger),
	)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open progression table: %w", err)
	}
	a.table = table
	a.remote = progression.NewRemote(watchRemoteURL, nil)

	journal, err := store.Open(watchJournal)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	a.journal = journal
	a.closers = append(a.closers, journal.Close)

	p := probe.New(probe.NewBackend(),
		probe.WithExecutable(watchExecutable),
		probe.WithModule(watchModule),
	)
	engine := stats.NewEngine(table)
	a.session = session.New(p, engine, table, a.remote, journal, logger)
	return a, nil
}

func runWatchCmd(cmd *cobra.Command, _ []string) error {
	if err := loadConfig(cmd); err != nil {
		return err
	}
	if err := validateWatch(); err != nil {
		return err
	}

	plain := watchPlain || !term.IsTerminal(int(os.Stdout.Fd()))
	logOut := io.Discard
	if plain {
		logOut = os.Stderr
	}
	a, err := openApp(logOut)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if watchAutoDL && a.table.Len() == 0 {
		a.logger.Info("progression table is empty, downloading baseline", "url", a.remote.URL())
		a.session.RefreshTable(ctx)
	}
	if watchTable {
		if err := os.MkdirAll(filepath.Dir(a.table.Path()), 0o755); err != nil {
			return fmt.Errorf("failed to create table directory: %w", err)
		}
		go func() {
			if err := a.table.Watch(ctx); err != nil {
				a.logger.Warn("table watcher stopped", "err", err)
			}
		}()
	}

	if plain {
		return runPlain(ctx, cmd.OutOrStdout(), a)
	}
	program := tea.NewProgram(tui.NewModel(a.session, watchInterval), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("failed to run TUI: %w", err)
	}
	return nil
}

func runPlain(ctx context.Context, out io.Writer, a *app) error {
	pid, err := resolvePID(a.session, uint32(watchPID))
	if err != nil {
		return err
	}
	if err := a.session.Start(ctx, pid); err != nil {
		return err
	}

	var lastKills uint64
	runErr := a.session.Run(ctx, watchInterval, func(view model.StatsView, err error) {
		if err != nil || view.MonstersKilled == lastKills {
			return
		}
		lastKills = view.MonstersKilled
		a.logger.Info("xp",
			"character", view.Current.Name,
			"base_level", view.Current.BaseLevel,
			"base_xp_h", view.BaseXPPerHour,
			"job_xp_h", view.JobXPPerHour,
			"kills", view.MonstersKilled,
			"base_progress", stats.FormatProgress(view.BaseProgress),
		)
	})

	if view, ok := a.session.View(); ok {
		if err := stats.RenderSummary(out, view); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}
	return runErr
}

type processLister interface {
	ListCandidateProcesses() ([]model.Process, error)
}

// resolvePID returns want, or the only running client when want is zero.
func resolvePID(lister processLister, want uint32) (uint32, error) {
	if want != 0 {
		return want, nil
	}
	procs, err := lister.ListCandidateProcesses()
	if err != nil {
		return 0, fmt.Errorf("failed to list processes: %w", err)
	}
	switch len(procs) {
	case 0:
		return 0, fmt.Errorf("no game client running")
	case 1:
		return procs[0].PID, nil
	}
	pids := make([]string, 0, len(procs))
	for _, p := range procs {
		pids = append(pids, fmt.Sprintf("%d", p.PID))
	}
	return 0, fmt.Errorf("several clients running (%s); pick one with --pid", strings.Join(pids, ", "))
}

func validateWatch() error {
	if watchInterval <= 0 {
		return fmt.Errorf("--interval must be > 0")
	}
	if watchLockTimeout <= 0 {
		return fmt.Errorf("--lock-timeout must be > 0")
	}
	if _, err := parseLogLevel(watchLogLevel); err != nil {
		return err
	}
	return nil
}

func newProcessesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "processes",
		Short: "List running game clients",
		Args:  cobra.NoArgs,
		RunE:  runProcessesCmd,
	}
	cmd.Flags().StringVar(&watchExecutable, "executable", probe.DefaultExecutable, "client executable name")
	return cmd
}

func runProcessesCmd(cmd *cobra.Command, _ []string) error {
	if err := loadConfig(cmd); err != nil {
		return err
	}
	p := probe.New(probe.NewBackend(), probe.WithExecutable(watchExecutable))
	procs, err := p.ListProcesses()
	if err != nil {
		return fmt.Errorf("failed to list processes: %w", err)
	}
	if len(procs) == 0 {
		logErrf("No %s process found.\n", watchExecutable)
		return nil
	}
	rows := make([][]string, 0, len(procs))
	for _, proc := range procs {
		rows = append(rows, []string{fmt.Sprintf("%d", proc.PID), proc.Name})
	}
	return writeLines(cmd.OutOrStdout(), stats.FormatTable([]string{"PID", "Executable"}, rows, map[int]bool{0: true}))
}

func newTableCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "table",
		Short: "Show the progression table",
		Args:  cobra.NoArgs,
		RunE:  runTableCmd,
	}
	cmd.PersistentFlags().StringVar(&watchTablePath, "table", "", "progression table path")
	cmd.Flags().StringVar(&tableTrack, "track", string(model.TrackBase), "track to show (base or job)")

	refreshCmd := &cobra.Command{
		Use:   "refresh",
		Short: "Merge the baseline table from the remote source",
		Args:  cobra.NoArgs,
		RunE:  runTableRefreshCmd,
	}
	refreshCmd.Flags().StringVar(&watchRemoteURL, "remote-url", progression.DefaultRemoteURL, "baseline progression table URL")
	refreshCmd.Flags().DurationVar(&watchLockTimeout, "lock-timeout", progression.DefaultLockTimeout, "table write lock timeout")
	cmd.AddCommand(refreshCmd)
	return cmd
}

func runTableCmd(cmd *cobra.Command, _ []string) error {
	if err := loadConfig(cmd); err != nil {
		return err
	}
	track, err := model.ParseTrack(tableTrack)
	if err != nil {
		return fmt.Errorf("invalid --track value: %w", err)
	}
	table, err := progression.Open(watchTablePath)
	if err != nil {
		return fmt.Errorf("failed to open progression table: %w", err)
	}
	if err := table.LoadErr(); err != nil {
		return fmt.Errorf("failed to load progression table: %w", err)
	}
	rows := table.Rows(track)
	if len(rows) == 0 {
		logErrf("No %s levels recorded in %s. Download with: rolens table refresh\n", track, table.Path())
		return nil
	}
	return writeLines(cmd.OutOrStdout(), tableLines(rows))
}

func tableLines(rows []progression.Row) []string {
	out := make([][]string, 0, len(rows))
	for _, row := range rows {
		state := "observed"
		if row.Confirmed {
			state = "confirmed"
		}
		out = append(out, []string{fmt.Sprintf("%d", row.Level), humanize.Comma(int64(row.XP)), state})
	}
	return stats.FormatTable([]string{"Level", "XP", "State"}, out, map[int]bool{0: true, 1: true})
}

func runTableRefreshCmd(cmd *cobra.Command, _ []string) error {
	if err := loadConfig(cmd); err != nil {
		return err
	}
	table, err := progression.Open(watchTablePath, progression.WithLockTimeout(watchLockTimeout))
	if err != nil {
		return fmt.Errorf("failed to open progression table: %w", err)
	}
	remote := progression.NewRemote(watchRemoteURL, nil)
	before := table.Len()
	logErrf("Fetching %s...\n", remote.URL())
	if err := table.Bootstrap(cmd.Context(), remote); err != nil {
		return fmt.Errorf("failed to refresh progression table: %w", err)
	}
	logErrf("Table %s now holds %d levels (%+d).\n", table.Path(), table.Len(), table.Len()-before)
	return nil
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded level-ups",
		Args:  cobra.NoArgs,
		RunE:  runHistoryCmd,
	}
	cmd.Flags().StringVar(&watchJournal, "journal", "", "level-up journal database path")
	cmd.Flags().StringVar(&historyCharacter, "character", "", "character filter")
	cmd.Flags().StringVar(&historySession, "session", "", "session id filter")
	cmd.Flags().StringVar(&historySince, "since", "", "start date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&historyLast, "last", 0, "limit to the last N level-ups")
	return cmd
}

func runHistoryCmd(cmd *cobra.Command, _ []string) error {
	if err := loadConfig(cmd); err != nil {
		return err
	}
	filter, err := historyFilter()
	if err != nil {
		return err
	}
	st, err := store.Open(watchJournal)
	if err != nil {
		return fmt.Errorf("failed to open db: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			logErrf("failed to close db: %v\n", cerr)
		}
	}()

	ups, err := st.ListLevelUps(cmd.Context(), filter)
	if err != nil {
		return fmt.Errorf("failed to load level-ups: %w", err)
	}
	if err := stats.RenderLevelUps(cmd.OutOrStdout(), ups); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func historyFilter() (model.LevelUpFilter, error) {
	if historyLast < 0 {
		return model.LevelUpFilter{}, fmt.Errorf("--last must be >= 0")
	}
	filter := model.LevelUpFilter{
		Character: historyCharacter,
		SessionID: historySession,
		Last:      historyLast,
	}
	if historySince != "" {
		parsed, err := time.ParseInLocation("2006-01-02", historySince, time.Local)
		if err != nil {
			return model.LevelUpFilter{}, fmt.Errorf("invalid --since value: %w", err)
		}
		filter.Since = &parsed
	}
	return filter, nil
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Create/open config file",
		Args:  cobra.NoArgs,
		RunE:  runConfigCmd,
	}
}

func runConfigCmd(_ *cobra.Command, _ []string) error {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to stat config: %w", err)
		}
		if err := os.WriteFile(path, []byte(defaultConfigTemplate()), 0o644); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
	}

	editor := strings.TrimSpace(os.Getenv("EDITOR"))
	if editor == "" {
		editor = "vi"
	}
	parts := strings.Fields(editor)
	cmd := exec.Command(parts[0], append(parts[1:], path)...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to open editor: %w", err)
	}
	return nil
}

func defaultConfigTemplate() string {
	return fmt.Sprintf(`# rolens configuration
# Uncomment a value to enable it. ROLENS_* variables override the file; CLI flags override both.

[probe]
# executable = %q     # Client executable name
# module = %q         # Module anchoring the memory layout

[table]
# path = "%s"
# remote-url = %q
# lock-timeout = %q        # Write lock timeout
# auto-download = %t       # Download the baseline table when the local one is empty
# watch = false            # Reload the table when other instances write it

[watch]
# interval = %q            # Poll interval
# plain = false            # Log lines instead of the TUI
# journal = "%s"

[log]
# level = %q               # debug, info, warn, error
# file = ""                # Write logs to this file
`,
		probe.DefaultExecutable,
		probe.DefaultExecutable,
		filepath.ToSlash(config.DefaultTablePath()),
		progression.DefaultRemoteURL,
		progression.DefaultLockTimeout.String(),
		defaultAutoDownload,
		defaultInterval.String(),
		filepath.ToSlash(config.DefaultDBPath()),
		defaultLogLevel,
	)
}

func parseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}

// newLogger writes text logs to path, or to fallback when path is empty.
func newLogger(levelName, path string, fallback io.Writer) (*slog.Logger, func() error, error) {
	level, err := parseLogLevel(levelName)
	if err != nil {
		return nil, nil, err
	}
	out := fallback
	closeFn := func() error { return nil }
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out = f
		closeFn = f.Close
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})), closeFn, nil
}

func writeLines(w io.Writer, lines []string) error {
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}
	return nil
}

func applyStringConfig(cmd *cobra.Command, name string, target, value *string) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func applyBoolConfig(cmd *cobra.Command, name string, target, value *bool) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func applyDurationConfig(cmd *cobra.Command, name string, target *time.Duration, value *config.Duration) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = value.Duration
}

func logErrf(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		// Best-effort logging to stderr.
		_ = err
	}
}
