// Package main provides the CLI entrypoint for keyrhythm.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/verte-zerg/keyrhythm/internal/attempt"
	"github.com/verte-zerg/keyrhythm/internal/capture"
	"github.com/verte-zerg/keyrhythm/internal/capture/evdev"
	"github.com/verte-zerg/keyrhythm/internal/config"
	"github.com/verte-zerg/keyrhythm/internal/features"
	"github.com/verte-zerg/keyrhythm/internal/logger"
	"github.com/verte-zerg/keyrhythm/internal/matcher"
	"github.com/verte-zerg/keyrhythm/internal/model"
	"github.com/verte-zerg/keyrhythm/internal/replay"
	"github.com/verte-zerg/keyrhythm/internal/schema"
	"github.com/verte-zerg/keyrhythm/internal/stats"
	"github.com/verte-zerg/keyrhythm/internal/statsui"
	"github.com/verte-zerg/keyrhythm/internal/store"
	"github.com/verte-zerg/keyrhythm/internal/tui"
)

// version is set at build time with -ldflags.
var version = "dev"

var (
	countIdentity string

	replayScript   string
	replayIntent   string
	replayIdentity string
	replayPace     bool
	replayWatch    bool

	historyIdentity    string
	historySince       string
	historyLast        int
	historyCurveWindow int
	historyPlain       bool
	historyIdentities  bool
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "keyrhythm",
		Short:         "Keystroke dynamics capture client",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE:          runCaptureCmd,
	}
	addSettingsFlags(rootCmd)

	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newCountCmd())
	rootCmd.AddCommand(newReplayCmd())
	rootCmd.AddCommand(newHistoryCmd())
	return rootCmd
}

// app holds the collaborators shared by every command that talks to the matcher.
type app struct {
	cfg    model.Config
	log    *logger.Logger
	store  *store.Store
	client *matcher.Client

	closers []io.Closer
}

// openApp resolves settings and opens the log, the attempt store and the
// matcher client. When toFile is false the log goes to stderr unless a log
// file was configured.
func openApp(cmd *cobra.Command, toFile bool) (*app, error) {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg}
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logPath := cfg.LogFile
	if logPath == "" && toFile {
		logPath = config.DefaultLogPath()
	}
	if logPath != "" {
		log, closer, err := logger.OpenFile(logPath, level)
		if err != nil {
			return nil, err
		}
		a.log = log
		a.closers = append(a.closers, closer)
	} else {
		a.log = logger.New(os.Stderr, level)
	}

	st, err := store.Open(config.DefaultDBPath())
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	a.store = st
	a.closers = append(a.closers, st)

	client, err := matcher.New(cfg.MatcherURL,
		matcher.WithTimeout(cfg.Timeout),
		matcher.WithLogger(a.log))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.client = client
	return a, nil
}

// Close releases everything opened by openApp, newest first.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if cerr := a.closers[i].Close(); cerr != nil {
			logErrf("failed to close: %v\n", cerr)
		}
	}
	a.closers = nil
}

func (a *app) newFlow(ctrl *capture.Controller) *attempt.Flow {
	ext := features.NewExtractor(a.cfg.Passphrase, features.NewEnvFingerprint(version))
	neg := schema.NewNegotiator(a.client, a.cfg.DefaultCount, a.log)
	return attempt.NewFlow(ctrl, ext, neg, a.client,
		attempt.WithRecorder(a.store),
		attempt.WithLogger(a.log))
}

func runCaptureCmd(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd, true)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	ctrl := capture.NewController(capture.WithLogger(a.log))
	defer ctrl.Close()
	feed := capture.NewFeed()
	switch a.cfg.Source {
	case sourceEvdev:
		src := evdev.New(evdev.ParseDeviceList(a.cfg.Device), a.log)
		if err := src.Start(ctx); err != nil {
			return fmt.Errorf("failed to start device capture: %w", err)
		}
		defer src.Stop()
		ctrl.Attach(src)
	default:
		ctrl.Attach(feed)
	}
	a.log.Info("Capture: session started",
		"source", a.cfg.Source,
		"matcher", a.cfg.MatcherURL,
		"version", version)

	m := tui.NewModel(a.newFlow(ctrl), feed, a.cfg.Passphrase, a.log)
	program := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseAllMotion())
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("failed to run TUI: %w", err)
	}
	return nil
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
	path := config.DefaultConfigPath()
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
	if len(parts) == 0 {
		return fmt.Errorf("editor command is empty")
	}
	cmd := exec.Command(parts[0], append(parts[1:], path)...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to open editor: %w", err)
	}
	return nil
}

func newCountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "count",
		Short: "Show the expected feature count for an identity",
		Args:  cobra.NoArgs,
		RunE:  runCountCmd,
	}
	cmd.Flags().StringVar(&countIdentity, "identity", "", "identity to query (empty for the default)")
	return cmd
}

func runCountCmd(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	neg := schema.NewNegotiator(a.client, a.cfg.DefaultCount, a.log)
	// A failed fetch is advisory: report the count submissions would use.
	count, err := neg.Fetch(cmd.Context(), strings.TrimSpace(countIdentity))
	if err != nil {
		logErrln("Could not fetch expected feature count.")
	}
	if _, err := fmt.Fprintf(cmd.OutOrStdout(), "Expected feature count: %d (%s)\n", count.Value, count.Source); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func newReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Submit a recorded event script to the matcher",
		Args:  cobra.NoArgs,
		RunE:  runReplayCmd,
	}
	cmd.Flags().StringVar(&replayScript, "script", "", "path to a YAML event script")
	cmd.Flags().StringVar(&replayIntent, "intent", string(model.IntentAuthenticate), "enroll or authenticate")
	cmd.Flags().StringVar(&replayIdentity, "identity", "", "identity override (default: the script's)")
	cmd.Flags().BoolVar(&replayPace, "pace", false, "deliver events in real time")
	cmd.Flags().BoolVar(&replayWatch, "watch", false, "replay again whenever the script changes")
	_ = cmd.MarkFlagRequired("script")
	return cmd
}

func runReplayCmd(cmd *cobra.Command, _ []string) error {
	intent, err := parseIntent(replayIntent)
	if err != nil {
		return err
	}
	a, err := openApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	if !replayWatch {
		return replayOnce(cmd.Context(), a, intent, out)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	if err := replayOnce(ctx, a, intent, out); err != nil {
		logErrf("replay failed: %v\n", err)
	}
	logErrf("Watching %s (ctrl+c to stop)\n", replayScript)
	return replay.Watch(ctx, replayScript, a.log, func() {
		if err := replayOnce(ctx, a, intent, out); err != nil {
			logErrf("replay failed: %v\n", err)
		}
	})
}

// replayOnce plays the script into a fresh controller and submits it.
func replayOnce(ctx context.Context, a *app, intent model.Intent, out io.Writer) error {
	script, err := replay.LoadScript(replayScript)
	if err != nil {
		return err
	}
	identity := strings.TrimSpace(replayIdentity)
	if identity == "" {
		identity = script.Identity
	}

	ctrl := capture.NewController(capture.WithLogger(a.log))
	defer ctrl.Close()
	var opts []replay.PlayerOption
	if replayPace {
		opts = append(opts, replay.WithPacing())
	}
	player := replay.NewPlayer(script, opts...)
	ctrl.Attach(player)

	flow := a.newFlow(ctrl)
	flow.SetIdentity(identity)
	if _, err := flow.RefreshSchema(ctx); err != nil {
		logErrln("Could not fetch expected feature count.")
	}
	if _, err := player.Play(ctx); err != nil {
		return fmt.Errorf("failed to play script: %w", err)
	}
	flow.SetPassphrase(script.TypedText())

	outcome, err := flow.Submit(ctx, intent)
	if err != nil {
		return describeSubmitError(err)
	}
	if _, err := fmt.Fprintln(out, outcome.Summary()); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func describeSubmitError(err error) error {
	var mismatch *schema.CountMismatchError
	switch {
	case errors.Is(err, features.ErrPassphraseMismatch):
		return errors.New("passphrase incorrect")
	case errors.As(err, &mismatch):
		return fmt.Errorf("feature count mismatch: expected %d, got %d", mismatch.Expected, mismatch.Actual)
	default:
		return err
	}
}

func parseIntent(value string) (model.Intent, error) {
	switch intent := model.Intent(strings.ToLower(strings.TrimSpace(value))); intent {
	case model.IntentEnroll, model.IntentAuthenticate:
		return intent, nil
	default:
		return "", fmt.Errorf("--intent must be %q or %q", model.IntentEnroll, model.IntentAuthenticate)
	}
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded attempts",
		Args:  cobra.NoArgs,
		RunE:  runHistoryCmd,
	}
	cmd.Flags().StringVar(&historyIdentity, "identity", "", "identity filter")
	cmd.Flags().StringVar(&historySince, "since", "", "start date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&historyLast, "last", 0, "limit to last N attempts")
	cmd.Flags().IntVar(&historyCurveWindow, "curve-window", defaultCurveWindow, "moving average window")
	cmd.Flags().BoolVar(&historyPlain, "plain", false, "print a text report instead of the viewer")
	cmd.Flags().BoolVar(&historyIdentities, "identities", false, "list identities with recorded attempts")
	return cmd
}

func runHistoryCmd(cmd *cobra.Command, _ []string) error {
	var sinceTime *time.Time
	if historySince != "" {
		parsed, err := time.ParseInLocation("2006-01-02", historySince, time.Local)
		if err != nil {
			return fmt.Errorf("invalid --since value: %w", err)
		}
		sinceTime = &parsed
	}
	if historyLast < 0 {
		return fmt.Errorf("--last must be >= 0")
	}
	if historyCurveWindow < 1 {
		return fmt.Errorf("--curve-window must be >= 1")
	}
	cfg := model.HistoryConfig{
		Identity:    strings.TrimSpace(historyIdentity),
		Since:       sinceTime,
		Last:        historyLast,
		CurveWindow: historyCurveWindow,
	}

	st, err := store.Open(config.DefaultDBPath())
	if err != nil {
		return fmt.Errorf("failed to open db: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			logErrf("failed to close db: %v\n", cerr)
		}
	}()

	out := cmd.OutOrStdout()
	if historyIdentities {
		ids, err := st.ListIdentities(cmd.Context())
		if err != nil {
			return err
		}
		for _, id := range ids {
			if _, err := fmt.Fprintln(out, id); err != nil {
				return fmt.Errorf("failed to write output: %w", err)
			}
		}
		return nil
	}
	if historyPlain || !term.IsTerminal(int(os.Stdout.Fd())) {
		report, err := stats.BuildReport(cmd.Context(), st, cfg)
		if err != nil {
			return fmt.Errorf("failed to build report: %w", err)
		}
		return stats.RenderReport(out, report, cfg.CurveWindow, 0, stats.ColorEnabled(out))
	}

	program := tea.NewProgram(statsui.NewModel(st, cfg), tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("failed to run history TUI: %w", err)
	}
	return nil
}

func logErrf(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		// Best-effort logging to stderr.
		_ = err
	}
}

func logErrln(args ...any) {
	if _, err := fmt.Fprintln(os.Stderr, args...); err != nil {
		// Best-effort logging to stderr.
		_ = err
	}
}
