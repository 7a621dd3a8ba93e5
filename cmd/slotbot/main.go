package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/v0xg/slotbot/internal/activation"
	"github.com/v0xg/slotbot/internal/artifact"
	"github.com/v0xg/slotbot/internal/booking"
	"github.com/v0xg/slotbot/internal/config"
	"github.com/v0xg/slotbot/internal/form"
	"github.com/v0xg/slotbot/internal/observability"
	"github.com/v0xg/slotbot/internal/page"
	"github.com/v0xg/slotbot/internal/page/pwpage"
	"github.com/v0xg/slotbot/internal/page/rodpage"
)

const (
	exitOK            = 0
	exitBrowserFailed = 1
	exitConfigMissing = 2
)

// opener starts a browser session for one driver
type opener func(ctx context.Context, cfg config.BrowserConfig, log *zap.Logger) (page.Session, error)

var drivers = map[string]opener{
	"rod": func(ctx context.Context, cfg config.BrowserConfig, log *zap.Logger) (page.Session, error) {
		b, err := rodpage.Launch(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		return b, nil
	},
	"playwright": func(ctx context.Context, cfg config.BrowserConfig, log *zap.Logger) (page.Session, error) {
		b, err := pwpage.Launch(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		return b, nil
	},
}

// exitError carries a process exit code out of a cobra command
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// app holds the process-level collaborators so tests can swap them
type app struct {
	drivers     map[string]opener
	out         io.Writer
	logger      func(config.LoggerConfig) *zap.Logger
	bookingOpts []booking.Option
}

func main() {
	// Load .env file if present (silently ignore if not found)
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	a := &app{
		drivers: drivers,
		out:     os.Stdout,
		logger: func(cfg config.LoggerConfig) *zap.Logger {
			observability.InitializeLogger(cfg)
			return observability.GetLogger()
		},
	}
	code := a.execute(ctx, os.Args[1:])
	stop()
	observability.Sync()
	os.Exit(code)
}

// execute runs the CLI and maps the outcome to an exit code
func (a *app) execute(ctx context.Context, args []string) int {
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(a.out)
	root.SetErr(a.out)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	fmt.Fprintln(a.out, "Error:", err)
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitBrowserFailed
}

func (a *app) rootCmd() *cobra.Command {
	var cfgFile string
	v := viper.New()

	root := &cobra.Command{
		Use:   "slotbot",
		Short: "Book the first available appointment slot",
		Long: `slotbot opens a public appointment schedule, picks the first available
time slot, fills the booking form with your details and submits it.

Identity and target come from the environment (or a .env file):
  FIRST_NAME, LAST_NAME, EMAIL, PHONE, STUDENT_ID, TARGET_URL

Example:
  slotbot --driver playwright --headless`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load(cfgFile, v)
			if err != nil {
				return err
			}
			return a.run(cmd.Context(), cfg)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&cfgFile, "config", "c", "", "YAML config file")
	flags.String("target-url", "", "Appointment schedule URL (overrides TARGET_URL)")
	flags.String("driver", "rod", "Browser driver: rod, playwright")
	flags.Bool("headless", false, "Run the browser without a window")
	flags.String("artifacts-dir", "results", "Directory for screenshots and page dumps")
	flags.Bool("timeline", false, "Write an animated GIF of every screenshot taken")
	flags.String("log-level", "info", "Log level: debug, info, warn, error")
	flags.String("log-format", "console", "Log format: console, json")

	for key, name := range map[string]string{
		"target_url":         "target-url",
		"browser.driver":     "driver",
		"browser.headless":   "headless",
		"artifacts.dir":      "artifacts-dir",
		"artifacts.timeline": "timeline",
		"logger.level":       "log-level",
		"logger.format":      "log-format",
	} {
		_ = v.BindPFlag(key, flags.Lookup(name))
	}

	root.AddCommand(&cobra.Command{
		Use:   "check-config",
		Short: "Validate configuration without opening a browser",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load(cfgFile, v)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration ok: driver=%s target=%s artifacts=%s\n",
				cfg.Browser.Driver, cfg.TargetURL, cfg.Artifacts.Dir)
			return nil
		},
	})
	return root
}

// load merges defaults, the config file, the environment and flags, then
// validates. Any failure is a configuration error.
func load(path string, flagged *viper.Viper) (*config.Config, error) {
	_, v, err := config.Load(path)
	if err != nil {
		return nil, &exitError{code: exitConfigMissing, err: err}
	}
	for _, key := range flagged.AllKeys() {
		if flagged.IsSet(key) {
			v.Set(key, flagged.Get(key))
		}
	}
	cfg, err := config.NewConfigFromViper(v)
	if err != nil {
		return nil, &exitError{code: exitConfigMissing, err: err}
	}
	if err := cfg.Validate(); err != nil {
		return nil, &exitError{code: exitConfigMissing, err: err}
	}
	return cfg, nil
}

func (a *app) run(ctx context.Context, cfg *config.Config) error {
	log := a.logger(cfg.Logger)

	open, ok := a.drivers[cfg.Browser.Driver]
	if !ok {
		return &exitError{code: exitConfigMissing, err: fmt.Errorf("unknown driver %q", cfg.Browser.Driver)}
	}
	fmt.Fprintf(a.out, "→ Opening %s browser... ", cfg.Browser.Driver)
	session, err := open(ctx, cfg.Browser, log)
	if err != nil {
		fmt.Fprintln(a.out, "failed")
		return &exitError{code: exitBrowserFailed, err: fmt.Errorf("browser failed to start: %w", err)}
	}
	fmt.Fprintln(a.out, "done")
	defer func() {
		if err := session.Close(); err != nil {
			log.Warn("browser close failed", zap.Error(err))
		}
	}()

	store := artifact.NewStore(artifact.Config{
		Dir:         cfg.Artifacts.Dir,
		MaxWidth:    cfg.Artifacts.MaxWidth,
		Timeline:    cfg.Artifacts.Timeline,
		MarkPointer: cfg.Artifacts.MarkPointer,
		Scale:       cfg.Browser.DeviceScaleFactor,
	}, log)

	fmt.Fprintf(a.out, "→ Booking at %s\n", cfg.TargetURL)
	orch := booking.New(bookingConfig(cfg), store, log, a.bookingOpts...)
	res := orch.Run(ctx, session.Page())

	if cfg.Artifacts.Timeline {
		if path, err := store.WriteTimeline(); err == nil {
			fmt.Fprintf(a.out, "  timeline: %s\n", path)
		} else if !errors.Is(err, artifact.ErrNoFrames) {
			log.Warn("timeline failed", zap.Error(err))
		}
	}

	printResult(a.out, res)
	return nil
}

// bookingConfig maps the loaded configuration onto one run
func bookingConfig(cfg *config.Config) booking.Config {
	fc := form.DefaultConfig()
	fc.Settle = cfg.Timeouts.FormSettle
	fc.FieldTimeout = cfg.Timeouts.Field

	return booking.Config{
		TargetURL:           cfg.TargetURL,
		Fields:              form.DefaultFields(form.Identity(cfg.Identity)),
		PageLoadTimeout:     cfg.Timeouts.PageLoad,
		FormOpenTimeout:     cfg.Timeouts.FormOpen,
		ConfirmationTimeout: cfg.Timeouts.Confirmation,
		PostConfirmWait:     cfg.Timeouts.PostConfirmWait,
		Activation:          activation.Config(cfg.Activation),
		Form:                fc,
	}
}

func printResult(w io.Writer, res booking.AttemptResult) {
	switch {
	case res.Booked():
		fmt.Fprintf(w, "✓ Booked %s\n", res.SlotLabel)
	case res.State == booking.Done:
		fmt.Fprintf(w, "? Submitted %s, confirmation %s\n", res.SlotLabel, res.Confirmation)
	case res.Abort == booking.NoSlots:
		fmt.Fprintln(w, "- No available slots")
	default:
		fmt.Fprintf(w, "✗ Aborted: %s\n", res.Abort)
		if res.Err != nil {
			fmt.Fprintf(w, "  error: %v\n", res.Err)
		}
	}
	if res.ArtifactPath != "" {
		fmt.Fprintf(w, "  artifact: %s\n", res.ArtifactPath)
	}
	fmt.Fprintf(w, "  run id: %s\n", res.RunID)
}
