package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bigbio/sdrf-validate/internal/app"
	"github.com/bigbio/sdrf-validate/internal/config"
	"github.com/bigbio/sdrf-validate/internal/logging"
	"github.com/bigbio/sdrf-validate/internal/report"
	"github.com/bigbio/sdrf-validate/internal/schema"
	"github.com/bigbio/sdrf-validate/internal/taxonomy"
	"github.com/bigbio/sdrf-validate/internal/validate"
	"github.com/bigbio/sdrf-validate/internal/version"
	"github.com/bigbio/sdrf-validate/pkg/ols"
	"github.com/bigbio/sdrf-validate/pkg/pipeline/redact"
	"github.com/bigbio/sdrf-validate/pkg/pipeline/retry"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

// exitConfig is returned for configuration and usage errors.
const exitConfig = 2

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// exitError carries a process exit code out of a cobra command.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

func configError(err error) error {
	return &exitError{code: exitConfig, msg: "config error: " + redact.Secrets(err.Error())}
}

type options struct {
	configPath string
	verbose    int

	root          string
	workers       int
	bundles       string
	basicFailFast bool
	color         string

	olsURL      string
	olsToken    string
	olsRPS      float64
	olsTimeout  time.Duration
	olsAttempts int

	logLevel  string
	logFormat string

	templatesDir string
}

func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	code := 0
	cmd := newRootCommand(stdout, &code)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	if err := cmd.ExecuteContext(ctx); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			_, _ = fmt.Fprintln(stderr, ee.msg)
			return ee.code
		}
		_, _ = fmt.Fprintf(stderr, "%s\n", redact.Secrets(err.Error()))
		return exitConfig
	}
	return code
}

func newRootCommand(stdout io.Writer, code *int) *cobra.Command {
	o := &options{}
	validateRun := func(cmd *cobra.Command, args []string) error {
		c, err := runValidate(cmd, o, args, stdout)
		*code = c
		return err
	}

	root := &cobra.Command{
		Use:   "sdrf-validate [project...]",
		Short: "Validate SDRF sample metadata of annotated projects",
		Long: `sdrf-validate checks every *.sdrf.tsv file of each project directory under the
submission root against the default, organism-specific and mass spectrometry
bundles, and prints one status line per project followed by a summary.

The exit code is the number of projects with validation errors (capped at 255),
or 2 for configuration errors.`,
		Version:       version.Current,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          validateRun,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&o.configPath, "config", "", "YAML configuration file")
	pf.CountVarP(&o.verbose, "verbose", "v", "Print diagnostics: -v collapses warnings, -vv prints everything")
	pf.StringVar(&o.bundles, "bundles", "", "YAML file replacing the built-in bundles (env: SDRF_BUNDLES)")
	pf.StringVar(&o.color, "color", "", "Color output: auto, on or off")
	pf.StringVar(&o.logLevel, "log-level", "", "Log level: debug, info, warn or error (env: LOG_LEVEL)")
	pf.StringVar(&o.logFormat, "log-format", "", "Log format: console or json (env: LOG_FORMAT)")
	addValidateFlags(root.Flags(), o)

	validateCmd := &cobra.Command{
		Use:   "validate [project...]",
		Short: "Validate projects (the default command)",
		Args:  cobra.ArbitraryArgs,
		RunE:  validateRun,
	}
	addValidateFlags(validateCmd.Flags(), o)

	templatesCmd := &cobra.Command{
		Use:   "templates",
		Short: "Check template files against the bundle column declarations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := runTemplates(cmd, o, stdout)
			*code = c
			return err
		},
	}
	templatesCmd.Flags().StringVar(&o.templatesDir, "dir", "templates", "Directory holding sdrf-<name>.tsv templates")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "sdrf-validate %s\n", version.Current)
		},
	}

	root.AddCommand(validateCmd, templatesCmd, versionCmd)
	return root
}

func addValidateFlags(fs *pflag.FlagSet, o *options) {
	fs.StringVar(&o.root, "root", "", "Submission root; every directory below it is a project (env: SDRF_ROOT)")
	fs.IntVar(&o.workers, "workers", 0, "Files validated concurrently within a project (env: WORKERS)")
	fs.BoolVar(&o.basicFailFast, "basic-fail-fast", true, "Skip later bundles once the default bundle fails (env: BASIC_FAIL_FAST)")
	fs.StringVar(&o.olsURL, "ols-url", "", "OLS base URL (env: OLS_BASE_URL)")
	fs.StringVar(&o.olsToken, "ols-token", "", "Bearer token for OLS (env: OLS_TOKEN)")
	fs.Float64Var(&o.olsRPS, "ols-rps", 0, "OLS request rate limit, 0 disables (env: OLS_RATE_LIMIT_RPS)")
	fs.DurationVar(&o.olsTimeout, "ols-timeout", 0, "Per-attempt OLS request timeout (env: OLS_REQUEST_TIMEOUT)")
	fs.IntVar(&o.olsAttempts, "ols-attempts", 0, "Attempts per OLS call (env: OLS_MAX_ATTEMPTS)")
}

// resolveConfig layers changed flags over the file and environment configuration.
func resolveConfig(fs *pflag.FlagSet, o *options) (config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, err
	}
	set := func(name string, apply func()) {
		if f := fs.Lookup(name); f != nil && f.Changed {
			apply()
		}
	}
	set("root", func() { cfg.Root = o.root })
	set("workers", func() { cfg.Workers = o.workers })
	set("bundles", func() { cfg.Bundles = o.bundles })
	set("basic-fail-fast", func() { cfg.BasicFailFast = o.basicFailFast })
	set("color", func() { cfg.Color = o.color })
	set("ols-url", func() { cfg.OLS.BaseURL = o.olsURL })
	set("ols-token", func() { cfg.OLS.Token = o.olsToken })
	set("ols-rps", func() { cfg.OLS.RateLimitRPS = o.olsRPS })
	set("ols-timeout", func() { cfg.OLS.RequestTimeout = o.olsTimeout })
	set("ols-attempts", func() { cfg.OLS.MaxAttempts = o.olsAttempts })
	set("log-level", func() { cfg.Log.Level = o.logLevel })
	set("log-format", func() { cfg.Log.Format = o.logFormat })
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func loadRegistry(cfg config.Config) (*schema.Registry, error) {
	if cfg.Bundles == "" {
		return schema.Builtin(), nil
	}
	return schema.LoadRegistryFile(cfg.Bundles)
}

func runValidate(cmd *cobra.Command, o *options, projects []string, stdout io.Writer) (int, error) {
	ctx := cmd.Context()
	cfg, err := resolveConfig(cmd.Flags(), o)
	if err != nil {
		return exitConfig, configError(err)
	}
	mode, err := report.ParseColorMode(cfg.Color)
	if err != nil {
		return exitConfig, configError(err)
	}
	reg, err := loadRegistry(cfg)
	if err != nil {
		return exitConfig, configError(err)
	}
	logger, _, err := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return exitConfig, configError(err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	client, err := ols.NewClient(cfg.OLS.BaseURL, ols.Options{
		Token:         cfg.OLS.Token,
		DefaultCAPath: cfg.OLS.DefaultCAPath,
	})
	if err != nil {
		return exitConfig, configError(err)
	}
	classifier := taxonomy.New(client, taxonomy.Options{
		Retry: retry.Policy{
			MaxAttempts:       cfg.OLS.MaxAttempts,
			RequestTimeout:    cfg.OLS.RequestTimeout,
			Limiter:           retry.NewLimiter(cfg.OLS.RateLimitRPS),
			BackoffInitial:    cfg.OLS.BackoffInitial,
			BackoffMax:        cfg.OLS.BackoffMax,
			BackoffJitterFrac: 0.2,
		},
		Logger: logger.Named("taxonomy"),
	})
	engine := validate.New(reg, classifier, logger.Named("validate"))
	engine.StopOnBasicFailure = cfg.BasicFailFast

	logger.Debug("configuration resolved",
		zap.String("root", cfg.Root),
		zap.String("ols_base_url", cfg.OLS.BaseURL),
		zap.Int("workers", cfg.Workers),
		zap.Bool("basic_fail_fast", cfg.BasicFailFast),
	)

	summary, err := app.Run(ctx, app.RunConfig{
		Root:      cfg.Root,
		Projects:  projects,
		Workers:   cfg.Workers,
		Validator: engine,
		Printer:   report.NewPrinter(stdout, min(o.verbose, report.Full), mode),
		Logger:    logger,
	})
	if err != nil {
		if ctx.Err() != nil {
			logger.Warn("run interrupted", zap.Int("checked", summary.Checked), zap.Int("total", summary.Total))
			return summary.ExitCode(), nil
		}
		return exitConfig, &exitError{code: exitConfig, msg: "run failed: " + redact.Secrets(err.Error())}
	}
	return summary.ExitCode(), nil
}

func runTemplates(cmd *cobra.Command, o *options, stdout io.Writer) (int, error) {
	cfg, err := resolveConfig(cmd.Flags(), o)
	if err != nil {
		return exitConfig, configError(err)
	}
	mode, err := report.ParseColorMode(cfg.Color)
	if err != nil {
		return exitConfig, configError(err)
	}
	reg, err := loadRegistry(cfg)
	if err != nil {
		return exitConfig, configError(err)
	}
	errs, err := app.CheckTemplates(o.templatesDir, reg, report.NewPrinter(stdout, o.verbose, mode))
	if err != nil {
		return exitConfig, &exitError{code: exitConfig, msg: err.Error()}
	}
	return min(errs, 255), nil
}
