package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sizemap/pkg/config"
	"github.com/sizemap/pkg/selfprof"
	"github.com/sizemap/pkg/telemetry"
	"github.com/sizemap/pkg/utils"
)

// skipSetup marks commands that run without config, telemetry or profiling.
const skipSetup = "skip-setup"

var (
	// Global flags
	verbose    bool
	configFile string

	// Self-profiling flags
	profileEnabled bool
	profileMode    string
	profileDir     string
	profileTypes   string
	profileAddr    string

	logger            utils.Logger = &utils.NullLogger{}
	cfg               *config.Config
	profiler          *selfprof.Profiler
	telemetryShutdown telemetry.ShutdownFunc
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "sizemap",
	Short: "Break a binary's size down into a treemap",
	Long: `sizemap reads the symbol table of an ELF, Mach-O or PE binary (or an
"nm -S" listing), groups symbols by namespace, and lays the result out as a
squarified treemap.

Outputs include a JSON layout, a standalone HTML page, an SVG drawing, folded
stacks for flame graph tools, a pprof profile and a Markdown summary.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Annotations[skipSetup] == "true" {
			logger = newLogger(utils.LevelWarn)
			return nil
		}

		var err error
		cfg, err = config.Load(configFile)
		if err != nil {
			return err
		}
		if err := setupLogger(cfg.Log); err != nil {
			return err
		}

		telemetryShutdown, err = telemetry.Init(cmd.Context(), nil)
		if err != nil {
			logger.Warn("Tracing disabled: %v", err)
			telemetryShutdown = nil
		}

		if profileEnabled {
			pcfg, err := buildProfileConfig()
			if err != nil {
				return err
			}
			if profiler, err = selfprof.New(pcfg, logger); err != nil {
				return err
			}
			if err := profiler.Start(); err != nil {
				return err
			}
			logger.Info("Self-profiling started (mode: %s)", pcfg.Mode)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		teardown()
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	err := rootCmd.ExecuteContext(ctx)
	// Post-run hooks are skipped when a command fails.
	teardown()
	if err != nil {
		os.Exit(1)
	}
}

// teardown stops the profiler and flushes traces. It is safe to call twice.
func teardown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if profiler != nil {
		files, err := profiler.Stop(ctx)
		if err != nil {
			logger.Warn("Failed to stop profiler: %v", err)
		}
		for _, f := range files {
			logger.Info("Profile written: %s", f)
		}
		profiler = nil
	}
	if telemetryShutdown != nil {
		if err := telemetryShutdown(ctx); err != nil {
			logger.Warn("Failed to flush traces: %v", err)
		}
		telemetryShutdown = nil
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file (default: search ./sizemap.yaml, ./configs, ~/.config/sizemap, /etc/sizemap)")

	rootCmd.PersistentFlags().BoolVar(&profileEnabled, "profile", false, "Profile sizemap itself while it runs")
	rootCmd.PersistentFlags().StringVar(&profileMode, "profile-mode", "file", "Profiling mode: file (written on exit) or http (on-demand)")
	rootCmd.PersistentFlags().StringVar(&profileDir, "profile-dir", "./pprof", "Output directory for profiles in file mode")
	rootCmd.PersistentFlags().StringVar(&profileTypes, "profile-types", "cpu,heap", "Comma-separated profiles: cpu,heap,goroutine,block,mutex,allocs")
	rootCmd.PersistentFlags().StringVar(&profileAddr, "profile-addr", "localhost:6060", "Listen address in http mode")

	binName := BinName()
	rootCmd.Example = `  # Break a binary down into JSON and HTML treemaps
  ` + binName + ` analyze -i ./app -o ./out

  # Analyze an nm listing and draw an SVG
  ` + binName + ` analyze -i ./app.nm --format nm -f svg

  # Serve the HTTP API
  ` + binName + ` serve --addr :8080

  # Compare two stored reports
  ` + binName + ` history --diff <before-id> <after-id>

  # Convert hex in a readelf dump to decimal
  readelf -S ./app | ` + binName + ` hex2dec`
}

// GetLogger returns the configured logger
func GetLogger() utils.Logger {
	return logger
}

// BinName returns the base name of the current executable
func BinName() string {
	return filepath.Base(os.Args[0])
}

func newLogger(level utils.LogLevel) *utils.DefaultLogger {
	if verbose {
		level = utils.LevelDebug
	}
	return utils.NewDefaultLogger(level, os.Stderr)
}

// setupLogger logs to stderr, or to log.output_path when set, so command
// output on stdout stays clean.
func setupLogger(lc config.LogConfig) error {
	level := utils.ParseLogLevel(lc.Level)
	if verbose {
		level = utils.LevelDebug
	}
	if lc.OutputPath == "" {
		logger = newLogger(level)
	} else {
		fl, err := utils.NewFileLogger(level, lc.OutputPath)
		if err != nil {
			return err
		}
		logger = fl
	}
	utils.SetGlobalLogger(logger)
	return nil
}

func buildProfileConfig() (*selfprof.Config, error) {
	pcfg := selfprof.DefaultConfig()
	pcfg.Mode = selfprof.Mode(profileMode)
	pcfg.Dir = profileDir
	pcfg.Addr = profileAddr

	profiles, err := selfprof.ParseProfiles(profileTypes)
	if err != nil {
		return nil, err
	}
	pcfg.Profiles = profiles

	if err := pcfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid profiling flags: %w", err)
	}
	return pcfg, nil
}
