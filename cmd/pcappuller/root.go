package main

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"pcappuller/internal/config"
	"pcappuller/internal/errors"
	"pcappuller/internal/paths"
	"pcappuller/internal/slogutil"
	"pcappuller/internal/version"
)

var (
	configFlag  string
	verboseFlag int
	quietFlag   bool
	logFileFlag string

	cfg       = config.DefaultConfig()
	logger    = slogutil.NewDiscardLogger()
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "pcappuller",
	Short: "Select capture files by time window and merge them",
	Long: `pcappuller finds rotating capture files under one or more directory trees,
keeps those whose packets fall inside a window of up to one calendar day, and
merges the survivors into a single trimmed capture.

Requires the Wireshark command-line tools (mergecap, editcap, and capinfos or
tshark when the matching features are used).`,
	Version:           version.Version,
	SilenceErrors:     true,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.SetVersionTemplate(version.Full() + "\n")
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return errors.Argument("%s", err.Error())
	})

	rootCmd.SetGlobalNormalizationFunc(normalizeFlagName)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFlag, "config", "", "Config file (default: config.yaml in the user config directory)")
	pf.CountVarP(&verboseFlag, "verbose", "v", "Enable debug logging")
	pf.BoolVarP(&quietFlag, "quiet", "q", false, "Suppress log output and progress")
	pf.StringVar(&logFileFlag, "log-file", "", "Also write logs to this file")
}

// normalizeFlagName accepts --batch_size as --batch-size.
func normalizeFlagName(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

// setup loads configuration and builds the process logger.
func setup(_ *cobra.Command, _ []string) error {
	res, err := config.LoadConfig(configFlag)
	if err != nil {
		return errors.New(errors.InvalidArgument, "failed to load configuration", err)
	}
	if err := res.Config.Validate(); err != nil {
		return errors.New(errors.InvalidArgument, "invalid configuration", err)
	}
	cfg = res.Config

	configured := slogutil.LevelFromString(cfg.Logging.Level)
	handler := slog.Handler(slogutil.NewHandler(os.Stderr, &slog.HandlerOptions{
		Level: slogutil.LevelFromVerbosity(verboseFlag, quietFlag, configured),
	}))

	logPath := logFileFlag
	if logPath == "" {
		logPath = cfg.Logging.File
	}
	if logPath != "" {
		fileLevel := slogutil.LevelFromVerbosity(verboseFlag, false, configured)
		fileLogger, closer, err := slogutil.NewFileLoggerWithRotation(paths.Expand(logPath), fileLevel,
			cfg.Logging.MaxSize, cfg.Logging.MaxBackups)
		if err != nil {
			return errors.Filesystem("failed to open log file "+logPath, err, true)
		}
		handler = slogutil.NewTeeHandler(handler, fileLogger.Handler())
		logCloser = closer
	}

	logger = slog.New(handler)
	if res.ConfigPath != "" {
		logger.Debug("loaded config", "path", res.ConfigPath)
	}
	return nil
}

func closeLogging() {
	if logCloser != nil {
		_ = logCloser.Close()
		logCloser = nil
	}
}
