package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kozaktomas/attendance/internal/config"
	"github.com/kozaktomas/attendance/internal/logger"
)

var (
	cfg            *config.Config
	restoreLogger  = func() {}
	logLevelFlag   string
	dataDirFlag    string
)

var rootCmd = &cobra.Command{
	Use:   "attendance",
	Short: "Face recognition attendance for school classes",
	Long: `Attendance keeps class rosters with reference face descriptors, recognizes
students on a group photo and stores every attendance session as a report.

Face detection is delegated to an external detector service (DETECTOR_URL).
Rosters and sessions live in a data directory or in PostgreSQL.`,
	SilenceUsage:      true,
	PersistentPreRunE: initConfig,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		restoreLogger()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level (debug, info, warn, error); overrides LOG_LEVEL")
	rootCmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "", "Data directory; overrides DATA_DIR")
}

// initConfig loads .env, the configuration and the global logger before any command runs.
func initConfig(cmd *cobra.Command, args []string) error {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()

	cfg = config.Load()
	if logLevelFlag != "" {
		cfg.Log.Level = logLevelFlag
	}
	if dataDirFlag != "" {
		cfg.Storage.DataDir = dataDirFlag
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	l, err := logger.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	restoreLogger = logger.Install(l)
	zap.L().Debug("configuration loaded",
		zap.String("storage", cfg.Storage.Driver),
		zap.String("detector", cfg.Detector.URL),
		zap.String("policy", cfg.Enrollment.Policy))
	return nil
}
