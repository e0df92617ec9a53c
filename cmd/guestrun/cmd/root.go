package cmd

import (
	"fmt"
	"os"

	"github.com/pumpkinos/guestcore"
	"github.com/spf13/cobra"
)

var (
	logLevel string
	crashDB  string
)

var rootCmd = &cobra.Command{
	Use:          "guestrun",
	Short:        "Run and inspect 68K guest applications",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "", "log level: error, info or trace (default from "+guestcore.ENV_DEBUG+")")
	rootCmd.PersistentFlags().StringVar(&crashDB, "crash-db", "", "directory of the crash and compatibility database")
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func baseConfig() (guestcore.Config, error) {
	cfg := guestcore.DefaultConfig()
	if logLevel != "" {
		level, ok := guestcore.ParseLogLevel(logLevel)
		if !ok {
			return cfg, fmt.Errorf("unknown log level %q", logLevel)
		}
		cfg.LogLevel = level
	}
	return cfg, nil
}

func openCrashDB() (*guestcore.CrashStore, error) {
	if crashDB == "" {
		return nil, nil
	}
	return guestcore.OpenCrashStore(crashDB, nil)
}
