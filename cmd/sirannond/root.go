package main

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	flagConfigFile string
	flagLogLevel   string
	flagLogFile    string
	flagLogJSON    bool
)

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "sirannond",
		Short:         "Sirannon embedded-relational-database platform daemon",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogger()
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigFile, "config", "", "path to a config file (yaml/toml/json)")
	cmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&flagLogFile, "log-file", "", "rotate logs to this file in addition to stderr")
	cmd.PersistentFlags().BoolVar(&flagLogJSON, "log-json", false, "emit JSON logs instead of console-pretty output")

	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newMigrateCommand())
	cmd.AddCommand(newBackupCommand())
	cmd.AddCommand(newDBCommand())

	return cmd
}

// setupLogger configures the package-global zerolog logger: console-pretty
// by default, JSON with --log-json, optionally tee'd to a rotating file via
// lumberjack when --log-file is set.
func setupLogger() {
	level, err := zerolog.ParseLevel(flagLogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var console io.Writer = os.Stderr
	if !flagLogJSON {
		console = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	}

	writers := []io.Writer{console}
	if flagLogFile != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   flagLogFile,
			MaxSize:    50,
			MaxBackups: 3,
			MaxAge:     28,
		})
	}

	log.Logger = zerolog.New(io.MultiWriter(writers...)).With().Timestamp().Logger()
}
