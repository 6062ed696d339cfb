// Command dbexec-demo exercises a DbClient end to end against either the
// sqlite or postgres driver, for manual smoke-testing and as a runnable
// example of Registration wiring. It is not part of the configuration
// surface the engine exposes — an ambient dev-tooling concern, built as a
// cobra root-command-plus-subcommands tree.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/corvid-systems/dbexec/internal/dbexec"
	"github.com/corvid-systems/dbexec/internal/dbexec/datasource"
	"github.com/corvid-systems/dbexec/internal/dbexec/executor"
	"github.com/corvid-systems/dbexec/pkg/logger"
)

func main() {
	var logFormat, logOutput, logFile string

	root := newRootCommand(&logFormat, &logOutput, &logFile)
	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		l := logger.NewLogger(logger.Config{
			Level:    "info",
			Format:   logFormat,
			Output:   logOutput,
			Filename: logFile,
			MaxSize:  10,
			MaxAge:   7,
		})
		slog.SetDefault(l)
		cmd.SetContext(context.WithValue(cmd.Context(), loggerContextKey{}, l))
	}

	if err := root.ExecuteContext(context.Background()); err != nil {
		slog.Default().Error("dbexec-demo failed", "error", err)
		os.Exit(1)
	}
}

type loggerContextKey struct{}

func loggerFromCommand(cmd *cobra.Command) *slog.Logger {
	if l, ok := cmd.Context().Value(loggerContextKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

func newRootCommand(logFormat, logOutput, logFile *string) *cobra.Command {
	var driver string
	var dsn string

	root := &cobra.Command{
		Use:   "dbexec-demo",
		Short: "Exercise the dbexec execution engine against a live connection",
	}
	root.PersistentFlags().StringVar(&driver, "driver", "sqlite", "driver to use: sqlite or postgres")
	root.PersistentFlags().StringVar(&dsn, "dsn", "file::memory:?cache=shared", "connection string for the chosen driver")
	root.PersistentFlags().StringVar(logFormat, "log-format", "text", "log output format: text or json")
	root.PersistentFlags().StringVar(logOutput, "log-output", "stdout", "log destination: stdout, stderr, or file")
	root.PersistentFlags().StringVar(logFile, "log-file", "", "log file path, rotated via lumberjack, when --log-output=file")

	viper.SetDefault("driver", "sqlite")
	viper.SetDefault("dsn", "file::memory:?cache=shared")
	viper.AutomaticEnv()

	root.AddCommand(pingCommand(&driver, &dsn))
	root.AddCommand(execCommand(&driver, &dsn))

	return root
}

func buildRegistration(driver, dsn string, logger *slog.Logger) (*dbexec.Registration, error) {
	opts := dbexec.DefaultDbOptions()
	opts.ConnectionStrings[opts.DefaultConnectionName] = dsn

	var factory datasource.Factory
	switch driver {
	case "postgres":
		factory = &datasource.PgxFactory{Logger: logger}
	default:
		factory = &datasource.SqliteFactory{Logger: logger}
	}

	return dbexec.NewRegistration(dbexec.RegistrationDeps{
		Options:            opts,
		Resilience:         dbexec.DefaultDbResilienceOptions(),
		SourceFactory:      factory,
		Logger:             logger,
		MaxCachedSources:   8,
		MaxCachedPipelines: 8,
	})
}

func pingCommand(driver, dsn *string) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Open a connection and run SELECT 1",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := loggerFromCommand(cmd)
			reg, err := buildRegistration(*driver, *dsn, logger)
			if err != nil {
				return err
			}
			defer reg.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			value, found, err := executor.ExecuteScalar[int64](ctx, reg.Client(), dbexec.NewTextQuery("SELECT 1"))
			if err != nil {
				return fmt.Errorf("ping failed: %w", err)
			}
			if !found {
				return fmt.Errorf("ping returned no rows")
			}
			logger.Info("ping succeeded", "value", value)
			return nil
		},
	}
}

func execCommand(driver, dsn *string) *cobra.Command {
	var commandText string

	cmd := &cobra.Command{
		Use:   "exec",
		Short: "Run a non-query command (CREATE TABLE, INSERT, etc.)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if commandText == "" {
				return fmt.Errorf("--command is required")
			}
			logger := loggerFromCommand(cmd)
			reg, err := buildRegistration(*driver, *dsn, logger)
			if err != nil {
				return err
			}
			defer reg.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			affected, err := reg.Client().ExecuteNonQuery(ctx, dbexec.NewTextQuery(commandText))
			if err != nil {
				return fmt.Errorf("exec failed: %w", err)
			}
			logger.Info("exec succeeded", "rows_affected", affected)
			return nil
		},
	}
	cmd.Flags().StringVar(&commandText, "command", "", "SQL text to execute")
	return cmd
}
