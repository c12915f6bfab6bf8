package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JhoanJoSw/correo-alumnos-unmsm/internal/config"
	"github.com/JhoanJoSw/correo-alumnos-unmsm/internal/credentials"
)

var rootCmd = &cobra.Command{
	Use:          "correo-alumnos",
	Short:        "Bulk personalized mail dispatch for student lists",
	SilenceUsage: true,
	RunE:         runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP workflow and metrics servers",
	RunE:  runServe,
}

var checkSMTPCmd = &cobra.Command{
	Use:   "check-smtp",
	Short: "Open and authenticate one SMTP session with the saved credentials",
	RunE:  runCheckSMTP,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply history database migrations",
	RunE:  runMigrate,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent dispatch batches",
	RunE:  runHistory,
}

func init() {
	checkSMTPCmd.Flags().String("host", "", "SMTP host (defaults to the saved value)")
	checkSMTPCmd.Flags().Int("port", 0, "SMTP port (defaults to the saved value)")
	historyCmd.Flags().Int("limit", 20, "number of batches to list")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(checkSMTPCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(historyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setup exports the saved credential file, then loads the configuration and
// builds the logger every command uses. Variables already set in the
// environment win over the file.
func setup() (*config.Config, *credentials.Store, *zap.Logger, error) {
	store := credentials.New(config.CredentialsPath())
	loadErr := store.LoadEnv()

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	var logger *zap.Logger
	if cfg.LogDevelopment {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to build logger: %w", err)
	}

	if loadErr != nil {
		logger.Warn("failed to load saved credentials",
			zap.String("path", store.Path),
			zap.Error(loadErr),
		)
	}

	return cfg, store, logger, nil
}
