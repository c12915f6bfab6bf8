package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JhoanJoSw/correo-alumnos-unmsm/internal/credentials"
	"github.com/JhoanJoSw/correo-alumnos-unmsm/internal/db"
	"github.com/JhoanJoSw/correo-alumnos-unmsm/internal/email"
)

var errNoDatabase = errors.New("DATABASE_URL is not set")

func runCheckSMTP(cmd *cobra.Command, args []string) error {

	cfg, store, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	creds := store.Defaults()
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		creds.Host = host
	}
	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		creds.Port = port
	}
	if creds.Email == "" || creds.AppPassword == "" {
		return fmt.Errorf("%s and %s must be saved in %s or set in the environment",
			credentials.KeyEmail, credentials.KeyAppPassword, cfg.CredentialsFile)
	}

	dialer := &email.SMTPDialer{
		Timeout:     cfg.SMTPDialTimeout,
		SendTimeout: cfg.SMTPSendTimeout,
		Retries:     cfg.SMTPConnectRetries,
		Log:         logger,
	}

	sess, err := dialer.Dial(cmd.Context(), creds)
	if err != nil {
		return err
	}
	if err := sess.Close(); err != nil {
		logger.Warn("smtp session close failed", zap.Error(err))
	}

	fmt.Fprintf(cmd.OutOrStdout(), "SMTP OK: %s\n", creds)
	return nil
}

func openStore(ctx context.Context) (*db.Store, *zap.Logger, error) {

	cfg, _, logger, err := setup()
	if err != nil {
		return nil, nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, nil, errNoDatabase
	}

	store, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return store, logger, nil
}

func runMigrate(cmd *cobra.Command, args []string) error {

	store, logger, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer store.Close()
	defer logger.Sync()

	if err := store.Migrate(cmd.Context(), logger); err != nil {
		return err
	}

	logger.Info("migrations completed successfully")
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {

	store, logger, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer store.Close()
	defer logger.Sync()

	limit, _ := cmd.Flags().GetInt("limit")
	batches, err := store.RecentBatches(cmd.Context(), limit)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "BATCH\tSENDER\tSTARTED\tTOTAL\tSENT\tFAILED\tELAPSED")
	for _, b := range batches {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			b.ID,
			b.Sender,
			b.StartedAt.Local().Format(time.DateTime),
			b.Total,
			b.Sent,
			b.Failed,
			b.FinishedAt.Sub(b.StartedAt).Round(time.Second),
		)
	}
	return tw.Flush()
}
