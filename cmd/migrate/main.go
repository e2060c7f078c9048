package main

import (
	"database/sql"
	"fmt"
	"os"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
	"github.com/tullo/bazaar/config"
	"github.com/tullo/bazaar/internal/database"
	"github.com/tullo/bazaar/pkg/logger"
	"go.uber.org/zap"
)

type Options struct {
	DSN      string
	LogLevel string
}

func main() {
	opt := &Options{}

	root := &cobra.Command{
		Use:          "migrate",
		Short:        "Manage the bazaar database schema",
		SilenceUsage: true,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&opt.DSN, "database-dsn", os.Getenv("BAZAAR_DATABASE_DSN"), "Postgres DSN; defaults to the DB_* environment")
	flags.StringVar(&opt.LogLevel, "log-level", "info", "Log level (debug,info,warn,error)")

	root.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply every pending migration",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return opt.withDB(func(db *sql.DB, log *logger.Logger) error {
					return database.RunMigrations(db, log)
				})
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return opt.withDB(func(db *sql.DB, log *logger.Logger) error {
					version, err := database.RollbackLast(db, log)
					if err != nil {
						return err
					}
					if version == 0 {
						fmt.Fprintln(cmd.OutOrStdout(), "Nothing to roll back")
						return nil
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Rolled back migration %d\n", version)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "List applied migrations",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return opt.withDB(func(db *sql.DB, _ *logger.Logger) error {
					applied, err := database.Applied(db)
					if err != nil {
						return err
					}
					out := cmd.OutOrStdout()
					fmt.Fprintln(out, "Applied migrations:")
					for _, m := range applied {
						fmt.Fprintf(out, "  %d - %s\n", m.Version, m.AppliedAt.Format("2006-01-02 15:04:05"))
					}
					if len(applied) == 0 {
						fmt.Fprintln(out, "  (none)")
					}
					return nil
				})
			},
		},
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// withDB resolves the DSN, opens the database and runs fn against it.
func (o *Options) withDB(fn func(db *sql.DB, log *logger.Logger) error) error {
	log, err := logger.New(o.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	dsn := o.DSN
	if dsn == "" {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		dsn = cfg.GetDSN()
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := fn(db, log); err != nil {
		log.Error("migration command failed", zap.Error(err))
		return err
	}
	return nil
}
