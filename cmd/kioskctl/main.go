package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/jmerrifield20/kiosktrust/internal/ledger"
	"github.com/jmerrifield20/kiosktrust/migrations"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

var (
	cfgFile     string
	databaseURL string
	verbose     bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "kioskctl",
	Short: "Operator CLI for the kiosk trust services",
	Long: `kioskctl inspects and verifies the kiosk ledger and works with the
PII envelope offline. It also mints admin sessions for kioskd.

Settings are read from --config, then ./configs/kioskd.yaml, then the
environment (DATABASE_URL, CRYPTO_MASTER_SECRET, ...).`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			viper.AddConfigPath("configs")
			viper.AddConfigPath(".")
			viper.SetConfigName("kioskd")
			viper.SetConfigType("yaml")
		}
		viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if databaseURL == "" {
			databaseURL = viper.GetString("database.url")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./configs/kioskd.yaml)")
	rootCmd.PersistentFlags().StringVar(&databaseURL, "database", "", "PostgreSQL URL (default from database.url)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log store activity to stderr")

	rootCmd.AddCommand(ledgerCmd)
	rootCmd.AddCommand(envelopeCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(versionCmd)
}

// ── shared ───────────────────────────────────────────────────────────────────

func newLogger() *zap.Logger {
	if !verbose {
		return zap.NewNop()
	}
	l, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// openPool connects to databaseURL. The caller closes the pool.
func openPool(ctx context.Context) (*pgxpool.Pool, error) {
	if databaseURL == "" {
		return nil, errors.New("no database configured: pass --database or set DATABASE_URL")
	}
	db, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// openLedger returns a ledger over the configured database and a release
// func.
func openLedger(ctx context.Context) (*ledger.Ledger, func(), error) {
	db, err := openPool(ctx)
	if err != nil {
		return nil, nil, err
	}
	logger := newLogger()
	store := ledger.NewPostgresStore(db, viper.GetDuration("ledger.lock_timeout"), logger)
	return ledger.New(store, logger), db.Close, nil
}

// ── migrate ──────────────────────────────────────────────────────────────────

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := openPool(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		out := cmd.OutOrStdout()
		n, err := migrations.Apply(ctx, db, func(format string, a ...any) {
			fmt.Fprintf(out, format+"\n", a...)
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "applied %d migration(s)\n", n)
		return nil
	},
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the kioskctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "kioskctl %s\n", version)
	},
}
