package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/abhisek/tutorium/internal/app"
	"github.com/abhisek/tutorium/internal/config"
	"github.com/abhisek/tutorium/internal/logger"
	"github.com/abhisek/tutorium/internal/store"
)

// v holds defaults, TUTORIUM_* env vars, the config file and bound flags.
var v = config.New()

var rootCmd = &cobra.Command{
	Use:          "tutorium",
	Short:        "AI study tutor for uploaded course material",
	Long:         "Tutorium answers questions from lecture notes, generates and grades quizzes, and records learning trajectories.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if f, _ := cmd.Flags().GetString("config"); f != "" {
			v.SetConfigFile(f)
		}
		return nil
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "Path to a tutorium.yaml config file")
	pf.String("db", "", "Path to SQLite database file (overrides TUTORIUM_DATABASE_PATH)")
	pf.String("log-level", "", "Log level (debug, info, warn, error)")
	pf.String("locale", "", "Default message locale")

	_ = v.BindPFlag("database.path", pf.Lookup("db"))
	_ = v.BindPFlag("logging.level", pf.Lookup("log-level"))
	_ = v.BindPFlag("locale", pf.Lookup("locale"))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(embedCmd)
	rootCmd.AddCommand(problemsCmd)
	rootCmd.AddCommand(trajectoriesCmd)
	rootCmd.AddCommand(llmCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads the merged configuration and builds the logger from it.
func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(v)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(logger.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

// newApp loads configuration and wires every service. Callers must Close
// the app and Sync the logger.
func newApp(ctx context.Context) (*app.App, *zap.Logger, error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	a, err := app.New(ctx, cfg, log, app.Options{})
	if err != nil {
		_ = log.Sync()
		return nil, nil, err
	}
	return a, log, nil
}

// resolveDBPath returns the configured database path, falling back to
// TUTORIUM_DB and then the default XDG path.
func resolveDBPath(vp *viper.Viper) (string, error) {
	if p := vp.GetString("database.path"); p != "" {
		return p, store.EnsureDir(p)
	}
	return store.DefaultDBPath()
}

// openStore opens the database without building the rest of the app.
func openStore() (*store.Store, error) {
	dbPath, err := resolveDBPath(v)
	if err != nil {
		return nil, fmt.Errorf("resolve database path: %w", err)
	}
	s, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return s, nil
}
