// Package cli implements the adaptive-memory CLI commands.
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/daz2208/adaptive-memory/internal/config"
	"github.com/daz2208/adaptive-memory/internal/store"
)

var (
	dbPath  string
	cfgPath string
	verbose bool
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "adaptive-memory",
	Short: "Adaptive learning and memory engine",
	Long:  "A personalization engine that learns rules and preferences from feedback, recalls memories by similarity, and decides when to act on its own. SQLite-backed, single binary.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Database path (default: $ADAPTIVE_DATABASE_PATH or ~/.adaptive-memory/memory.db)")
	RootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "Config file (YAML)")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log engine internals to stderr")
}

func loadConfig() (config.Config, error) {
	return config.Load(cfgPath)
}

func getDBPath(cfg config.Config) string {
	if dbPath != "" {
		return dbPath
	}
	if cfg.Database.Path != "" {
		return cfg.Database.Path
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".adaptive-memory", "memory.db")
}

func newLogger() *zap.Logger {
	if !verbose {
		return zap.NewNop()
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func openStore() (*store.Store, config.Config, *zap.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, cfg, nil, err
	}
	path := getDBPath(cfg)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, cfg, nil, fmt.Errorf("create db directory: %w", err)
	}
	logger := newLogger()
	s, err := store.Open(path, cfg, logger)
	if err != nil {
		return nil, cfg, nil, err
	}
	return s, cfg, logger, nil
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
