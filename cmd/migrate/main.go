// cmd/migrate/main.go
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/unclebandit/promopal-backend/internal/config"
	"github.com/unclebandit/promopal-backend/internal/db"
	"github.com/unclebandit/promopal-backend/internal/logger"
)

func main() {
	seedDir := flag.String("seed-dir", "", "directory of .sql seed files to run after migrating, in name order")
	skipMigrate := flag.Bool("seed-only", false, "run seed files without applying migrations")
	flag.Parse()

	cfg, _, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	defer func() { _ = log.Sync() }()

	files, err := seedFiles(*seedDir, flag.Args())
	if err != nil {
		log.Fatal("collect seed files", zap.Error(err))
	}

	ctx := context.Background()
	conn, err := db.Open(ctx, cfg, log)
	if err != nil {
		log.Fatal("open database", zap.Error(err))
	}
	defer conn.Close()

	if !*skipMigrate {
		if err := db.Migrate(conn, log); err != nil {
			log.Fatal("migrate", zap.Error(err))
		}
	}

	for _, file := range files {
		if err := seed(ctx, conn, file); err != nil {
			log.Fatal("seed failed", zap.String("file", file), zap.Error(err))
		}
		log.Info("seeded", zap.String("file", file))
	}
}

// seedFiles returns the .sql files in dir followed by any explicit paths.
func seedFiles(dir string, extra []string) ([]string, error) {
	var files []string
	if dir != "" {
		matches, err := filepath.Glob(filepath.Join(dir, "*.sql"))
		if err != nil {
			return nil, err
		}
		sort.Strings(matches)
		files = append(files, matches...)
	}
	return append(files, extra...), nil
}

func seed(ctx context.Context, conn *sql.DB, file string) error {
	content, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read %s: %w", file, err)
	}
	return db.Tx(ctx, conn, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, string(content))
		return err
	})
}
