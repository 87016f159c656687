package database

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"

	"github.com/iliyamo/sunnah-audio/internal/config"
)

// Migrate applies every pending migration found in cfg.MigrationsDir.
func Migrate(cfg config.MySQLConfig, log *zap.Logger) error {
	dir, err := filepath.Abs(cfg.MigrationsDir)
	if err != nil {
		return fmt.Errorf("migrations dir: %w", err)
	}
	dsn := DSN(cfg, map[string]string{"multiStatements": "true"})

	m, err := migrate.New("file://"+filepath.ToSlash(dir), "mysql://"+dsn)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Info("no migrations to apply")
			return nil
		}
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	v, _, _ := m.Version()
	log.Info("migrations applied", zap.Uint("version", v))
	return nil
}
