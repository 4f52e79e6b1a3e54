// Package database はPostgreSQLの接続プールとスキーママイグレーションを提供する。
// マイグレーションSQLはバイナリに埋め込まれ、distrolessイメージ単体で適用できる。
package database

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MigrationStatus は適用済みスキーマの状態を表す。
type MigrationStatus struct {
	// Version は最後に適用したマイグレーション番号。未適用の場合は0。
	Version uint
	// Dirty は前回のマイグレーションが途中で失敗したことを示す。手動での修復が必要。
	Dirty bool
}

// NewMigrator は埋め込みマイグレーションを読み込んだmigrateインスタンスを生成する。
func NewMigrator(databaseURL string) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	return m, nil
}

// RunMigrations は未適用のマイグレーションをすべて適用する。
// すでに最新の場合はエラーなしで返る。
func RunMigrations(databaseURL string) error {
	return withMigrator(databaseURL, func(m *migrate.Migrate) error {
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		logStatus(m, "migrations applied")
		return nil
	})
}

// RollbackMigrations は直近のマイグレーションをsteps件だけ取り消す。
func RollbackMigrations(databaseURL string, steps int) error {
	if steps <= 0 {
		return fmt.Errorf("rollback steps must be positive: %d", steps)
	}
	return withMigrator(databaseURL, func(m *migrate.Migrate) error {
		if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("failed to roll back migrations: %w", err)
		}
		logStatus(m, "migrations rolled back")
		return nil
	})
}

// GetMigrationStatus は現在のスキーマバージョンを返す。
func GetMigrationStatus(databaseURL string) (MigrationStatus, error) {
	var status MigrationStatus
	err := withMigrator(databaseURL, func(m *migrate.Migrate) error {
		var err error
		status, err = currentStatus(m)
		return err
	})
	return status, err
}

func withMigrator(databaseURL string, fn func(m *migrate.Migrate) error) error {
	m, err := NewMigrator(databaseURL)
	if err != nil {
		return err
	}
	defer m.Close()
	return fn(m)
}

func currentStatus(m *migrate.Migrate) (MigrationStatus, error) {
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return MigrationStatus{}, nil
	}
	if err != nil {
		return MigrationStatus{}, fmt.Errorf("failed to read schema version: %w", err)
	}
	return MigrationStatus{Version: version, Dirty: dirty}, nil
}

func logStatus(m *migrate.Migrate, msg string) {
	status, err := currentStatus(m)
	if err != nil {
		slog.Warn(msg, slog.String("error", err.Error()))
		return
	}
	slog.Info(msg,
		slog.Uint64("version", uint64(status.Version)),
		slog.Bool("dirty", status.Dirty),
	)
}
