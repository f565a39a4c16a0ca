// Package database はデータベース接続とマイグレーション管理を提供する。
package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MigrationReport はマイグレーション実行前後のスキーマバージョン。
// バージョン0は未適用を表す。
type MigrationReport struct {
	From   uint
	To     uint
	Latest uint
}

// Applied はこの実行で1つ以上のマイグレーションが適用されたかを返す。
func (r MigrationReport) Applied() bool {
	return r.To != r.From
}

func newSource() (source.Driver, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}
	return src, nil
}

// NewMigrator は埋め込みSQLを使うmigrateインスタンスを生成する。
// migrate内部のログはloggerにDEBUGレベルで出力する。
func NewMigrator(databaseURL string, logger *slog.Logger) (*migrate.Migrate, error) {
	src, err := newSource()
	if err != nil {
		return nil, err
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	m.Log = &migrateLogger{logger: logger}

	return m, nil
}

// LatestVersion は埋め込まれたマイグレーションの最新バージョンを返す。
func LatestVersion() (uint, error) {
	src, err := newSource()
	if err != nil {
		return 0, err
	}
	defer src.Close()

	v, err := src.First()
	if err != nil {
		return 0, fmt.Errorf("failed to read first migration: %w", err)
	}
	for {
		next, err := src.Next(v)
		if err != nil {
			// 次がなければvが最新
			return v, nil
		}
		v = next
	}
}

// RunMigrations は未適用のマイグレーションをすべて適用し、前後のバージョンを返す。
// すでに最新の場合はエラーなしで返る。前回の実行が途中で失敗しdirtyになっている場合は
// 何もせずエラーを返す。
func RunMigrations(databaseURL string, logger *slog.Logger) (MigrationReport, error) {
	var report MigrationReport

	latest, err := LatestVersion()
	if err != nil {
		return report, err
	}
	report.Latest = latest

	m, err := NewMigrator(databaseURL, logger)
	if err != nil {
		return report, err
	}
	defer m.Close()

	from, dirty, err := currentVersion(m)
	if err != nil {
		return report, err
	}
	if dirty {
		return report, fmt.Errorf("schema version %d is dirty; fix it manually and force the version before migrating", from)
	}
	report.From = from

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return report, fmt.Errorf("failed to run migrations: %w", err)
	}

	to, _, err := currentVersion(m)
	if err != nil {
		return report, err
	}
	report.To = to

	return report, nil
}

func currentVersion(m *migrate.Migrate) (uint, bool, error) {
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read schema version: %w", err)
	}
	return v, dirty, nil
}

// migrateLogger はmigrate.Loggerをslogに流す。
type migrateLogger struct {
	logger *slog.Logger
}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)), slog.String("component", "migrate"))
}

func (l *migrateLogger) Verbose() bool {
	return l.logger.Enabled(context.Background(), slog.LevelDebug)
}
