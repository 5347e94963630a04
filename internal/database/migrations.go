package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MediSynth-io/messagely/internal/config"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all database migrations
func GetMigrations(dialect string) []Migration {
	if dialect == config.DatabasePostgres {
		return getPostgresMigrations()
	}
	return getSQLiteMigrations()
}

func getPostgresMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create users table",
			SQL: `CREATE TABLE IF NOT EXISTS users (
				username VARCHAR(255) PRIMARY KEY,
				password VARCHAR(255) NOT NULL,
				first_name VARCHAR(255) NOT NULL,
				last_name VARCHAR(255) NOT NULL,
				phone VARCHAR(64) NOT NULL,
				joined_at TIMESTAMP WITH TIME ZONE NOT NULL,
				last_login_at TIMESTAMP WITH TIME ZONE
			)`,
		},
		{
			Version:     2,
			Description: "Create messages table",
			SQL: `CREATE TABLE IF NOT EXISTS messages (
				id UUID PRIMARY KEY,
				from_username VARCHAR(255) NOT NULL REFERENCES users(username),
				to_username VARCHAR(255) NOT NULL REFERENCES users(username),
				body TEXT NOT NULL,
				sent_at TIMESTAMP WITH TIME ZONE NOT NULL,
				read_at TIMESTAMP WITH TIME ZONE
			)`,
		},
		{
			Version:     3,
			Description: "Create indexes",
			SQL: `CREATE INDEX IF NOT EXISTS idx_messages_from_username ON messages(from_username, sent_at);
				CREATE INDEX IF NOT EXISTS idx_messages_to_username ON messages(to_username, sent_at)`,
		},
	}
}

func getSQLiteMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create users table",
			SQL: `CREATE TABLE IF NOT EXISTS users (
				username TEXT PRIMARY KEY,
				password TEXT NOT NULL,
				first_name TEXT NOT NULL,
				last_name TEXT NOT NULL,
				phone TEXT NOT NULL,
				joined_at DATETIME NOT NULL,
				last_login_at DATETIME
			)`,
		},
		{
			Version:     2,
			Description: "Create messages table",
			SQL: `CREATE TABLE IF NOT EXISTS messages (
				id TEXT PRIMARY KEY,
				from_username TEXT NOT NULL,
				to_username TEXT NOT NULL,
				body TEXT NOT NULL,
				sent_at DATETIME NOT NULL,
				read_at DATETIME,
				FOREIGN KEY (from_username) REFERENCES users(username),
				FOREIGN KEY (to_username) REFERENCES users(username)
			)`,
		},
		{
			Version:     3,
			Description: "Create indexes",
			SQL: `CREATE INDEX IF NOT EXISTS idx_messages_from_username ON messages(from_username, sent_at);
				CREATE INDEX IF NOT EXISTS idx_messages_to_username ON messages(to_username, sent_at)`,
		},
	}
}

func createMigrationsTable(ctx context.Context, db *DB) error {
	query := `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`
	_, err := db.ExecContext(ctx, query)
	return err
}

// getAppliedMigrations returns the set of applied migration versions
func getAppliedMigrations(ctx context.Context, db *DB) (map[int]bool, error) {
	applied := make(map[int]bool)

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return applied, err
	}
	defer rows.Close()

	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return applied, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

// RunMigrations applies all pending migrations, each inside its own transaction.
func RunMigrations(ctx context.Context, db *DB, logger *slog.Logger) error {
	if err := createMigrationsTable(ctx, db); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := getAppliedMigrations(ctx, db)
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	for _, migration := range GetMigrations(db.Dialect) {
		if applied[migration.Version] {
			continue
		}

		logger.Info("applying migration",
			slog.Int("version", migration.Version),
			slog.String("description", migration.Description),
		)

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", migration.Version, err)
		}

		for _, stmt := range strings.Split(migration.SQL, ";") {
			stmt = strings.TrimSpace(stmt)
			if stmt == "" {
				continue
			}
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("failed to apply migration %d: %w", migration.Version, err)
			}
		}

		if _, err := tx.ExecContext(ctx, db.Rebind("INSERT INTO schema_migrations (version) VALUES (?)"), migration.Version); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the highest applied migration version, or 0 when none
// has been applied.
func SchemaVersion(ctx context.Context, db *DB) (int, error) {
	var version sql.NullInt64
	if err := db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&version); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return int(version.Int64), nil
}
