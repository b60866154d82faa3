package dbsync

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

var (
	enumTypes = []struct {
		name   string
		values string
	}{
		{"user_role", "'ADMIN', 'PARENT', 'LEARNER'"},
		{"lesson_status", "'QUEUED', 'ACTIVE', 'DONE'"},
		{"sync_status", "'IDLE', 'IN_PROGRESS', 'FAILED', 'COMPLETED'"},
	}

	// dependents first
	dropOrder = []string{"achievements", "lessons", "learner_profiles", "db_sync_configs", "users"}

	// users first
	tableDefinitions = []struct {
		name    string
		columns string
	}{
		{"users", `
			id SERIAL PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			username TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			role user_role NOT NULL,
			password TEXT NOT NULL,
			parent_id INTEGER REFERENCES users(id) ON DELETE CASCADE,
			created_at TIMESTAMP DEFAULT NOW()`},
		{"learner_profiles", `
			id UUID PRIMARY KEY,
			user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			grade_level INTEGER NOT NULL,
			graph JSONB,
			subjects JSONB,
			created_at TIMESTAMP DEFAULT NOW()`},
		{"lessons", `
			id UUID PRIMARY KEY,
			learner_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			module_id TEXT NOT NULL,
			status lesson_status NOT NULL DEFAULT 'QUEUED',
			spec JSONB,
			score INTEGER,
			created_at TIMESTAMP DEFAULT NOW(),
			completed_at TIMESTAMP`},
		{"achievements", `
			id UUID PRIMARY KEY,
			learner_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			type TEXT NOT NULL,
			payload JSONB,
			awarded_at TIMESTAMP DEFAULT NOW()`},
		{"db_sync_configs", `
			id UUID PRIMARY KEY,
			parent_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			target_db_url TEXT NOT NULL,
			last_sync_at TIMESTAMP,
			sync_status sync_status NOT NULL DEFAULT 'IDLE',
			continuous_sync BOOLEAN NOT NULL DEFAULT FALSE,
			incremental_sync BOOLEAN NOT NULL DEFAULT FALSE,
			error_message TEXT,
			created_at TIMESTAMP DEFAULT NOW(),
			updated_at TIMESTAMP DEFAULT NOW()`},
	}

	// columns added after the first schema revision, for targets created by older syncs
	addedColumns = []string{
		"ALTER TABLE learner_profiles ADD COLUMN IF NOT EXISTS subjects JSONB",
		"ALTER TABLE db_sync_configs ADD COLUMN IF NOT EXISTS incremental_sync BOOLEAN NOT NULL DEFAULT FALSE",
	}
)

func createEnumStmt(name, values string) string {
	return fmt.Sprintf(`DO $$ BEGIN
	IF NOT EXISTS (SELECT 1 FROM pg_type WHERE typname = '%s') THEN
		CREATE TYPE %s AS ENUM (%s);
	END IF;
END $$`, name, name, values)
}

func createTableStmt(name, columns string, ifNotExists bool) string {
	clause := ""
	if ifNotExists {
		clause = "IF NOT EXISTS "
	}
	return fmt.Sprintf("CREATE TABLE %s%s (%s\n)", clause, name, columns)
}

// SchemaStatements returns the statements run on the target, in order.
// With replace, existing tables are dropped first and recreated;
// otherwise missing types, tables & columns are created and existing rows are kept.
func SchemaStatements(replace bool) []string {
	stmts := make([]string, 0, len(enumTypes)+len(dropOrder)+len(tableDefinitions)+len(addedColumns))
	for _, enum := range enumTypes {
		stmts = append(stmts, createEnumStmt(enum.name, enum.values))
	}
	if replace {
		for _, table := range dropOrder {
			stmts = append(stmts, fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", table))
		}
	}
	for _, table := range tableDefinitions {
		stmts = append(stmts, createTableStmt(table.name, table.columns, !replace))
	}
	if !replace {
		stmts = append(stmts, addedColumns...)
	}
	return stmts
}

// EnsureSchema creates whatever the target lacks. It never drops anything.
func EnsureSchema(ctx context.Context, exec Execer) error {
	return runSchema(ctx, exec, false)
}

// ReplaceSchema drops & recreates the synchronized tables. Every row they held is lost.
func ReplaceSchema(ctx context.Context, exec Execer) error {
	return runSchema(ctx, exec, true)
}

func runSchema(ctx context.Context, exec Execer, replace bool) error {
	for _, stmt := range SchemaStatements(replace) {
		if err := exec.Exec(ctx, stmt); err != nil {
			return errors.Wrapf(err, "initializing target schema: %.40s", stmt)
		}
	}
	return nil
}
