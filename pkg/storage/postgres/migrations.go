package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/tenantgate/pkg/observability"
)

// Migration is one versioned schema change
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations returns the schema history in order
func Migrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create users table",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id UUID PRIMARY KEY,
					email TEXT NOT NULL UNIQUE,
					full_name TEXT,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					last_login_at TIMESTAMPTZ,
					is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
					user_metadata JSONB NOT NULL DEFAULT '{}'
				);
			`,
		},
		{
			Version:     2,
			Description: "Create organizations table",
			SQL: `
				CREATE TABLE IF NOT EXISTS organizations (
					id UUID PRIMARY KEY,
					name TEXT NOT NULL,
					slug TEXT UNIQUE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
					org_metadata JSONB NOT NULL DEFAULT '{}'
				);
			`,
		},
		{
			Version:     3,
			Description: "Create org_members table",
			SQL: `
				CREATE TABLE IF NOT EXISTS org_members (
					user_id UUID NOT NULL REFERENCES users(id),
					org_id UUID NOT NULL REFERENCES organizations(id),
					role TEXT NOT NULL DEFAULT 'member',
					joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					is_owner BOOLEAN NOT NULL DEFAULT FALSE,
					PRIMARY KEY (user_id, org_id)
				);

				CREATE INDEX IF NOT EXISTS idx_org_members_org_id ON org_members(org_id);
			`,
		},
		{
			Version:     4,
			Description: "Create active_org_context table",
			SQL: `
				CREATE TABLE IF NOT EXISTS active_org_context (
					user_id UUID PRIMARY KEY REFERENCES users(id),
					org_id UUID NOT NULL REFERENCES organizations(id),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
			`,
		},
		{
			Version:     5,
			Description: "Create org_invitations table",
			SQL: `
				CREATE TABLE IF NOT EXISTS org_invitations (
					token TEXT PRIMARY KEY,
					org_id UUID NOT NULL REFERENCES organizations(id),
					email TEXT NOT NULL,
					role TEXT NOT NULL DEFAULT 'member',
					invited_by UUID NOT NULL REFERENCES users(id),
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					expires_at TIMESTAMPTZ NOT NULL,
					accepted_at TIMESTAMPTZ,
					accepted_by UUID REFERENCES users(id)
				);

				CREATE INDEX IF NOT EXISTS idx_org_invitations_org_id ON org_invitations(org_id);
				CREATE INDEX IF NOT EXISTS idx_org_invitations_expires_at ON org_invitations(expires_at)
					WHERE accepted_at IS NULL;
			`,
		},
	}
}

// RunMigrations applies every migration not yet recorded in
// schema_migrations. Each migration runs in its own transaction.
func RunMigrations(ctx context.Context, db *sql.DB, logger *observability.Logger) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}
	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	for _, m := range Migrations() {
		if applied[m.Version] {
			continue
		}

		logger.WithField("version", m.Version).Infof("running migration: %s", m.Description)

		err := WithTx(ctx, db, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
				return fmt.Errorf("failed to execute migration %d: %w", m.Version, err)
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO schema_migrations (version, description) VALUES ($1, $2)",
				m.Version, m.Description,
			); err != nil {
				return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	return nil
}
