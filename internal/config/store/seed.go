package store

import (
	"context"
	"database/sql"
	"fmt"
)

func seedDefaults(ctx context.Context, db *sql.DB, instanceName string) error {
	if _, err := db.ExecContext(ctx, `
		INSERT INTO instances (name)
		VALUES (?)
		ON CONFLICT(name) DO UPDATE SET updated_at = CURRENT_TIMESTAMP
	`, instanceName); err != nil {
		return fmt.Errorf("config: seed instance: %w", err)
	}
	return nil
}
