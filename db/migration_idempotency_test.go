package db

import (
	"context"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// TestMigrateConstraints verifies that Migrate builds the schema constraints
// the data layer relies on, and that re-running it leaves them intact.
func TestMigrateConstraints(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	verifyGroupNameIndex := func(t *testing.T) {
		t.Helper()
		var exists bool
		err := db.QueryRowContext(ctx, `
			SELECT EXISTS (
				SELECT FROM pg_indexes
				WHERE indexname = 'uq_permission_groups_channel_name'
			)
		`).Scan(&exists)
		if err != nil {
			t.Fatalf("failed to query group name index: %v", err)
		}
		if !exists {
			t.Errorf("unique index on permission_groups(channel_id, lower(name)) missing")
		}
	}

	verifyGroupNameIndex(t)

	if err := Migrate(ctx, db); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	verifyGroupNameIndex(t)

	// Group names are unique per channel, case insensitively.
	if _, err := db.ExecContext(ctx, `DELETE FROM permission_groups WHERE channel_id = 'idx-chan'`); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if _, err := db.ExecContext(ctx,
		`INSERT INTO permission_groups (id, channel_id, name) VALUES ('idx-g1', 'idx-chan', 'Regulars')`); err != nil {
		t.Fatalf("insert first group: %v", err)
	}
	if _, err := db.ExecContext(ctx,
		`INSERT INTO permission_groups (id, channel_id, name) VALUES ('idx-g2', 'idx-chan', 'regulars')`); err == nil {
		t.Errorf("expected unique violation for case-folded duplicate group name")
	}
	if _, err := db.ExecContext(ctx,
		`INSERT INTO permission_groups (id, channel_id, name) VALUES ('idx-g3', 'other-chan', 'regulars')`); err != nil {
		t.Errorf("same name in a different channel should be allowed: %v", err)
	}
}
