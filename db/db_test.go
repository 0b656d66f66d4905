package db

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/streamactions/streamactions/levels"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set; skipping postgres test")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := Migrate(context.Background(), db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestMigrate(t *testing.T) {
	db := openTestDB(t)
	// Running twice must be a no-op.
	if err := Migrate(context.Background(), db); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestStandingRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	got, err := GetStanding(ctx, db, "no-such-user")
	if err != nil {
		t.Fatalf("get standing: %v", err)
	}
	if got != levels.StandingNone {
		t.Errorf("unknown user standing = %v, want none", got)
	}

	if err := SetStanding(ctx, db, "u-ban", levels.StandingBanned); err != nil {
		t.Fatalf("set standing: %v", err)
	}
	got, err = GetStanding(ctx, db, "u-ban")
	if err != nil {
		t.Fatalf("get standing: %v", err)
	}
	if got != levels.StandingBanned {
		t.Errorf("standing = %v, want banned", got)
	}
}

func TestActorLevelRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	got, err := GetActorLevel(ctx, db, "chan1", "nobody")
	if err != nil {
		t.Fatalf("get level: %v", err)
	}
	if got != levels.Viewer {
		t.Errorf("unknown actor level = %v, want viewer", got)
	}

	lvl := levels.Moderator | levels.Subscriber
	if err := UpsertActor(ctx, db, "chan1", "u1", "modlogin", lvl); err != nil {
		t.Fatalf("upsert actor: %v", err)
	}
	got, err = GetActorLevel(ctx, db, "chan1", "u1")
	if err != nil {
		t.Fatalf("get level: %v", err)
	}
	if got != lvl {
		t.Errorf("level = %v, want %v", got, lvl)
	}
}
