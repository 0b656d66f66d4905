package db

import (
	"context"
	"database/sql"

	"github.com/streamactions/streamactions/levels"
)

// UpsertUser records a user's latest known login and preserves standing.
func UpsertUser(ctx context.Context, dbx *sql.DB, userID, login string) error {
	_, err := dbx.ExecContext(ctx,
		`INSERT INTO users(user_id, login) VALUES($1,$2)
		 ON CONFLICT(user_id) DO UPDATE SET login=EXCLUDED.login, updated_at=NOW()`,
		userID, login)
	return err
}

// SetStanding updates a user's global standing, inserting the row if needed.
func SetStanding(ctx context.Context, dbx *sql.DB, userID string, standing levels.GlobalStanding) error {
	_, err := dbx.ExecContext(ctx,
		`INSERT INTO users(user_id, standing) VALUES($1,$2)
		 ON CONFLICT(user_id) DO UPDATE SET standing=EXCLUDED.standing, updated_at=NOW()`,
		userID, int(standing))
	return err
}

// GetStanding returns the user's global standing; unknown users have StandingNone.
func GetStanding(ctx context.Context, dbx *sql.DB, userID string) (levels.GlobalStanding, error) {
	var standing int
	err := dbx.QueryRowContext(ctx,
		`SELECT standing FROM users WHERE user_id = $1`, userID).Scan(&standing)
	if err == sql.ErrNoRows {
		return levels.StandingNone, nil
	}
	if err != nil {
		return levels.StandingNone, err
	}
	return levels.GlobalStanding(standing), nil
}

// UpsertActor records the last observed per-channel level for a user.
func UpsertActor(ctx context.Context, dbx *sql.DB, channelID, userID, login string, level levels.Level) error {
	_, err := dbx.ExecContext(ctx,
		`INSERT INTO actors(channel_id, user_id, login, level, updated_at) VALUES($1,$2,$3,$4,NOW())
		 ON CONFLICT(channel_id, user_id) DO UPDATE SET login=EXCLUDED.login, level=EXCLUDED.level, updated_at=NOW()`,
		channelID, userID, login, int(level))
	return err
}

// GetActorLevel returns the last observed level for a user in a channel.
// Unknown actors default to Viewer.
func GetActorLevel(ctx context.Context, dbx *sql.DB, channelID, userID string) (levels.Level, error) {
	var lvl int
	err := dbx.QueryRowContext(ctx,
		`SELECT level FROM actors WHERE channel_id = $1 AND user_id = $2`, channelID, userID).Scan(&lvl)
	if err == sql.ErrNoRows {
		return levels.Viewer, nil
	}
	if err != nil {
		return levels.Viewer, err
	}
	return levels.Level(lvl), nil
}
