package repository

import (
	"fmt"

	"github.com/martius-lab/teamproject-competition-server/pkg/database"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	user_id  SERIAL PRIMARY KEY,
	username TEXT NOT NULL UNIQUE,
	password TEXT NOT NULL,
	token    TEXT NOT NULL UNIQUE,
	role     TEXT NOT NULL DEFAULT 'user',
	mu       DOUBLE PRECISION NOT NULL,
	sigma    DOUBLE PRECISION NOT NULL
);

CREATE TABLE IF NOT EXISTS games (
	game_id      TEXT PRIMARY KEY,
	user1        INTEGER NOT NULL REFERENCES users (user_id),
	user2        INTEGER NOT NULL REFERENCES users (user_id),
	score1       DOUBLE PRECISION NOT NULL,
	score2       DOUBLE PRECISION NOT NULL,
	start_time   TIMESTAMPTZ NOT NULL,
	end_state    INTEGER NOT NULL,
	winner       INTEGER REFERENCES users (user_id),
	disconnected INTEGER REFERENCES users (user_id)
);

CREATE INDEX IF NOT EXISTS idx_games_user1 ON games (user1);
CREATE INDEX IF NOT EXISTS idx_games_user2 ON games (user2);
`

// EnsureSchema creates the tables on first start. Every statement is
// idempotent, so running it against an existing database is safe.
func EnsureSchema(db *database.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
