package repository

import (
	"fmt"

	"github.com/martius-lab/teamproject-competition-server/internal/models"
	"github.com/martius-lab/teamproject-competition-server/pkg/database"
)

type GameRepository struct {
	db *database.DB
}

func NewGameRepository(db *database.DB) *GameRepository {
	return &GameRepository{db: db}
}

// Add persists the result of a finished game.
func (r *GameRepository) Add(result *models.GameResult) error {
	query := `
		INSERT INTO games (game_id, user1, user2, score1, score2, start_time, end_state, winner, disconnected)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.Exec(query,
		string(result.GameID),
		result.User1ID,
		result.User2ID,
		result.ScoreUser1,
		result.ScoreUser2,
		result.StartTime,
		int(result.EndState),
		result.WinnerID,
		result.DisconnectedID,
	)
	if err != nil {
		return fmt.Errorf("failed to store game result: %w", err)
	}

	return nil
}

// ListByUser returns every stored result the user participated in, newest
// first.
func (r *GameRepository) ListByUser(userID int) ([]*models.GameResult, error) {
	query := `
		SELECT game_id, user1, user2, score1, score2, start_time, end_state, winner, disconnected
		FROM games
		WHERE user1 = $1 OR user2 = $1
		ORDER BY start_time DESC
	`

	rows, err := r.db.Query(query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list games: %w", err)
	}
	defer rows.Close()

	var results []*models.GameResult
	for rows.Next() {
		result := &models.GameResult{}
		var gameID string
		err := rows.Scan(
			&gameID,
			&result.User1ID,
			&result.User2ID,
			&result.ScoreUser1,
			&result.ScoreUser2,
			&result.StartTime,
			&result.EndState,
			&result.WinnerID,
			&result.DisconnectedID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan game result: %w", err)
		}
		result.GameID = models.GameID(gameID)
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list games: %w", err)
	}

	return results, nil
}
