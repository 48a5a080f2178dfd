// Package service contains the in-memory registries and the matchmaking
// scheduler that make up the server's session engine.
package service

import (
	"context"

	"github.com/martius-lab/teamproject-competition-server/internal/models"
)

// Player is the capability set a connected player exposes to the managers.
// It is implemented by protocol.Player; tests substitute scripted fakes.
type Player interface {
	ID() models.PlayerID
	UserID() (int, bool)
	SetUserID(userID int)
	Connected() bool

	// Authenticate round-trips a token request to the client.
	Authenticate() (string, error)
	// IsReady round-trips a readiness check.
	IsReady() (bool, error)

	NotifyStart(gameID models.GameID)
	GetAction(ctx context.Context, obv []float64) ([]float64, error)
	NotifyEnd(result bool, stats []float64)
	NotifyInfo(msg string)
	NotifyError(msg string)

	// Disconnect sends the reason to the client and closes the connection.
	Disconnect(reason string)
}

// UserStore is the data-access contract for persistent user accounts.
// Implementations return ErrNotFound for unknown tokens or user IDs.
type UserStore interface {
	ResolveToken(token string) (int, error)
	Get(userID int) (*models.User, error)
	MatchmakingParameters(userID int) (models.Rating, error)
	SetMatchmakingParameters(userID int, rating models.Rating) error

	// UpdateRatings persists both users' new ratings atomically, so two
	// games finishing at once cannot produce a lost update.
	UpdateRatings(user1ID int, rating1 models.Rating, user2ID int, rating2 models.Rating) error
}

// GameStore is the data-access contract for finished game results.
type GameStore interface {
	Add(result *models.GameResult) error
}
