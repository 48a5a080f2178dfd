package models

import "github.com/google/uuid"

// PlayerID identifies a connection for its lifetime. It is never persisted;
// a reconnecting client gets a fresh one.
type PlayerID string

// GameID identifies a single game session.
type GameID string

// NewPlayerID generates a random player ID.
func NewPlayerID() PlayerID {
	return PlayerID(uuid.NewString())
}

// NewGameID generates a random game ID.
func NewGameID() GameID {
	return GameID(uuid.NewString())
}
