package models

import "time"

// GameEndState describes how a game session ended.
type GameEndState int

const (
	EndStateWin GameEndState = iota
	EndStateDraw
	EndStateDisconnected
)

func (s GameEndState) String() string {
	switch s {
	case EndStateWin:
		return "win"
	case EndStateDraw:
		return "draw"
	case EndStateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// GameResult is the immutable outcome of a finished game session. It is
// derived exactly once, when the session finishes, and persisted afterwards.
type GameResult struct {
	GameID     GameID       `json:"gameId" db:"game_id"`
	User1ID    int          `json:"user1Id" db:"user1"`
	User2ID    int          `json:"user2Id" db:"user2"`
	ScoreUser1 float64      `json:"scoreUser1" db:"score1"`
	ScoreUser2 float64      `json:"scoreUser2" db:"score2"`
	StartTime  time.Time    `json:"startTime" db:"start_time"`
	EndState   GameEndState `json:"endState" db:"end_state"`

	// WinnerID is set only when EndState is EndStateWin.
	WinnerID *int `json:"winnerId,omitempty" db:"winner"`
	// DisconnectedID is set only when EndState is EndStateDisconnected.
	DisconnectedID *int `json:"disconnectedId,omitempty" db:"disconnected"`
}
