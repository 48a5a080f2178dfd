package game

import (
	"fmt"
	"math"

	"github.com/martius-lab/teamproject-competition-server/internal/models"
)

func init() {
	Register("rockpaperscissors", NewRockPaperScissors)
}

const (
	moveRock     = 0
	movePaper    = 1
	moveScissors = 2

	rpsWinningScore = 3
)

// rockPaperScissors is a minimal two-player game exercising the game
// contract. The observation is the opponent's previous move (-1 in the
// first round); the first player to reach three points wins.
type rockPaperScissors struct {
	player1 models.PlayerID
	player2 models.PlayerID

	scores    map[models.PlayerID]float64
	lastMoves map[models.PlayerID]float64
	finished  bool
}

func NewRockPaperScissors(playerIDs []models.PlayerID) (Game, error) {
	if len(playerIDs) != 2 {
		return nil, fmt.Errorf("rockpaperscissors needs exactly 2 players, got %d", len(playerIDs))
	}

	return &rockPaperScissors{
		player1: playerIDs[0],
		player2: playerIDs[1],
		scores: map[models.PlayerID]float64{
			playerIDs[0]: 0,
			playerIDs[1]: 0,
		},
		lastMoves: map[models.PlayerID]float64{
			playerIDs[0]: -1,
			playerIDs[1]: -1,
		},
	}, nil
}

func (g *rockPaperScissors) Update(actions map[models.PlayerID][]float64) bool {
	move1 := actions[g.player1][0]
	move2 := actions[g.player2][0]

	g.lastMoves[g.player1] = move1
	g.lastMoves[g.player2] = move2

	// 0 beats 2, 1 beats 0, 2 beats 1
	switch math.Mod(move1-move2+3, 3) {
	case 1:
		g.scores[g.player1]++
	case 2:
		g.scores[g.player2]++
	}

	g.finished = g.scores[g.player1] >= rpsWinningScore || g.scores[g.player2] >= rpsWinningScore
	return g.finished
}

func (g *rockPaperScissors) Observation(playerID models.PlayerID) []float64 {
	opponent := g.player1
	if playerID == g.player1 {
		opponent = g.player2
	}
	return []float64{g.lastMoves[opponent]}
}

func (g *rockPaperScissors) ValidateAction(action []float64) bool {
	if len(action) != 1 {
		return false
	}
	move := action[0]
	return move == moveRock || move == movePaper || move == moveScissors
}

func (g *rockPaperScissors) PlayerWon(playerID models.PlayerID) bool {
	opponent := g.player1
	if playerID == g.player1 {
		opponent = g.player2
	}
	return g.scores[playerID] > g.scores[opponent]
}

func (g *rockPaperScissors) PlayerScore(playerID models.PlayerID) float64 {
	return g.scores[playerID]
}
