package game

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/martius-lab/teamproject-competition-server/internal/models"
	"github.com/martius-lab/teamproject-competition-server/pkg/logger"
)

// Player is the capability surface the session needs from a connected player.
type Player interface {
	ID() models.PlayerID
	UserID() (int, bool)
	Connected() bool
	NotifyStart(gameID models.GameID)
	GetAction(ctx context.Context, obv []float64) ([]float64, error)
	NotifyEnd(result bool, stats []float64)
	NotifyInfo(msg string)
	Disconnect(reason string)
}

type State int

const (
	StateCreated State = iota
	StateRunning
	StateFinished
)

// Session drives one game through synchronized rounds: request one action
// from every player concurrently, wait for all of them, hand the complete
// action map to the game, repeat until the game reports it is finished.
//
// A session finishes exactly once. Force-ending, a validation failure or a
// failed round trip all cancel the current round's barrier immediately; the
// session never waits for stragglers.
type Session struct {
	id      models.GameID
	players map[models.PlayerID]Player
	order   []models.PlayerID

	gameMu sync.Mutex
	game   Game

	mu           sync.Mutex
	state        State
	startTime    time.Time
	disconnected *models.PlayerID
	callbacks    []func(*Session)

	cancel     context.CancelFunc
	ctx        context.Context
	finishOnce sync.Once

	logger *zap.Logger
}

// NewSession creates a session in state Created. Finish callbacks must be
// registered before Start.
func NewSession(g Game, players []Player) *Session {
	s := &Session{
		id:      models.NewGameID(),
		game:    g,
		players: make(map[models.PlayerID]Player, len(players)),
		order:   make([]models.PlayerID, 0, len(players)),
		logger:  logger.L(),
	}
	for _, p := range players {
		s.players[p.ID()] = p
		s.order = append(s.order, p.ID())
	}
	return s
}

func (s *Session) ID() models.GameID {
	return s.id
}

// Players returns the player IDs in session order.
func (s *Session) Players() []models.PlayerID {
	return s.order
}

// HasPlayer reports whether the given player participates in this session.
func (s *Session) HasPlayer(playerID models.PlayerID) bool {
	_, ok := s.players[playerID]
	return ok
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) StartTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startTime
}

// AddFinishCallback registers a callback invoked exactly once when the
// session finishes. Must be called before Start.
func (s *Session) AddFinishCallback(cb func(*Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, cb)
}

// Start records the start time, notifies every player of the game ID and
// begins the round loop.
func (s *Session) Start() {
	s.mu.Lock()
	if s.state != StateCreated {
		s.mu.Unlock()
		return
	}
	s.startTime = time.Now()
	s.state = StateRunning
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	for _, id := range s.order {
		s.players[id].NotifyStart(s.id)
	}

	s.logger.Debug("Game started",
		zap.String("gameId", string(s.id)),
		zap.Int("players", len(s.order)))

	go s.run()
}

// ForceEnd terminates the session immediately, attributing the end to the
// given player. Callable at any time, from any goroutine.
func (s *Session) ForceEnd(playerID models.PlayerID) {
	s.finish(&playerID)
}

func (s *Session) run() {
	for {
		actions, ok := s.collectActions()
		if !ok {
			return
		}

		s.gameMu.Lock()
		finished := s.game.Update(actions)
		s.gameMu.Unlock()

		if finished {
			s.finish(nil)
			return
		}
	}
}

type actionResult struct {
	playerID models.PlayerID
	action   []float64
	err      error
}

// collectActions runs one round barrier. It returns the complete action map,
// or false if the session finished during the round.
func (s *Session) collectActions() (map[models.PlayerID][]float64, bool) {
	roundCtx, cancelRound := context.WithCancel(s.ctx)
	defer cancelRound()

	results := make(chan actionResult, len(s.order))
	for _, id := range s.order {
		s.gameMu.Lock()
		obv := s.game.Observation(id)
		s.gameMu.Unlock()

		go func(id models.PlayerID, obv []float64) {
			action, err := s.players[id].GetAction(roundCtx, obv)
			results <- actionResult{playerID: id, action: action, err: err}
		}(id, obv)
	}

	actions := make(map[models.PlayerID][]float64, len(s.order))
	for range s.order {
		res := <-results

		if res.err != nil {
			if s.ctx.Err() != nil {
				// the session was force-ended while the round was running
				return nil, false
			}
			// timeout or transport failure, attributed to this player
			s.finish(&res.playerID)
			return nil, false
		}

		if !s.game.ValidateAction(res.action) {
			s.logger.Debug("Player sent an invalid action",
				zap.String("gameId", string(s.id)),
				zap.String("playerId", string(res.playerID)))
			s.players[res.playerID].Disconnect("Invalid action")
			s.finish(&res.playerID)
			return nil, false
		}

		actions[res.playerID] = res.action
	}

	return actions, true
}

// finish transitions to Finished exactly once: run the finish callbacks,
// then tell every still-connected player its outcome.
func (s *Session) finish(disconnected *models.PlayerID) {
	s.finishOnce.Do(func() {
		s.mu.Lock()
		s.state = StateFinished
		s.disconnected = disconnected
		if s.cancel != nil {
			s.cancel()
		}
		callbacks := s.callbacks
		s.mu.Unlock()

		s.logger.Debug("Game finished",
			zap.String("gameId", string(s.id)),
			zap.Bool("byDisconnect", disconnected != nil))

		for _, cb := range callbacks {
			cb(s)
		}

		for _, id := range s.order {
			p := s.players[id]
			if !p.Connected() {
				continue
			}
			if disconnected != nil && id != *disconnected {
				p.NotifyInfo("Game ended because another player disconnected")
			}
			p.NotifyEnd(s.playerWon(id), s.playerStats(id))
		}
	})
}

func (s *Session) playerWon(playerID models.PlayerID) bool {
	s.gameMu.Lock()
	defer s.gameMu.Unlock()
	return s.game.PlayerWon(playerID)
}

// playerStats is the player's own score followed by the other players'
// scores in session order.
func (s *Session) playerStats(playerID models.PlayerID) []float64 {
	s.gameMu.Lock()
	defer s.gameMu.Unlock()

	stats := []float64{s.game.PlayerScore(playerID)}
	for _, id := range s.order {
		if id != playerID {
			stats = append(stats, s.game.PlayerScore(id))
		}
	}
	return stats
}

// Result derives the immutable outcome of a finished session. It returns nil
// when any participant never completed authentication; such games are not
// persisted. A disconnect always yields EndStateDisconnected, overriding the
// score comparison.
func (s *Session) Result() *models.GameResult {
	user1, ok1 := s.players[s.order[0]].UserID()
	user2, ok2 := s.players[s.order[1]].UserID()
	if !ok1 || !ok2 {
		return nil
	}

	s.gameMu.Lock()
	score1 := s.game.PlayerScore(s.order[0])
	score2 := s.game.PlayerScore(s.order[1])
	s.gameMu.Unlock()

	s.mu.Lock()
	disconnected := s.disconnected
	startTime := s.startTime
	s.mu.Unlock()

	result := &models.GameResult{
		GameID:     s.id,
		User1ID:    user1,
		User2ID:    user2,
		ScoreUser1: score1,
		ScoreUser2: score2,
		StartTime:  startTime,
	}

	switch {
	case disconnected != nil:
		result.EndState = models.EndStateDisconnected
		if userID, ok := s.players[*disconnected].UserID(); ok {
			result.DisconnectedID = &userID
		}
	case score1 == score2:
		result.EndState = models.EndStateDraw
	default:
		result.EndState = models.EndStateWin
		winner := user1
		if score2 > score1 {
			winner = user2
		}
		result.WinnerID = &winner
	}

	return result
}
