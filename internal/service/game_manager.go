package service

import (
	"sync"

	"go.uber.org/zap"

	"github.com/martius-lab/teamproject-competition-server/internal/game"
	"github.com/martius-lab/teamproject-competition-server/internal/models"
	"github.com/martius-lab/teamproject-competition-server/pkg/events"
)

// GameManager owns every running game session. It creates sessions from the
// configured game type, persists their results when they finish and forcibly
// ends games when a participant drops off.
type GameManager struct {
	mu    sync.Mutex
	games map[models.GameID]*game.Session

	gameName string
	store    GameStore
	events   *events.Publisher
	logger   *zap.Logger
}

func NewGameManager(gameName string, store GameStore, publisher *events.Publisher, logger *zap.Logger) *GameManager {
	return &GameManager{
		games:    make(map[models.GameID]*game.Session),
		gameName: gameName,
		store:    store,
		events:   publisher,
		logger:   logger,
	}
}

// StartGame creates and starts a session for the given players. Extra finish
// callbacks run after the manager's own bookkeeping, so results are persisted
// before matchmaking reacts to them.
func (m *GameManager) StartGame(players []Player, callbacks ...func(*game.Session)) (*game.Session, error) {
	gamePlayers := make([]game.Player, len(players))
	ids := make([]models.PlayerID, len(players))
	for i, p := range players {
		gamePlayers[i] = p
		ids[i] = p.ID()
	}

	g, err := game.New(m.gameName, ids)
	if err != nil {
		return nil, err
	}
	session := game.NewSession(g, gamePlayers)
	session.AddFinishCallback(m.endGame)
	for _, cb := range callbacks {
		session.AddFinishCallback(cb)
	}

	m.mu.Lock()
	m.games[session.ID()] = session
	m.mu.Unlock()

	m.logger.Info("starting game",
		zap.String("game_id", string(session.ID())),
		zap.String("game", m.gameName),
		zap.Any("players", ids))
	session.Start()
	return session, nil
}

// endGame runs as the first finish callback of every session.
func (m *GameManager) endGame(session *game.Session) {
	m.mu.Lock()
	_, known := m.games[session.ID()]
	delete(m.games, session.ID())
	m.mu.Unlock()
	if !known {
		return
	}

	result := session.Result()
	if result == nil {
		m.logger.Warn("dropping result of game with unauthenticated player",
			zap.String("game_id", string(session.ID())))
		return
	}

	if err := m.store.Add(result); err != nil {
		m.logger.Error("failed to persist game result",
			zap.String("game_id", string(session.ID())), zap.Error(err))
	}
	m.events.GameFinished(result)

	m.logger.Info("game finished",
		zap.String("game_id", string(session.ID())),
		zap.String("end_state", result.EndState.String()))
}

// ForceGameEnd ends every running game the player participates in, recording
// the player as disconnected.
func (m *GameManager) ForceGameEnd(playerID models.PlayerID) {
	m.mu.Lock()
	var affected []*game.Session
	for _, s := range m.games {
		if s.HasPlayer(playerID) {
			affected = append(affected, s)
		}
	}
	m.mu.Unlock()

	for _, s := range affected {
		m.logger.Info("force ending game",
			zap.String("game_id", string(s.ID())),
			zap.String("player_id", string(playerID)))
		s.ForceEnd(playerID)
	}
}

// Get returns the running session with the given id.
func (m *GameManager) Get(id models.GameID) (*game.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.games[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Count returns the number of currently running games.
func (m *GameManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.games)
}
