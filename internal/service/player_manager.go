package service

import (
	"sync"

	"go.uber.org/zap"

	"github.com/martius-lab/teamproject-competition-server/internal/models"
	"github.com/martius-lab/teamproject-competition-server/pkg/logger"
)

// PlayerManager tracks connected players and the authenticated subset that
// is bound to a user account. It is a pure in-memory registry.
type PlayerManager struct {
	users UserStore

	mu            sync.RWMutex
	connected     map[models.PlayerID]Player
	authenticated map[models.PlayerID]int

	logger *zap.Logger
}

func NewPlayerManager(users UserStore) *PlayerManager {
	return &PlayerManager{
		users:         users,
		connected:     make(map[models.PlayerID]Player),
		authenticated: make(map[models.PlayerID]int),
		logger:        logger.L(),
	}
}

// Add registers a freshly connected, unauthenticated player.
func (m *PlayerManager) Add(player Player) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected[player.ID()] = player
}

// Auth resolves the token against the user store and, on success, records
// the player/user mapping once. Re-authentication is unsupported. The caller
// disconnects the player when false is returned.
func (m *PlayerManager) Auth(playerID models.PlayerID, token string) bool {
	m.mu.RLock()
	player, connected := m.connected[playerID]
	_, alreadyAuthed := m.authenticated[playerID]
	m.mu.RUnlock()

	// the player might have disconnected in the meantime
	if !connected || alreadyAuthed {
		return false
	}

	userID, err := m.users.ResolveToken(token)
	if err != nil {
		m.logger.Debug("Authentication failed",
			zap.String("playerId", string(playerID)),
			zap.Error(err))
		return false
	}

	m.mu.Lock()
	if _, stillConnected := m.connected[playerID]; !stillConnected {
		m.mu.Unlock()
		return false
	}
	m.authenticated[playerID] = userID
	m.mu.Unlock()

	player.SetUserID(userID)

	m.logger.Debug("Player authenticated",
		zap.String("playerId", string(playerID)),
		zap.Int("userId", userID))
	return true
}

// Remove deregisters a player. Idempotent; clears both registries.
func (m *PlayerManager) Remove(player Player) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.connected, player.ID())
	delete(m.authenticated, player.ID())
}

// GetUserID returns the user bound to an authenticated player.
func (m *PlayerManager) GetUserID(playerID models.PlayerID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	userID, ok := m.authenticated[playerID]
	if !ok {
		return 0, ErrNotAuthenticated
	}
	return userID, nil
}

// GetPlayerByID returns an authenticated player. Unauthenticated
// connections are intentionally invisible here.
func (m *PlayerManager) GetPlayerByID(playerID models.PlayerID) (Player, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.authenticated[playerID]; !ok {
		return nil, ErrNotFound
	}
	return m.connected[playerID], nil
}

// ConnectedCount returns the number of connected players.
func (m *PlayerManager) ConnectedCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connected)
}

// AuthenticatedCount returns the number of authenticated players.
func (m *PlayerManager) AuthenticatedCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.authenticated)
}

// BroadcastError sends an error message to every connected player.
func (m *PlayerManager) BroadcastError(msg string) {
	for _, player := range m.snapshot() {
		player.NotifyError(msg)
	}
}

// DisconnectAll disconnects every connected player with the given reason.
func (m *PlayerManager) DisconnectAll(reason string) {
	for _, player := range m.snapshot() {
		player.Disconnect(reason)
	}
}

func (m *PlayerManager) snapshot() []Player {
	m.mu.RLock()
	defer m.mu.RUnlock()

	players := make([]Player, 0, len(m.connected))
	for _, player := range m.connected {
		players = append(players, player)
	}
	return players
}
