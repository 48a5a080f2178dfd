package service

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/martius-lab/teamproject-competition-server/internal/game"
	"github.com/martius-lab/teamproject-competition-server/internal/models"
	"github.com/martius-lab/teamproject-competition-server/pkg/events"
)

// QueueEntry is one waiting player. User data is resolved once at enqueue
// time so the periodic scan never touches the database.
type QueueEntry struct {
	PlayerID   models.PlayerID
	UserID     int
	Username   string
	Role       models.UserRole
	Rating     models.Rating
	EnqueuedAt time.Time
}

// MatchmakingConfig tunes when waiting players are paired.
type MatchmakingConfig struct {
	// MatchQualityThreshold is the minimum predicted draw probability,
	// including the waiting bonus, required to start a game.
	MatchQualityThreshold float64
	// PercentageMinPlayersWaiting scales the authenticated player count
	// into the minimum queue length before any pairing happens.
	PercentageMinPlayersWaiting float64
	// PercentalTimeBonus is the per-minute quality bonus granted to pairs
	// that waited beyond their first combined minute.
	PercentalTimeBonus float64
}

// MatchmakingManager keeps the queue of waiting players and periodically
// pairs those with a high enough match quality into new games.
type MatchmakingManager struct {
	players *PlayerManager
	games   *GameManager
	users   UserStore
	skill   *SkillService
	events  *events.Publisher
	cfg     MatchmakingConfig
	logger  *zap.Logger

	mu    sync.Mutex
	queue []QueueEntry

	// now is swapped out in tests to control waiting times.
	now func() time.Time

	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewMatchmakingManager(
	players *PlayerManager,
	games *GameManager,
	users UserStore,
	skill *SkillService,
	publisher *events.Publisher,
	cfg MatchmakingConfig,
	logger *zap.Logger,
) *MatchmakingManager {
	return &MatchmakingManager{
		players:  players,
		games:    games,
		users:    users,
		skill:    skill,
		events:   publisher,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
}

// TryMatch checks a player's readiness and enqueues them once they report
// ready. The readiness round trip blocks, so it runs on its own goroutine.
func (m *MatchmakingManager) TryMatch(playerID models.PlayerID) {
	go func() {
		player, err := m.players.GetPlayerByID(playerID)
		if err != nil {
			m.logger.Debug("try match for unknown player",
				zap.String("player_id", string(playerID)))
			return
		}

		ready, err := player.IsReady()
		if err != nil {
			m.logger.Debug("readiness check failed",
				zap.String("player_id", string(playerID)), zap.Error(err))
			return
		}
		if !ready {
			player.Disconnect("Client unready. Disconnecting.")
			return
		}

		player.NotifyInfo("Waiting in queue")
		m.Match(playerID)
	}()
}

// Match puts an authenticated player into the queue. Players already queued
// are left in place with their original enqueue time.
func (m *MatchmakingManager) Match(playerID models.PlayerID) {
	userID, err := m.players.GetUserID(playerID)
	if err != nil {
		m.logger.Error("cannot enqueue unauthenticated player",
			zap.String("player_id", string(playerID)))
		return
	}

	user, err := m.users.Get(userID)
	if err != nil {
		m.logger.Error("cannot load user for matchmaking",
			zap.Int("user_id", userID), zap.Error(err))
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.queue {
		if e.PlayerID == playerID {
			return
		}
	}
	m.queue = append(m.queue, QueueEntry{
		PlayerID:   playerID,
		UserID:     user.ID,
		Username:   user.Username,
		Role:       user.Role,
		Rating:     user.Rating,
		EnqueuedAt: m.now(),
	})
	m.logger.Info("player queued for matchmaking",
		zap.String("player_id", string(playerID)),
		zap.String("username", user.Username),
		zap.Int("queue_len", len(m.queue)))
}

// Remove takes a player out of the queue, typically on disconnect.
func (m *MatchmakingManager) Remove(playerID models.PlayerID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.queue {
		if e.PlayerID == playerID {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			return
		}
	}
}

// QueueLen returns the number of players currently waiting.
func (m *MatchmakingManager) QueueLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Update runs one matchmaking pass over the queue. Pairing only happens
// while the queue holds at least the configured share of all authenticated
// players, and the gate is re-checked after every started game.
func (m *MatchmakingManager) Update() {
	m.mu.Lock()
	defer m.mu.Unlock()

	minWaiting := int(float64(m.players.AuthenticatedCount()) * m.cfg.PercentageMinPlayersWaiting)

	i := 0
	for i < len(m.queue) {
		if len(m.queue) < minWaiting {
			return
		}
		matched := false
		for j := i + 1; j < len(m.queue); j++ {
			if m.tryStartGame(i, j) {
				matched = true
				break
			}
		}
		if !matched {
			i++
		}
	}
}

// tryStartGame pairs queue positions i and j if allowed, removing both from
// the queue on success. Caller holds m.mu.
func (m *MatchmakingManager) tryStartGame(i, j int) bool {
	a, b := m.queue[i], m.queue[j]

	if a.UserID == b.UserID {
		return false
	}
	if a.Role == models.RoleBot && b.Role == models.RoleBot {
		return false
	}

	quality := m.skill.PredictDraw(a.Rating, b.Rating)
	combined := m.now().Sub(a.EnqueuedAt).Seconds() + m.now().Sub(b.EnqueuedAt).Seconds()
	if quality+m.waitingBonus(combined) <= m.cfg.MatchQualityThreshold {
		return false
	}

	playerA, errA := m.players.GetPlayerByID(a.PlayerID)
	playerB, errB := m.players.GetPlayerByID(b.PlayerID)
	if errA != nil || errB != nil {
		// stale entries left behind by a missed disconnect
		if errA != nil {
			m.logger.Warn("player was in queue but not in player manager",
				zap.String("player_id", string(a.PlayerID)))
			m.removeLocked(a.PlayerID)
		}
		if errB != nil {
			m.logger.Warn("player was in queue but not in player manager",
				zap.String("player_id", string(b.PlayerID)))
			m.removeLocked(b.PlayerID)
		}
		return false
	}

	m.removeLocked(a.PlayerID)
	m.removeLocked(b.PlayerID)

	m.logger.Info("matched players",
		zap.String("player1", a.Username),
		zap.String("player2", b.Username),
		zap.Float64("quality", quality))

	session, err := m.games.StartGame([]Player{playerA, playerB}, m.handleGameFinished)
	if err != nil {
		m.logger.Error("failed to start game", zap.Error(err))
		return false
	}
	m.events.PlayersMatched(session.ID(), a.UserID, b.UserID)
	return true
}

// waitingBonus grows linearly after the pair's first combined minute in the
// queue, so long waits eventually overcome a low predicted quality.
func (m *MatchmakingManager) waitingBonus(combinedSeconds float64) float64 {
	bonus := (combinedSeconds/60 - 1) * m.cfg.PercentalTimeBonus
	if bonus < 0 {
		return 0
	}
	return bonus
}

func (m *MatchmakingManager) removeLocked(playerID models.PlayerID) {
	for i, e := range m.queue {
		if e.PlayerID == playerID {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			return
		}
	}
}

// handleGameFinished updates both ratings and puts the participants back
// into matchmaking. It runs after the game manager persisted the result.
func (m *MatchmakingManager) handleGameFinished(session *game.Session) {
	result := session.Result()
	if result != nil {
		m.updateRatings(result)
	}
	for _, playerID := range session.Players() {
		m.TryMatch(playerID)
	}
}

func (m *MatchmakingManager) updateRatings(result *models.GameResult) {
	rating1, err := m.users.MatchmakingParameters(result.User1ID)
	if err != nil {
		m.logger.Error("cannot load rating", zap.Int("user_id", result.User1ID), zap.Error(err))
		return
	}
	rating2, err := m.users.MatchmakingParameters(result.User2ID)
	if err != nil {
		m.logger.Error("cannot load rating", zap.Int("user_id", result.User2ID), zap.Error(err))
		return
	}

	score1, score2 := result.ScoreUser1, result.ScoreUser2
	if result.EndState == models.EndStateDisconnected && result.DisconnectedID != nil {
		// the disconnected player forfeits regardless of the score so far
		if *result.DisconnectedID == result.User1ID {
			score1, score2 = 0, 1
		} else {
			score1, score2 = 1, 0
		}
	}

	new1, new2 := m.skill.Rate(rating1, rating2, score1, score2)
	if err := m.users.UpdateRatings(result.User1ID, new1, result.User2ID, new2); err != nil {
		m.logger.Error("failed to persist ratings", zap.Error(err))
		return
	}
	m.logger.Info("updated ratings",
		zap.Int("user1_id", result.User1ID),
		zap.Float64("user1_mu", new1.Mu),
		zap.Int("user2_id", result.User2ID),
		zap.Float64("user2_mu", new2.Mu))
}

// Start launches the periodic matchmaking loop.
func (m *MatchmakingManager) Start(interval time.Duration) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.Update()
			case <-m.stopChan:
				return
			}
		}
	}()
	m.logger.Info("matchmaking loop started", zap.Duration("interval", interval))
}

// Stop terminates the matchmaking loop and waits for it to exit.
func (m *MatchmakingManager) Stop() {
	close(m.stopChan)
	m.wg.Wait()
	m.logger.Info("matchmaking loop stopped")
}
