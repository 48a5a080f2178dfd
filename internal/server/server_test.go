package server

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/martius-lab/teamproject-competition-server/internal/config"
	"github.com/martius-lab/teamproject-competition-server/internal/models"
	"github.com/martius-lab/teamproject-competition-server/internal/protocol"
	"github.com/martius-lab/teamproject-competition-server/internal/service"
)

// memUserStore is the in-memory UserStore used by the end to end tests.
type memUserStore struct {
	mu     sync.Mutex
	users  map[int]*models.User
	tokens map[string]int
}

func newMemUserStore() *memUserStore {
	return &memUserStore{
		users:  make(map[int]*models.User),
		tokens: make(map[string]int),
	}
}

func (s *memUserStore) addUser(id int, username, token string, role models.UserRole) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = &models.User{
		ID:       id,
		Username: username,
		Token:    token,
		Role:     role,
		Rating:   models.DefaultRating(),
	}
	s.tokens[token] = id
}

func (s *memUserStore) ResolveToken(token string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.tokens[token]
	if !ok {
		return 0, service.ErrNotFound
	}
	return id, nil
}

func (s *memUserStore) Get(userID int) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, service.ErrNotFound
	}
	copied := *u
	return &copied, nil
}

func (s *memUserStore) MatchmakingParameters(userID int) (models.Rating, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return models.Rating{}, service.ErrNotFound
	}
	return u.Rating, nil
}

func (s *memUserStore) SetMatchmakingParameters(userID int, rating models.Rating) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return service.ErrNotFound
	}
	u.Rating = rating
	return nil
}

func (s *memUserStore) UpdateRatings(user1ID int, rating1 models.Rating, user2ID int, rating2 models.Rating) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u1, ok1 := s.users[user1ID]
	u2, ok2 := s.users[user2ID]
	if !ok1 || !ok2 {
		return service.ErrNotFound
	}
	u1.Rating = rating1
	u2.Rating = rating2
	return nil
}

func (s *memUserStore) rating(userID int) models.Rating {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[userID].Rating
}

type memGameStore struct {
	mu      sync.Mutex
	results []*models.GameResult
}

func (s *memGameStore) Add(result *models.GameResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, result)
	return nil
}

func (s *memGameStore) all() []*models.GameResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.GameResult(nil), s.results...)
}

type testEnv struct {
	srv   *Server
	http  *httptest.Server
	users *memUserStore
	store *memGameStore
}

func newTestEnv(t *testing.T, cfg *config.Config) *testEnv {
	t.Helper()

	users := newMemUserStore()
	store := &memGameStore{}
	players := service.NewPlayerManager(users)
	games := service.NewGameManager(cfg.GameName, store, nil, zap.NewNop())
	matchmaking := service.NewMatchmakingManager(
		players, games, users, service.NewSkillService(), nil,
		service.MatchmakingConfig{
			MatchQualityThreshold:       cfg.MatchQualityThreshold,
			PercentageMinPlayersWaiting: cfg.PercentageMinPlayersWaiting,
			PercentalTimeBonus:          cfg.PercentalTimeBonus,
		},
		zap.NewNop(),
	)

	srv := New(cfg, players, matchmaking, games)
	httpSrv := httptest.NewServer(srv.Router())
	t.Cleanup(httpSrv.Close)
	t.Cleanup(srv.matchmaking.Stop)
	srv.Start()

	return &testEnv{srv: srv, http: httpSrv, users: users, store: store}
}

func testConfig() *config.Config {
	return &config.Config{
		Env:                         "development",
		ProtocolTimeout:             500 * time.Millisecond,
		GameName:                    "rockpaperscissors",
		TickInterval:                10 * time.Millisecond,
		MatchQualityThreshold:       0.3,
		PercentageMinPlayersWaiting: 0,
		PercentalTimeBonus:          0.1,
		ConnRateCapacity:            100,
		ConnRateRefill:              100,
	}
}

// agentClient is a scripted competition client. It answers auth and ready
// requests and plays the same move every round.
type agentClient struct {
	t    *testing.T
	ws   *websocket.Conn
	move float64

	mu       sync.Mutex
	gameIDs  []string
	results  []protocol.EndGameData
	messages []string
	errors   []string

	answerSteps bool
	done        chan struct{}
}

func dialAgent(t *testing.T, env *testEnv, token string, move float64) *agentClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	a := &agentClient{
		t:           t,
		ws:          ws,
		move:        move,
		answerSteps: true,
		done:        make(chan struct{}),
	}
	go a.loop(token)
	t.Cleanup(a.close)
	return a
}

func (a *agentClient) loop(token string) {
	defer close(a.done)
	for {
		var frame protocol.Frame
		if err := a.ws.ReadJSON(&frame); err != nil {
			return
		}

		switch frame.Cmd {
		case protocol.CmdAuth:
			a.reply(frame.ID, protocol.AuthReply{Token: token, Version: protocol.Version})
		case protocol.CmdReady:
			a.reply(frame.ID, protocol.ReadyReply{Ready: true})
		case protocol.CmdStep:
			if a.answering() {
				a.reply(frame.ID, protocol.StepReply{Action: []float64{a.move}})
			}
		case protocol.CmdStartGame:
			var data protocol.StartGameData
			_ = json.Unmarshal(frame.Data, &data)
			a.record(func() { a.gameIDs = append(a.gameIDs, data.GameID) })
		case protocol.CmdEndGame:
			var data protocol.EndGameData
			_ = json.Unmarshal(frame.Data, &data)
			a.record(func() { a.results = append(a.results, data) })
		case protocol.CmdMessage:
			var data protocol.MessageData
			_ = json.Unmarshal(frame.Data, &data)
			a.record(func() { a.messages = append(a.messages, data.Msg) })
		case protocol.CmdError:
			var data protocol.MessageData
			_ = json.Unmarshal(frame.Data, &data)
			a.record(func() { a.errors = append(a.errors, data.Msg) })
		}
	}
}

func (a *agentClient) reply(id uint64, payload any) {
	data, err := json.Marshal(payload)
	require.NoError(a.t, err)
	a.mu.Lock()
	defer a.mu.Unlock()
	_ = a.ws.WriteJSON(protocol.Frame{ID: id, Data: data})
}

func (a *agentClient) answering() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.answerSteps
}

// muteSteps makes the agent ignore further action requests.
func (a *agentClient) muteSteps() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.answerSteps = false
}

func (a *agentClient) record(f func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	f()
}

func (a *agentClient) close() {
	_ = a.ws.Close()
	select {
	case <-a.done:
	case <-time.After(time.Second):
	}
}

func (a *agentClient) snapshotResults() []protocol.EndGameData {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]protocol.EndGameData(nil), a.results...)
}

func (a *agentClient) snapshotMessages() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.messages...)
}

func (a *agentClient) snapshotErrors() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.errors...)
}

func (a *agentClient) gameCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.gameIDs)
}

func TestServerFullGameFlow(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.users.addUser(1, "alice", "token-a", models.RoleUser)
	env.users.addUser(2, "bob", "token-b", models.RoleUser)

	// alice plays rock, bob plays scissors
	alice := dialAgent(t, env, "token-a", 0)
	bob := dialAgent(t, env, "token-b", 2)

	require.Eventually(t, func() bool {
		return len(env.store.all()) >= 1
	}, 5*time.Second, 20*time.Millisecond, "game never finished")

	result := env.store.all()[0]
	assert.Equal(t, models.EndStateWin, result.EndState)
	require.NotNil(t, result.WinnerID)
	assert.Equal(t, 1, *result.WinnerID)

	require.Eventually(t, func() bool {
		return len(alice.snapshotResults()) >= 1 && len(bob.snapshotResults()) >= 1
	}, 5*time.Second, 20*time.Millisecond)

	aliceResult := alice.snapshotResults()[0]
	bobResult := bob.snapshotResults()[0]
	assert.True(t, aliceResult.Result, "alice won")
	assert.False(t, bobResult.Result, "bob lost")
	require.Len(t, aliceResult.Stats, 2)
	assert.Equal(t, []float64{3, 0}, aliceResult.Stats)
	assert.Equal(t, []float64{0, 3}, bobResult.Stats)

	require.Eventually(t, func() bool {
		return env.users.rating(1).Mu > models.DefaultRating().Mu &&
			env.users.rating(2).Mu < models.DefaultRating().Mu
	}, 5*time.Second, 20*time.Millisecond, "ratings never updated")

	// both agents keep answering ready checks, so they are matched again
	require.Eventually(t, func() bool {
		return alice.gameCount() >= 2 && bob.gameCount() >= 2
	}, 5*time.Second, 20*time.Millisecond, "players were not re-queued")

	assert.Contains(t, alice.snapshotMessages(), "Authentication successful")
	assert.Contains(t, alice.snapshotMessages(), "Waiting in queue")
}

func TestServerDisconnectedPlayerForfeits(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.users.addUser(1, "alice", "token-a", models.RoleUser)
	env.users.addUser(2, "bob", "token-b", models.RoleUser)

	alice := dialAgent(t, env, "token-a", 0)
	bob := dialAgent(t, env, "token-b", 2)

	require.Eventually(t, func() bool {
		return alice.gameCount() >= 1 && bob.gameCount() >= 1
	}, 5*time.Second, 20*time.Millisecond, "players never matched")

	// alice drops mid game
	alice.close()

	require.Eventually(t, func() bool {
		results := env.store.all()
		return len(results) >= 1 && results[0].EndState == models.EndStateDisconnected
	}, 5*time.Second, 20*time.Millisecond, "disconnect result never stored")

	result := env.store.all()[0]
	require.NotNil(t, result.DisconnectedID)
	assert.Equal(t, 1, *result.DisconnectedID)

	require.Eventually(t, func() bool {
		return env.users.rating(1).Mu < models.DefaultRating().Mu &&
			env.users.rating(2).Mu > models.DefaultRating().Mu
	}, 5*time.Second, 20*time.Millisecond, "forfeit ratings never applied")

	require.Eventually(t, func() bool {
		for _, msg := range bob.snapshotMessages() {
			if msg == "Game ended because another player disconnected" {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)
}

func TestServerUnresponsivePlayerTimesOut(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.users.addUser(1, "alice", "token-a", models.RoleUser)
	env.users.addUser(2, "bob", "token-b", models.RoleUser)

	alice := dialAgent(t, env, "token-a", 0)
	alice.muteSteps()
	bob := dialAgent(t, env, "token-b", 2)

	require.Eventually(t, func() bool {
		results := env.store.all()
		return len(results) >= 1 && results[0].EndState == models.EndStateDisconnected
	}, 5*time.Second, 20*time.Millisecond, "timeout never ended the game")

	result := env.store.all()[0]
	require.NotNil(t, result.DisconnectedID)
	assert.Equal(t, 1, *result.DisconnectedID)

	require.Eventually(t, func() bool {
		for _, msg := range alice.snapshotErrors() {
			if strings.HasPrefix(msg, "Timeout after") {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond, "timeout reason never sent")

	require.Eventually(t, func() bool {
		for _, msg := range bob.snapshotMessages() {
			if msg == "Game ended because another player disconnected" {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)
}

func TestServerRejectsUnknownToken(t *testing.T) {
	env := newTestEnv(t, testConfig())

	agent := dialAgent(t, env, "bogus-token", 0)

	require.Eventually(t, func() bool {
		for _, msg := range agent.snapshotErrors() {
			if msg == "Authentication failed" {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)

	select {
	case <-agent.done:
	case <-time.After(5 * time.Second):
		t.Fatal("connection was not closed after failed auth")
	}
	assert.Equal(t, 0, env.srv.players.ConnectedCount())
}

func TestServerHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, testConfig())

	resp, err := env.http.Client().Get(env.http.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, 200, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestServerRateLimitsConnectionAttempts(t *testing.T) {
	cfg := testConfig()
	cfg.ConnRateCapacity = 1
	cfg.ConnRateRefill = 1
	env := newTestEnv(t, cfg)
	env.users.addUser(1, "alice", "token-a", models.RoleUser)

	dialAgent(t, env, "token-a", 0)

	url := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 429, resp.StatusCode)
}
