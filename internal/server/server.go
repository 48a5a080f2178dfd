// Package server ties the websocket endpoint to the session engine. It
// accepts agent connections, runs the authentication handshake and hands
// authenticated players over to matchmaking.
package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/martius-lab/teamproject-competition-server/internal/config"
	"github.com/martius-lab/teamproject-competition-server/internal/protocol"
	"github.com/martius-lab/teamproject-competition-server/internal/service"
	"github.com/martius-lab/teamproject-competition-server/pkg/logger"
	"github.com/martius-lab/teamproject-competition-server/pkg/ratelimit"
)

type Server struct {
	cfg         *config.Config
	players     *service.PlayerManager
	matchmaking *service.MatchmakingManager
	games       *service.GameManager

	limiter  *ratelimit.Limiter
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

func New(
	cfg *config.Config,
	players *service.PlayerManager,
	matchmaking *service.MatchmakingManager,
	games *service.GameManager,
) *Server {
	return &Server{
		cfg:         cfg,
		players:     players,
		matchmaking: matchmaking,
		games:       games,
		limiter:     ratelimit.NewLimiter(cfg.ConnRateCapacity, cfg.ConnRateRefill),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// agents connect from anywhere, not from browsers
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger.L(),
	}
}

// Router builds the HTTP endpoint set: a health probe and the websocket
// entry point for agents.
func (s *Server) Router() *gin.Engine {
	if s.cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.requestLogger())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":       "ok",
			"players":      s.players.ConnectedCount(),
			"queue":        s.matchmaking.QueueLen(),
			"active_games": s.games.Count(),
		})
	})
	router.GET("/ws", s.handleWS)

	return router
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		s.logger.Info("HTTP Request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()))
	}
}

func (s *Server) handleWS(c *gin.Context) {
	if !s.limiter.Allow(c.ClientIP()) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many connection attempts"})
		return
	}

	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.String("ip", c.ClientIP()), zap.Error(err))
		return
	}

	s.handleConnection(ws)
}

// handleConnection wires one websocket into the session engine and kicks
// off the authentication handshake.
func (s *Server) handleConnection(ws *websocket.Conn) {
	conn := protocol.NewConn(ws, s.cfg.ProtocolTimeout)
	player := protocol.NewPlayer(conn)

	conn.SetTimeoutHandler(func(timeout time.Duration) {
		player.Disconnect(fmt.Sprintf("Timeout after %gs", timeout.Seconds()))
	})
	conn.SetErrorHandler(func(err error) {
		if player.Connected() {
			s.logger.Warn("connection error",
				zap.String("player_id", string(player.ID())), zap.Error(err))
			return
		}
		s.logger.Debug("error on closed connection",
			zap.String("player_id", string(player.ID())), zap.Error(err))
	})
	conn.SetCloseHandler(func() {
		s.onDisconnect(player)
	})

	s.players.Add(player)
	s.logger.Info("player connected", zap.String("player_id", string(player.ID())))

	conn.Start()
	go s.authenticate(player)
}

// authenticate runs the blocking token handshake. Players that fail it are
// disconnected, successful ones go straight into matchmaking.
func (s *Server) authenticate(player *protocol.Player) {
	token, err := player.Authenticate()
	if err != nil {
		s.logger.Debug("authentication handshake failed",
			zap.String("player_id", string(player.ID())), zap.Error(err))
		return
	}

	if !s.players.Auth(player.ID(), token) {
		player.Disconnect("Authentication failed")
		return
	}

	player.NotifyInfo("Authentication successful")
	s.matchmaking.TryMatch(player.ID())
}

// onDisconnect runs exactly once per connection, no matter which side
// closed it. Matchmaking and player state are cleared before the player's
// running game is ended, so the player cannot be re-queued by the game's
// finish callbacks.
func (s *Server) onDisconnect(player *protocol.Player) {
	s.logger.Info("player disconnected", zap.String("player_id", string(player.ID())))
	s.matchmaking.Remove(player.ID())
	s.players.Remove(player)
	s.games.ForceGameEnd(player.ID())
}

// Start launches the matchmaking loop.
func (s *Server) Start() {
	s.matchmaking.Start(s.cfg.TickInterval)
}

// Stop halts matchmaking and drops every connection.
func (s *Server) Stop() {
	s.matchmaking.Stop()
	s.players.DisconnectAll("Server shutting down")
}
