package protocol

import (
	"context"
	"sync"

	"github.com/martius-lab/teamproject-competition-server/internal/models"
)

// Player adapts a Conn into the capability set the rest of the server works
// with. A Player exists from connect to disconnect; its ID is scoped to this
// one connection and never persisted.
type Player struct {
	id   models.PlayerID
	conn *Conn

	mu      sync.RWMutex
	userID  int
	hasUser bool
}

func NewPlayer(conn *Conn) *Player {
	return &Player{
		id:   models.NewPlayerID(),
		conn: conn,
	}
}

func (p *Player) ID() models.PlayerID {
	return p.id
}

// UserID returns the bound account, if authentication has completed.
func (p *Player) UserID() (int, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.userID, p.hasUser
}

// SetUserID binds the player to an account. Done once, on successful auth.
func (p *Player) SetUserID(userID int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.userID = userID
	p.hasUser = true
}

func (p *Player) Connected() bool {
	return !p.conn.Closed()
}

// Authenticate round-trips an auth request and returns the client's token.
func (p *Player) Authenticate() (string, error) {
	return p.conn.Auth()
}

// IsReady round-trips a readiness check.
func (p *Player) IsReady() (bool, error) {
	return p.conn.IsReady()
}

// NotifyStart tells the player which game it was matched into.
func (p *Player) NotifyStart(gameID models.GameID) {
	if p.Connected() {
		p.conn.NotifyStart(string(gameID))
	}
}

// GetAction round-trips one observation and returns the player's action.
func (p *Player) GetAction(ctx context.Context, obv []float64) ([]float64, error) {
	return p.conn.GetStep(ctx, obv)
}

// NotifyEnd tells the player its game is over, with its final statistics.
func (p *Player) NotifyEnd(result bool, stats []float64) {
	if p.Connected() {
		p.conn.NotifyEnd(result, stats)
	}
}

// NotifyError sends an error message without closing the connection.
func (p *Player) NotifyError(msg string) {
	if p.Connected() {
		p.conn.SendError(msg)
	}
}

// NotifyInfo sends an informational message.
func (p *Player) NotifyInfo(msg string) {
	if p.Connected() {
		p.conn.SendMessage(msg)
	}
}

// Disconnect sends the reason to the client and closes the connection.
func (p *Player) Disconnect(reason string) {
	p.conn.SendError(reason)
	p.conn.Close()
}
