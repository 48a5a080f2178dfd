package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/martius-lab/teamproject-competition-server/pkg/logger"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 64 * 1024
)

var (
	ErrTimeout         = errors.New("round trip timed out")
	ErrClosed          = errors.New("connection closed")
	ErrVersionMismatch = errors.New("client version mismatch")
)

// Conn wraps one websocket connection to an agent client. Round trips
// (Auth, IsReady, GetStep) block the calling goroutine until the client
// answers or the per-call timer expires; many round trips may be outstanding
// at once, each resolved by its correlation ID.
//
// On timer expiry the registered timeout handler fires instead of the normal
// continuation. The connection is not closed by this layer; the timeout
// policy belongs to the caller.
type Conn struct {
	ws      *websocket.Conn
	timeout time.Duration

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[uint64]chan json.RawMessage
	nextID    uint64

	onTimeout func(timeout time.Duration)
	onError   func(err error)
	onClose   func()

	closeOnce sync.Once
	done      chan struct{}

	logger *zap.Logger
}

// NewConn wraps an upgraded websocket. Handlers must be set before Start.
func NewConn(ws *websocket.Conn, timeout time.Duration) *Conn {
	return &Conn{
		ws:      ws,
		timeout: timeout,
		pending: make(map[uint64]chan json.RawMessage),
		done:    make(chan struct{}),
		logger:  logger.L(),
	}
}

// SetTimeoutHandler registers the handler invoked when a round trip expires.
func (c *Conn) SetTimeoutHandler(h func(timeout time.Duration)) { c.onTimeout = h }

// SetErrorHandler registers the handler invoked on transport failures.
func (c *Conn) SetErrorHandler(h func(err error)) { c.onError = h }

// SetCloseHandler registers the handler invoked once when the connection dies.
func (c *Conn) SetCloseHandler(h func()) { c.onClose = h }

// Start launches the read loop and keepalive pings.
func (c *Conn) Start() {
	go c.readLoop()
	go c.pingLoop()
}

// Closed reports whether the connection has been torn down.
func (c *Conn) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Close tears the connection down. Safe to call multiple times and from any
// goroutine; all outstanding round trips fail with ErrClosed.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.ws.Close()
		c.writeMu.Unlock()

		close(c.done)

		if c.onClose != nil {
			c.onClose()
		}
	})
}

func (c *Conn) readLoop() {
	defer c.Close()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.reportError(err)
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil || frame.ID == 0 {
			// malformed frames are fatal to the connection
			c.SendError("malformed frame")
			return
		}

		c.pendingMu.Lock()
		ch, ok := c.pending[frame.ID]
		if ok {
			delete(c.pending, frame.ID)
		}
		c.pendingMu.Unlock()

		if !ok {
			// reply to an expired or unknown call, drop it
			c.logger.Debug("Dropping reply with unknown correlation id", zap.Uint64("id", frame.ID))
			continue
		}
		ch <- frame.Data
	}
}

func (c *Conn) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.ws.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Conn) writeFrame(frame Frame) error {
	if c.Closed() {
		return ErrClosed
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// call performs one request/response round trip bound to its own timer.
func (c *Conn) call(ctx context.Context, cmd string, payload any) (json.RawMessage, error) {
	var data json.RawMessage
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", cmd, err)
		}
		data = encoded
	}

	id := atomic.AddUint64(&c.nextID, 1)
	ch := make(chan json.RawMessage, 1)

	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	unregister := func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}

	if err := c.writeFrame(Frame{ID: id, Cmd: cmd, Data: data}); err != nil {
		unregister()
		c.reportError(err)
		return nil, err
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case reply := <-ch:
		return reply, nil
	case <-timer.C:
		unregister()
		if c.onTimeout != nil {
			c.onTimeout(c.timeout)
		}
		return nil, ErrTimeout
	case <-ctx.Done():
		unregister()
		return nil, ctx.Err()
	case <-c.done:
		unregister()
		c.reportError(ErrClosed)
		return nil, ErrClosed
	}
}

func (c *Conn) reportError(err error) {
	if c.onError != nil {
		c.onError(err)
	}
}

// Auth requests the client's token. A client answering with the wrong
// protocol version is rejected and disconnected.
func (c *Conn) Auth() (string, error) {
	reply, err := c.call(context.Background(), CmdAuth, nil)
	if err != nil {
		return "", err
	}

	var auth AuthReply
	if err := json.Unmarshal(reply, &auth); err != nil {
		c.reportError(fmt.Errorf("bad auth reply: %w", err))
		return "", err
	}

	if auth.Version != Version {
		c.logger.Error("Client with wrong version tried to authenticate",
			zap.Uint32("clientVersion", auth.Version),
			zap.Uint32("serverVersion", Version))
		c.SendError("Tried to connect with wrong version")
		c.Close()
		return "", ErrVersionMismatch
	}

	return auth.Token, nil
}

// IsReady asks the client whether it is ready to be queued for a game.
func (c *Conn) IsReady() (bool, error) {
	reply, err := c.call(context.Background(), CmdReady, nil)
	if err != nil {
		return false, err
	}

	var ready ReadyReply
	if err := json.Unmarshal(reply, &ready); err != nil {
		c.reportError(fmt.Errorf("bad ready reply: %w", err))
		return false, err
	}
	return ready.Ready, nil
}

// GetStep sends an observation and waits for the client's action. The
// context cancels the wait without firing the timeout handler, used when a
// round is aborted by another player.
func (c *Conn) GetStep(ctx context.Context, obv []float64) ([]float64, error) {
	reply, err := c.call(ctx, CmdStep, StepData{Obv: obv})
	if err != nil {
		return nil, err
	}

	var step StepReply
	if err := json.Unmarshal(reply, &step); err != nil {
		c.reportError(fmt.Errorf("bad step reply: %w", err))
		return nil, err
	}
	return step.Action, nil
}

// NotifyStart tells the client its game has started. Fire-and-forget.
func (c *Conn) NotifyStart(gameID string) {
	if err := c.writeFrame(Frame{Cmd: CmdStartGame, Data: mustMarshal(StartGameData{GameID: gameID})}); err != nil {
		c.reportError(err)
	}
}

// NotifyEnd tells the client its game is over. Fire-and-forget.
func (c *Conn) NotifyEnd(result bool, stats []float64) {
	if err := c.writeFrame(Frame{Cmd: CmdEndGame, Data: mustMarshal(EndGameData{Result: result, Stats: stats})}); err != nil {
		c.reportError(err)
	}
}

// SendError sends an error string to the client. Best effort.
func (c *Conn) SendError(msg string) {
	if err := c.writeFrame(Frame{Cmd: CmdError, Data: mustMarshal(MessageData{Msg: msg})}); err != nil {
		c.reportError(err)
	}
}

// SendMessage sends an informational string to the client. Best effort.
func (c *Conn) SendMessage(msg string) {
	if err := c.writeFrame(Frame{Cmd: CmdMessage, Data: mustMarshal(MessageData{Msg: msg})}); err != nil {
		c.reportError(err)
	}
}

func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
