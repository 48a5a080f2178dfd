// Package protocol implements the wire protocol spoken with agent clients:
// JSON frames over a persistent websocket, with request/response correlation
// and an independent timeout per round trip.
package protocol

import "encoding/json"

// Version of the wire protocol. Clients reporting a different version during
// authentication are rejected.
const Version uint32 = 1

const (
	CmdAuth      = "auth"
	CmdReady     = "ready"
	CmdStartGame = "start_game"
	CmdStep      = "step"
	CmdEndGame   = "end_game"
	CmdError     = "error"
	CmdMessage   = "message"
)

// Frame is the envelope of every message. Server requests carry a fresh
// correlation ID and a command; client responses echo the ID back.
// Fire-and-forget commands are sent with ID 0 and expect no response.
type Frame struct {
	ID   uint64          `json:"id,omitempty"`
	Cmd  string          `json:"cmd,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// AuthReply is the client's answer to an auth request.
type AuthReply struct {
	Token   string `json:"token"`
	Version uint32 `json:"version"`
}

// ReadyReply is the client's answer to a ready check.
type ReadyReply struct {
	Ready bool `json:"ready"`
}

// StartGameData notifies the client of the game it was matched into.
type StartGameData struct {
	GameID string `json:"game_id"`
}

// StepData carries the observation for one action request.
type StepData struct {
	Obv []float64 `json:"obv"`
}

// StepReply is the client's action for one round.
type StepReply struct {
	Action []float64 `json:"action"`
}

// EndGameData notifies the client of its result and final statistics.
type EndGameData struct {
	Result bool      `json:"result"`
	Stats  []float64 `json:"stats"`
}

// MessageData is the payload of error and info messages.
type MessageData struct {
	Msg string `json:"msg"`
}
