package main

import (
	"encoding/json"
)

// Every inbound websocket message arrives in the same envelope. The type
// field selects the payload struct to decode into; unknown types are ignored,
// matching the lenient handling of advisory client messages elsewhere.
type clientEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (e clientEnvelope) decode(dst any) bool {
	if len(e.Payload) == 0 {
		return false
	}
	return json.Unmarshal(e.Payload, dst) == nil
}

// ---- Pong room service, inbound ----

type joinRoomPayload struct {
	Room string `json:"room"`
}

type startRoomGamePayload struct {
	Room string `json:"room"`
	Mode string `json:"mode"`
}

// pongInput is the raw controller state. The server never interprets it;
// the display client owns the simulation.
type pongInput struct {
	Left   bool `json:"left"`
	Right  bool `json:"right"`
	Up     bool `json:"up"`
	Down   bool `json:"down"`
	Action bool `json:"action"`
}

type inputPayload struct {
	Room  string    `json:"room"`
	Input pongInput `json:"input"`
}

// ---- Pong room service, outbound ----

type roomCreatedMessage struct {
	Type string `json:"type"` // "room"
	Room string `json:"room"`
}

type roomJoinedMessage struct {
	Type   string `json:"type"` // "joined"
	OK     bool   `json:"ok"`
	Player int    `json:"player,omitempty"` // 1-based slot number
	Error  string `json:"error,omitempty"`
}

type roomUpdateMessage struct {
	Type  string  `json:"type"` // "roomUpdate"
	Slots [4]bool `json:"slots"`
}

// roomClosedMessage is the last thing members hear before an idle room's
// connections are shut down.
type roomClosedMessage struct {
	Type string `json:"type"` // "roomClosed"
	Room string `json:"room"`
}

type roomStartMessage struct {
	Type string `json:"type"` // "startGame"
	Mode string `json:"mode"`
}

// playerInput carries the slot number stamped by the server from its own
// connection table; a client-supplied player number is never trusted.
type playerInputMessage struct {
	Type   string    `json:"type"` // "playerInput"
	Player int       `json:"player"`
	Input  pongInput `json:"input"`
}

// ---- Trivia hub service, inbound ----

type joinHubPayload struct {
	Name string `json:"name"`
	PID  string `json:"pid,omitempty"`
}

type setNamePayload struct {
	PID  string `json:"pid"`
	Name string `json:"name"`
}

type setReadyPayload struct {
	PID   string `json:"pid"`
	Ready bool   `json:"ready"`
}

type chooseGamePayload struct {
	ID string `json:"id"`
}

type startGamePayload struct {
	Rounds int `json:"rounds"`
}

type answerPayload struct {
	PID    string `json:"pid"`
	Choice string `json:"choice"`
}

// ---- Trivia hub service, outbound ----

type hubPlayerInfo struct {
	PID   string `json:"pid"`
	Name  string `json:"name"`
	Ready bool   `json:"ready"`
}

type hubStateMessage struct {
	Type         string          `json:"type"` // "hubState"
	Code         string          `json:"code"`
	Players      []hubPlayerInfo `json:"players"`
	CurrentGame  string          `json:"currentGame,omitempty"`
	Availability []gameModeInfo  `json:"availability"`
	Host         string          `json:"host,omitempty"`
}

type hubJoinedMessage struct {
	Type string `json:"type"` // "joined"
	PID  string `json:"pid"`
	Name string `json:"name"`
	Code string `json:"code"`
}

type gameSelectedMessage struct {
	Type string       `json:"type"` // "gameSelected"
	ID   string       `json:"id"`
	Meta gameModeInfo `json:"meta"`
}

type restoreSnapshotMessage struct {
	Type     string         `json:"type"` // "restoreSnapshot"
	Snapshot *roundSnapshot `json:"snapshot"`
}

type preQuestionMessage struct {
	Type     string `json:"type"` // "preQuestion"
	Title    string `json:"title"`
	Idx      int    `json:"idx"`
	Total    int    `json:"total"`
	TimerSec int    `json:"timerSec"`
}

// questionMessage is sent as "lbQuestion" for single-answer modes and as
// "csSelf" or "csGuess" for the two sub-phases of couples modes. The correct
// option never leaves the server before the reveal.
type questionMessage struct {
	Type     string       `json:"type"`
	Q        questionView `json:"q"`
	Idx      int          `json:"idx"`
	Total    int          `json:"total"`
	EndsAt   int64        `json:"endsAt"` // unix milliseconds
	TimerSec int          `json:"timerSec"`
	Title    string       `json:"title,omitempty"`
}

type timerMessage struct {
	Type  string `json:"type"` // "timer"
	Left  int64  `json:"left"` // milliseconds remaining
	Total int64  `json:"total"`
}

// revealMessage is sent as "lbReveal" or "csReveal".
type revealMessage struct {
	Type    string            `json:"type"`
	Correct string            `json:"correct"`
	Scores  map[string]int    `json:"scores"`
	Picks   map[string]string `json:"picks"`
}

// gameOverMessage is sent as "lbGameOver" or "csGameOver".
type gameOverMessage struct {
	Type   string         `json:"type"`
	Scores map[string]int `json:"scores"`
}

type toastMessage struct {
	Type string `json:"type"` // "toast"
	Msg  string `json:"msg"`
}
