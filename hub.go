// Partyhub Trivia Service
//
// One shared lobby per service instance: a TV display registers as the shared
// screen, phones join as controllers, and the server runs the trivia rounds
// itself. Identity is anchored on a client-persisted pid so a phone that
// drops and reconnects gets its name, ready state, and, mid-round, a snapshot
// of the current phase back.
//
// Features:
// - Hub constructed at registration time and injected into every handler,
//   so tests (or multiple mounts) can run their own instances
// - Stable pids minted server-side; connection ids are never identity
// - Host is an explicit field, first joiner wins, handed to the lowest
//   join-sequence survivor on disconnect
// - Game flow commands accepted only from the display or the host
// - Per-mode min/max player availability checked at start time
// - In-browser QR sharing of the hub URL, backed by go-qrcode

package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

const maxPlayerNameLength = 16

type hubClient struct {
	conn *websocket.Conn
	send chan any
	id   string
}

// hubPlayer is the stable identity behind a transient connection. The client
// field is nil while the player is disconnected; the record survives until an
// explicit leave so a reconnect with the same pid resumes seamlessly.
type hubPlayer struct {
	pid     string
	name    string
	ready   bool
	joinSeq int
	client  *hubClient

	// disconnectedAt is refreshed on every detach, so a removal timer from
	// an earlier disconnect cannot forget a player who has since come back
	// and dropped again.
	disconnectedAt time.Time
}

type triviaHub struct {
	cfg *Config

	mu       sync.Mutex
	code     string
	display  *hubClient
	clients  map[*hubClient]bool
	players  map[string]*hubPlayer // keyed by pid
	byClient map[*hubClient]string // connection → pid
	hostPID  string
	joinSeq  int

	currentGame  string
	lastSnapshot *roundSnapshot
	round        *triviaRound
	generation   int

	timing roundTiming
}

func newTriviaHub(cfg *Config) *triviaHub {
	return &triviaHub{
		cfg:      cfg,
		code:     newRoomCode(),
		clients:  make(map[*hubClient]bool),
		players:  make(map[string]*hubPlayer),
		byClient: make(map[*hubClient]string),
		timing:   defaultRoundTiming(),
	}
}

// newPID mints a stable player identifier: millisecond timestamp plus a
// random suffix. Collisions are not checked, same trade-off as room codes.
func newPID() string {
	buf := make([]byte, 3)
	if _, err := rand.Read(buf); err != nil {
		panic("crypto/rand failure: " + err.Error())
	}
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), hex.EncodeToString(buf))
}

func truncateName(name string) string {
	runes := []rune(name)
	if len(runes) > maxPlayerNameLength {
		return string(runes[:maxPlayerNameLength])
	}
	return name
}

// sendTo queues a message for one connection, evicting it if the buffer is
// full. Once evicted the connection is gone from h.clients and later sends
// to it become no-ops, so handlers may follow a broadcast with direct sends
// without checking for eviction themselves.
func (h *triviaHub) sendTo(c *hubClient, msg any) {
	if !h.clients[c] {
		return
	}

	select {
	case c.send <- msg:
	default:
		h.detachLocked(c)
		close(c.send)
	}
}

func (h *triviaHub) broadcastLocked(msg any) {
	for c := range h.clients {
		h.sendTo(c, msg)
	}
}

// connectedPlayersLocked returns currently-connected players ordered by join
// sequence, which is also the deterministic host tie-break order.
func (h *triviaHub) connectedPlayersLocked() []*hubPlayer {
	players := make([]*hubPlayer, 0, len(h.players))
	for _, p := range h.players {
		if p.client != nil {
			players = append(players, p)
		}
	}
	sort.Slice(players, func(i, j int) bool {
		return players[i].joinSeq < players[j].joinSeq
	})
	return players
}

func (h *triviaHub) hubStateLocked() hubStateMessage {
	connected := h.connectedPlayersLocked()
	players := make([]hubPlayerInfo, 0, len(connected))
	for _, p := range connected {
		players = append(players, hubPlayerInfo{
			PID:   p.pid,
			Name:  p.name,
			Ready: p.ready,
		})
	}

	return hubStateMessage{
		Type:         "hubState",
		Code:         h.code,
		Players:      players,
		CurrentGame:  h.currentGame,
		Availability: gameModeList(),
		Host:         h.hostPID,
	}
}

func (h *triviaHub) broadcastHubStateLocked() {
	h.broadcastLocked(h.hubStateLocked())
}

// isFlowControllerLocked reports whether a connection may drive game flow:
// the display, or the connection of the current host player.
func (h *triviaHub) isFlowControllerLocked(c *hubClient) bool {
	if c == h.display {
		return true
	}
	pid, ok := h.byClient[c]
	return ok && pid != "" && pid == h.hostPID
}

// registerDisplay binds a connection as the shared screen. Idempotent; a
// reloaded display immediately gets the hub state and, mid-round, the latest
// snapshot so it resumes without replaying history.
func (h *triviaHub) registerDisplay(c *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.display = c
	logf(h.cfg, "GAMES: Display registered on hub %s", h.code)

	h.sendTo(c, h.hubStateLocked())

	if h.lastSnapshot != nil {
		h.sendTo(c, restoreSnapshotMessage{
			Type:     "restoreSnapshot",
			Snapshot: h.lastSnapshot,
		})
	}
}

// joinHub registers a controller. A recognized pid re-associates the existing
// identity with the new connection; otherwise a fresh pid is minted. The
// first player to join becomes host when none exists.
func (h *triviaHub) joinHub(c *hubClient, name, pid string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	name = truncateName(name)

	player, known := h.players[pid]
	if pid == "" || !known {
		pid = newPID()
		h.joinSeq++
		player = &hubPlayer{
			pid:     pid,
			name:    name,
			joinSeq: h.joinSeq,
		}
		h.players[pid] = player
		logf(h.cfg, "GAMES: Player %q joined hub %s", name, h.code)
	} else {
		if name != "" {
			player.name = name
		}
		if player.client != nil && player.client != c {
			delete(h.byClient, player.client)
		}
		logf(h.cfg, "GAMES: Player %q reconnected to hub %s", player.name, h.code)
	}

	player.client = c
	h.byClient[c] = pid

	if h.hostPID == "" {
		h.hostPID = pid
	}

	h.sendTo(c, hubJoinedMessage{
		Type: "joined",
		PID:  pid,
		Name: player.name,
		Code: h.code,
	})

	h.broadcastHubStateLocked()

	if h.round != nil && h.lastSnapshot != nil {
		h.sendTo(c, restoreSnapshotMessage{
			Type:     "restoreSnapshot",
			Snapshot: h.lastSnapshot,
		})
	}
}

// setName and setReady are advisory UI states: mutations are keyed on the
// sender's own registered identity and silently ignored for connections that
// never joined.
func (h *triviaHub) setName(c *hubClient, name string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	player := h.playerOfLocked(c)
	if player == nil || name == "" {
		return
	}

	player.name = truncateName(name)
	h.broadcastHubStateLocked()
}

func (h *triviaHub) setReady(c *hubClient, ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	player := h.playerOfLocked(c)
	if player == nil {
		return
	}

	player.ready = ready
	h.broadcastHubStateLocked()
}

// playerOfLocked resolves the sender's player record from the connection
// table; the pid a client reports in its payloads is never trusted.
func (h *triviaHub) playerOfLocked(c *hubClient) *hubPlayer {
	pid, ok := h.byClient[c]
	if !ok {
		return nil
	}
	return h.players[pid]
}

// leave removes the sender's identity entirely; unlike a disconnect, there is
// nothing left to reconnect to afterwards.
func (h *triviaHub) leave(c *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	player := h.playerOfLocked(c)
	if player == nil {
		return
	}

	delete(h.players, player.pid)
	delete(h.byClient, c)
	logf(h.cfg, "GAMES: Player %q left hub %s", player.name, h.code)

	if h.hostPID == player.pid {
		h.electHostLocked()
	}

	h.broadcastHubStateLocked()

	if h.round != nil {
		h.round.checkEarlyEndLocked()
	}
}

// electHostLocked hands the host role to the connected player with the
// lowest join sequence, or clears it when nobody is left.
func (h *triviaHub) electHostLocked() {
	h.hostPID = ""
	for _, p := range h.connectedPlayersLocked() {
		h.hostPID = p.pid
		break
	}
}

// chooseGame selects a mode for the lobby and resets everyone's ready flag.
func (h *triviaHub) chooseGame(c *hubClient, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.isFlowControllerLocked(c) {
		return
	}

	mode, ok := gameModes[id]
	if !ok {
		h.sendTo(c, toastMessage{Type: "toast", Msg: "Unknown game"})
		return
	}

	h.currentGame = id
	for _, p := range h.players {
		p.ready = false
	}

	h.broadcastLocked(gameSelectedMessage{
		Type: "gameSelected",
		ID:   id,
		Meta: mode.info(),
	})
	h.broadcastHubStateLocked()
}

// startGame validates the player count against the mode's availability rule
// and, if it holds, starts a fresh round. A previous round's timers are
// cancelled and its generation retired before the new one begins.
func (h *triviaHub) startGame(c *hubClient, rounds int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.isFlowControllerLocked(c) {
		return
	}

	mode, ok := gameModes[h.currentGame]
	if !ok {
		h.sendTo(c, toastMessage{Type: "toast", Msg: "Choose a game first"})
		return
	}

	count := len(h.connectedPlayersLocked())
	if count < mode.MinPlayers || count > mode.MaxPlayers {
		h.sendTo(c, toastMessage{
			Type: "toast",
			Msg:  fmt.Sprintf("%s needs %d to %d players", mode.Label, mode.MinPlayers, mode.MaxPlayers),
		})
		return
	}

	if rounds < 1 {
		rounds = defaultRoundCount
	}

	h.generation++
	if h.round != nil {
		h.round.stopLocked()
	}

	logf(h.cfg, "GAMES: Starting %s with %d players on hub %s", mode.ID, count, h.code)

	h.round = newTriviaRound(h, mode, rounds)
	h.round.startLocked()
}

func (h *triviaHub) answer(c *hubClient, choice string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	player := h.playerOfLocked(c)
	if player == nil || h.round == nil {
		return
	}

	h.round.submitLocked(player.pid, choice)
}

// detachLocked undoes a connection's registrations without touching the
// player record, so the pid can reconnect later. Assumes h.mu is held.
func (h *triviaHub) detachLocked(c *hubClient) {
	delete(h.clients, c)

	if h.display == c {
		h.display = nil
	}

	if pid, ok := h.byClient[c]; ok {
		delete(h.byClient, c)
		if player := h.players[pid]; player != nil && player.client == c {
			player.client = nil
			player.disconnectedAt = time.Now()
		}
		if h.hostPID == pid {
			h.electHostLocked()
		}
	}
}

func (h *triviaHub) disconnect(c *hubClient) {
	h.mu.Lock()

	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}

	pid := h.byClient[c]

	h.detachLocked(c)
	close(c.send)

	h.broadcastHubStateLocked()

	if h.round != nil {
		h.round.checkEarlyEndLocked()
	}

	h.mu.Unlock()

	if pid != "" && h.cfg.playerTimeout > 0 {
		go h.scheduleRemoval(pid, h.cfg.playerTimeout)
	}
}

// scheduleRemoval waits for d, and if the pid has not reconnected in the
// meantime, forgets the player entirely and broadcasts fresh hub state.
func (h *triviaHub) scheduleRemoval(pid string, d time.Duration) {
	time.Sleep(d)

	h.forgetIfExpired(pid, d)
}

// forgetIfExpired drops a disconnected player, unless a later reconnect
// cycle refreshed the disconnect timestamp since the caller started waiting.
func (h *triviaHub) forgetIfExpired(pid string, d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	player := h.players[pid]
	if player == nil || player.client != nil {
		return
	}
	if time.Since(player.disconnectedAt) < d {
		return
	}

	delete(h.players, pid)
	logf(h.cfg, "GAMES: Forgot idle player %q on hub %s", player.name, h.code)

	if h.hostPID == pid {
		h.electHostLocked()
	}

	h.broadcastHubStateLocked()
}

func (h *triviaHub) register(c *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[c] = true
}

func (h *triviaHub) handle(c *hubClient, env clientEnvelope) {
	switch env.Type {
	case "registerTV":
		h.registerDisplay(c)

	case "joinHub":
		var p joinHubPayload
		if env.decode(&p) {
			h.joinHub(c, p.Name, p.PID)
		}

	case "setName":
		var p setNamePayload
		if env.decode(&p) {
			h.setName(c, p.Name)
		}

	case "setReady":
		var p setReadyPayload
		if env.decode(&p) {
			h.setReady(c, p.Ready)
		}

	case "leave":
		h.leave(c)

	case "chooseGame":
		var p chooseGamePayload
		if env.decode(&p) {
			h.chooseGame(c, p.ID)
		}

	case "startGame":
		var p startGamePayload
		if env.decode(&p) {
			h.startGame(c, p.Rounds)
		}

	case "answer", "answerCouplesPhase":
		var p answerPayload
		if env.decode(&p) {
			h.answer(c, p.Choice)
		}

	default:
		// ignore unknown types
	}
}

func (c *hubClient) readPump(h *triviaHub) {
	defer func() {
		h.disconnect(c)
		_ = c.conn.Close()
	}()

	for {
		var env clientEnvelope
		if err := c.conn.ReadJSON(&env); err != nil {
			return
		}
		h.handle(c, env)
	}
}

func (c *hubClient) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

func serveHubWS(cfg *Config, h *triviaHub) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		client := &hubClient{
			conn: conn,
			send: make(chan any, 16),
			id:   uuid.NewString(),
		}

		h.register(client)

		go client.writePump()
		client.readPump(h)
	}
}

// registerTriviaGame sets up routes so that:
//   - $path/ws → WebSocket shared by the display and controllers
//   - $path/qr → PNG QR code linking to the hub
//
// The hub instance lives for the lifetime of the process but is owned by the
// caller, not by package state.
func registerTriviaGame(cfg *Config, path string, mux *httprouter.Router) *triviaHub {
	hub := newTriviaHub(cfg)

	mux.GET(cfg.prefix+path+"/ws", serveHubWS(cfg, hub))
	mux.GET(cfg.prefix+path+"/qr", qrHandler(cfg, path))

	return hub
}
