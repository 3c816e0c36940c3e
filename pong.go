// Partyhub Pong Room Service
//
// A display client creates a room and shows its 6-character code; up to four
// phones join by code and become numbered controllers. The server owns only
// the room/slot bookkeeping and relays raw input; the pong simulation itself
// runs on the display client, which is the single consumer of authority.
//
// Features:
// - Rooms keyed by random 6-char uppercase alphanumeric codes
// - Lowest free slot assignment, stable until leave or disconnect
// - Input relayed to the whole room, re-stamped with the server-side slot
//   number (client-supplied player numbers are never trusted)
// - Rooms deleted once all four slots are empty; idle rooms reaped
// - In-browser QR sharing of the room URL, backed by go-qrcode

package main

import (
	"crypto/rand"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

const (
	roomCodeLength   = 6
	roomCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	errRoomNotFound = "Room not found"
	errRoomFull     = "Room full"
)

// newRoomCode generates a random room code. Codes are not checked for
// collisions; at party scale the keyspace makes clashes an accepted risk.
func newRoomCode() string {
	const maxByte = byte(255 - (256 % len(roomCodeAlphabet)))

	out := make([]byte, 0, roomCodeLength)
	buf := make([]byte, roomCodeLength*2)

	for len(out) < roomCodeLength {
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}

		for _, b := range buf {
			if b <= maxByte {
				out = append(out, roomCodeAlphabet[int(b)%len(roomCodeAlphabet)])
				if len(out) == roomCodeLength {
					return string(out)
				}
			}
		}
	}

	return string(out)
}

type pongClient struct {
	conn *websocket.Conn
	send chan any
	id   string

	room *pongRoom
	slot int // 1-based slot number, 0 while spectating

	// gone is set when the send channel closes; the client can no longer
	// be messaged or seated.
	gone bool
}

type pongRoom struct {
	code       string
	slots      [4]*pongClient
	members    map[*pongClient]bool
	lastActive time.Time
}

func (r *pongRoom) occupancy() [4]bool {
	var slots [4]bool
	for i, c := range r.slots {
		slots[i] = c != nil
	}
	return slots
}

func (r *pongRoom) empty() bool {
	for _, c := range r.slots {
		if c != nil {
			return false
		}
	}
	return true
}

// roomManager owns every pong room. All mutation happens under mu, so each
// inbound message is handled as one indivisible step.
type roomManager struct {
	cfg *Config

	mu    sync.Mutex
	rooms map[string]*pongRoom
}

func newRoomManager(cfg *Config) *roomManager {
	rm := &roomManager{
		cfg:   cfg,
		rooms: make(map[string]*pongRoom),
	}
	if cfg.sessionTimeout > 0 {
		go rm.reaperLoop(cfg.sessionTimeout)
	}
	return rm
}

// reaperLoop periodically removes rooms that have been idle too long, so
// abandoned displays do not pin rooms forever.
func (rm *roomManager) reaperLoop(idleTimeout time.Duration) {
	ticker := time.NewTicker(idleTimeout / 2)
	for range ticker.C {
		rm.reapIdle(idleTimeout)
	}
}

// reapIdle deletes rooms idle past the timeout. Members are told the room
// is gone and closed out, so their sockets shut down instead of hanging.
func (rm *roomManager) reapIdle(idleTimeout time.Duration) {
	cutoff := time.Now().Add(-idleTimeout)

	rm.mu.Lock()
	defer rm.mu.Unlock()

	for code, room := range rm.rooms {
		if !room.lastActive.Before(cutoff) {
			continue
		}

		for c := range room.members {
			rm.sendTo(c, roomClosedMessage{
				Type: "roomClosed",
				Room: code,
			})
			if !c.gone {
				c.gone = true
				close(c.send)
			}
			c.room = nil
			c.slot = 0
		}

		delete(rm.rooms, code)
		logf(rm.cfg, "GAMES: Reaped idle pong room %s", code)
	}
}

func (rm *roomManager) sendTo(c *pongClient, msg any) {
	if c.gone {
		return
	}

	select {
	case c.send <- msg:
	default:
		rm.dropLocked(c)
	}
}

// dropLocked disconnects a client whose send buffer is full. Assumes rm.mu
// is held.
func (rm *roomManager) dropLocked(c *pongClient) {
	if c.room != nil {
		delete(c.room.members, c)
	}
	c.gone = true
	close(c.send)
	if c.room != nil && c.slot > 0 {
		c.room.slots[c.slot-1] = nil
		rm.finishVacateLocked(c.room)
	}
	c.room = nil
	c.slot = 0
}

func (rm *roomManager) broadcastLocked(room *pongRoom, msg any) {
	for c := range room.members {
		rm.sendTo(c, msg)
	}
}

// createRoom opens a fresh room with all four slots empty and subscribes the
// creating connection (normally the display) to its broadcasts.
func (rm *roomManager) createRoom(c *pongClient) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if c.gone {
		return
	}

	rm.leaveCurrentLocked(c)

	room := &pongRoom{
		code:       newRoomCode(),
		members:    make(map[*pongClient]bool),
		lastActive: time.Now(),
	}
	room.members[c] = true
	c.room = room
	rm.rooms[room.code] = room

	logf(rm.cfg, "GAMES: Created pong room %s", room.code)

	rm.sendTo(c, roomCreatedMessage{
		Type: "room",
		Room: room.code,
	})
}

// joinRoom assigns the lowest free slot and reports the 1-based player
// number, or a structured failure when the room is unknown or full.
func (rm *roomManager) joinRoom(c *pongClient, code string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if c.gone {
		return
	}

	room, ok := rm.rooms[code]
	if !ok {
		rm.sendTo(c, roomJoinedMessage{
			Type:  "joined",
			Error: errRoomNotFound,
		})
		return
	}

	room.lastActive = time.Now()

	slot := -1
	for i, occupant := range room.slots {
		if occupant == nil {
			slot = i
			break
		}
	}
	if slot == -1 {
		rm.sendTo(c, roomJoinedMessage{
			Type:  "joined",
			Error: errRoomFull,
		})
		return
	}

	rm.leaveCurrentLocked(c)

	room.slots[slot] = c
	room.members[c] = true
	c.room = room
	c.slot = slot + 1

	logf(rm.cfg, "GAMES: Player %d joined pong room %s", c.slot, code)

	rm.sendTo(c, roomJoinedMessage{
		Type:   "joined",
		OK:     true,
		Player: c.slot,
	})

	rm.broadcastLocked(room, roomUpdateMessage{
		Type:  "roomUpdate",
		Slots: room.occupancy(),
	})
}

// leaveRoom vacates the sender's slot. Explicit leave and disconnect share
// the same path.
func (rm *roomManager) leaveRoom(c *pongClient) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	rm.leaveCurrentLocked(c)
}

func (rm *roomManager) leaveCurrentLocked(c *pongClient) {
	room := c.room
	if room == nil {
		return
	}

	delete(room.members, c)
	if c.slot > 0 {
		room.slots[c.slot-1] = nil
	}
	c.room = nil
	c.slot = 0

	room.lastActive = time.Now()

	rm.finishVacateLocked(room)
}

// finishVacateLocked deletes the room once every slot is empty, otherwise
// broadcasts the updated occupancy.
func (rm *roomManager) finishVacateLocked(room *pongRoom) {
	if room.empty() {
		if rm.rooms[room.code] == room {
			delete(rm.rooms, room.code)
			logf(rm.cfg, "GAMES: Deleted empty pong room %s", room.code)
		}
		return
	}

	rm.broadcastLocked(room, roomUpdateMessage{
		Type:  "roomUpdate",
		Slots: room.occupancy(),
	})
}

// startGame relays a start request to everyone in the room. The server does
// not gate who may start; the display drives the flow.
func (rm *roomManager) startGame(c *pongClient, code, mode string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	room, ok := rm.rooms[code]
	if !ok || !room.members[c] {
		return
	}

	room.lastActive = time.Now()

	rm.broadcastLocked(room, roomStartMessage{
		Type: "startGame",
		Mode: mode,
	})
}

// relayInput re-emits controller input to the whole room, including the
// sender, stamped with the slot number the server assigned. Input from a
// connection holding no slot in the named room is silently dropped.
func (rm *roomManager) relayInput(c *pongClient, code string, input pongInput) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	room, ok := rm.rooms[code]
	if !ok || c.room != room || c.slot == 0 {
		return
	}

	room.lastActive = time.Now()

	rm.broadcastLocked(room, playerInputMessage{
		Type:   "playerInput",
		Player: c.slot,
		Input:  input,
	})
}

func (rm *roomManager) disconnect(c *pongClient) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if c.room != nil {
		logf(rm.cfg, "GAMES: Pong connection %s left room %s", c.id, c.room.code)
	}
	rm.leaveCurrentLocked(c)
}

func (rm *roomManager) handle(c *pongClient, env clientEnvelope) {
	switch env.Type {
	case "createRoom":
		rm.createRoom(c)

	case "joinRoom":
		var p joinRoomPayload
		if env.decode(&p) && p.Room != "" {
			rm.joinRoom(c, p.Room)
		}

	case "leaveRoom":
		rm.leaveRoom(c)

	case "startGame":
		var p startRoomGamePayload
		if env.decode(&p) && p.Room != "" {
			rm.startGame(c, p.Room, p.Mode)
		}

	case "input":
		var p inputPayload
		if env.decode(&p) && p.Room != "" {
			rm.relayInput(c, p.Room, p.Input)
		}

	default:
		// ignore unknown types
	}
}

func (c *pongClient) readPump(rm *roomManager) {
	defer func() {
		rm.disconnect(c)
		_ = c.conn.Close()
	}()

	for {
		var env clientEnvelope
		if err := c.conn.ReadJSON(&env); err != nil {
			return
		}
		rm.handle(c, env)
	}
}

func (c *pongClient) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

func servePongWS(cfg *Config, rm *roomManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		client := &pongClient{
			conn: conn,
			send: make(chan any, 16),
			id:   uuid.NewString(),
		}

		go client.writePump()
		client.readPump(rm)
	}
}

// registerPongGame sets up routes so that:
//   - $path/ws        → WebSocket shared by displays and controllers
//   - $path/qr/:room  → PNG QR code linking to the room
func registerPongGame(cfg *Config, path string, mux *httprouter.Router) *roomManager {
	rm := newRoomManager(cfg)

	mux.GET(cfg.prefix+path+"/ws", servePongWS(cfg, rm))
	mux.GET(cfg.prefix+path+"/qr/:room", qrHandler(cfg, path))

	return rm
}
