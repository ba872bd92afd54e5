package signal

import (
	"context"
	"sync"

	"github.com/meetbridge/interview-gateway/internal/jsonrpc"
	"github.com/meetbridge/interview-gateway/internal/log"
)

// WSConnManager tracks which WebSocket connections belong to which
// room and fans notifications out to them. Membership here means
// "admitted": connections are added after a successful join, never at
// upgrade time.
type WSConnManager struct {
	room2clients map[string]map[string]jsonrpc.Conn[rtcContext] // roomId -> connId -> Client
	client2room  map[string]string                              // connId -> roomId
	clientsMux   sync.RWMutex
	logger       *log.Logger
}

func NewWSConnMgr(logger *log.Logger) *WSConnManager {
	return &WSConnManager{
		room2clients: make(map[string]map[string]jsonrpc.Conn[rtcContext]),
		client2room:  make(map[string]string),
		logger:       logger,
	}
}

func (m *WSConnManager) AddClient(connID, roomID string, peer jsonrpc.Conn[rtcContext]) {
	m.clientsMux.Lock()
	defer m.clientsMux.Unlock()

	m.client2room[connID] = roomID

	room, ok := m.room2clients[roomID]
	if !ok {
		room = make(map[string]jsonrpc.Conn[rtcContext])
		m.room2clients[roomID] = room
	}
	room[connID] = peer

	m.logger.Debug("Client joined",
		log.String("connId", connID),
		log.String("roomId", roomID),
	)
}

func (m *WSConnManager) RemoveClient(connID string) {
	m.clientsMux.Lock()
	defer m.clientsMux.Unlock()

	roomID, ok := m.client2room[connID]
	if !ok {
		return
	}
	if room, ok := m.room2clients[roomID]; ok {
		delete(room, connID)
		if len(room) == 0 {
			delete(m.room2clients, roomID)
		}
	}

	delete(m.client2room, connID)

	m.logger.Debug("Client removed from room",
		log.String("connId", connID),
		log.String("roomId", roomID),
	)
}

func (m *WSConnManager) RemoveRoom(roomID string) {
	m.clientsMux.Lock()
	defer m.clientsMux.Unlock()

	room, ok := m.room2clients[roomID]
	if !ok {
		return
	}

	for connID := range room {
		delete(m.client2room, connID)
	}
	delete(m.room2clients, roomID)

	m.logger.Debug("Room removed", log.String("roomId", roomID))
}

// GetPeer returns the connection only when it currently belongs to the
// given room; a relay toward anything else is a miss.
func (m *WSConnManager) GetPeer(roomID, connID string) (jsonrpc.Conn[rtcContext], bool) {
	m.clientsMux.RLock()
	defer m.clientsMux.RUnlock()

	if m.client2room[connID] != roomID {
		return nil, false
	}
	peer, ok := m.room2clients[roomID][connID]
	return peer, ok
}

func (m *WSConnManager) getRoomConns(roomID string) []jsonrpc.Conn[rtcContext] {
	m.clientsMux.RLock()
	defer m.clientsMux.RUnlock()

	clients := m.room2clients[roomID]
	if clients == nil {
		return nil
	}

	conns := make([]jsonrpc.Conn[rtcContext], 0, len(clients))
	for _, client := range clients {
		conns = append(conns, client)
	}
	return conns
}

// NotifyRoom fans a notification out to every admitted connection in
// the room. Delivery is best effort; failures are logged and counted.
func (m *WSConnManager) NotifyRoom(roomID, method string, data interface{}) {
	m.notifyRoom(roomID, "", method, data)
}

// NotifyRoomExcept is NotifyRoom minus one connection, typically the
// originator of the event.
func (m *WSConnManager) NotifyRoomExcept(roomID, exceptConnID, method string, data interface{}) {
	m.notifyRoom(roomID, exceptConnID, method, data)
}

func (m *WSConnManager) notifyRoom(roomID, exceptConnID, method string, data interface{}) {
	conns := m.getRoomConns(roomID)
	if conns == nil {
		return
	}

	for _, conn := range conns {
		rtcCtx := conn.Context().Get()
		if rtcCtx.connID == exceptConnID {
			continue
		}
		if err := conn.Notify(rtcCtx.reqCtx, method, data); err != nil {
			notificationsFailed.Add(context.Background(), 1)
			m.logger.Error("Failed to send to client",
				log.String("roomId", roomID),
				log.String("method", method),
				log.Error(err),
			)
			continue
		}
		notificationsSent.Add(context.Background(), 1)
	}
}

// NotifyConn delivers a notification to one admitted connection;
// reports whether the target was present.
func (m *WSConnManager) NotifyConn(roomID, connID, method string, data interface{}) bool {
	peer, ok := m.GetPeer(roomID, connID)
	if !ok {
		return false
	}

	rtcCtx := peer.Context().Get()
	if err := peer.Notify(rtcCtx.reqCtx, method, data); err != nil {
		notificationsFailed.Add(context.Background(), 1)
		m.logger.Error("Failed to send to client",
			log.String("connId", connID),
			log.String("method", method),
			log.Error(err),
		)
		return true
	}
	notificationsSent.Add(context.Background(), 1)
	return true
}
