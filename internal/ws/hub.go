package ws

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/Wawayooo/ONLINE-INVOICING/internal/metrics"
)

// Hub 按房间句柄管理协商组，懒加载且并发安全。
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]*RoomHub
}

func NewHub() *Hub { return &Hub{rooms: make(map[string]*RoomHub)} }

// GetRoom 若协商组未初始化则懒加载一个 RoomHub。
func (h *Hub) GetRoom(roomHash string) *RoomHub {
	h.mu.RLock()
	room := h.rooms[roomHash]
	h.mu.RUnlock()
	if room != nil {
		return room
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	room = h.rooms[roomHash]
	if room != nil {
		return room
	}
	room = NewRoomHub(roomHash)
	h.rooms[roomHash] = room
	go room.run()
	return room
}

// Online 返回房间当前的连接数。
func (h *Hub) Online(roomHash string) int {
	h.mu.RLock()
	room := h.rooms[roomHash]
	h.mu.RUnlock()
	if room == nil {
		return 0
	}
	return room.Online()
}

// BroadcastUpdate 把一次协商变更推给房间里的所有连接。
// 服务层在每次状态迁移落库后调用，客户端据此刷新权威状态。
func (h *Hub) BroadcastUpdate(roomHash string, payload interface{}) {
	evt := map[string]interface{}{"type": "negotiation_update", "data": payload}
	b, err := json.Marshal(evt)
	if err != nil {
		return
	}
	h.mu.RLock()
	room := h.rooms[roomHash]
	h.mu.RUnlock()
	if room == nil {
		return
	}
	room.broadcast <- b
}

// RoomHub 是单个房间的协商组。
type RoomHub struct {
	roomHash   string
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	online     int32
}

func NewRoomHub(roomHash string) *RoomHub {
	return &RoomHub{
		roomHash:   roomHash,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
	}
}

func (rh *RoomHub) run() {
	for {
		select {
		case c := <-rh.register:
			rh.clients[c] = true
			atomic.StoreInt32(&rh.online, int32(len(rh.clients)))
			metrics.WsConnections.Inc()
		case c := <-rh.unregister:
			if _, ok := rh.clients[c]; ok {
				delete(rh.clients, c)
				close(c.send)
				atomic.StoreInt32(&rh.online, int32(len(rh.clients)))
				metrics.WsConnections.Dec()
			}
		case msg := <-rh.broadcast:
			for c := range rh.clients {
				select {
				case c.send <- msg:
				default:
					close(c.send)
					delete(rh.clients, c)
					metrics.WsConnections.Dec()
				}
			}
		}
	}
}

// Online 返回房间在线连接数。
func (rh *RoomHub) Online() int { return int(atomic.LoadInt32(&rh.online)) }
