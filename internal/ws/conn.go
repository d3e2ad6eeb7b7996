package ws

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Client 是一条协商房间里的 websocket 连接。
type Client struct {
	room *RoomHub
	conn *websocket.Conn
	send chan []byte
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Snapshot 是连接建立时下发的房间状态快照。
type Snapshot struct {
	RoomHash        string `json:"room_hash"`
	IsBuyerAssigned bool   `json:"is_buyer_assigned"`
	HasBuyer        bool   `json:"has_buyer"`
	HasInvoice      bool   `json:"has_invoice"`
	InvoiceStatus   string `json:"invoice_status,omitempty"`
}

// SnapshotFunc 由服务层提供：按房间句柄取当前快照，房间不存在时返回错误。
type SnapshotFunc func(roomHash string) (*Snapshot, error)

// Serve 升级 websocket 连接并把客户端挂进房间协商组。
// 连接建立后立即下发 room_state 快照；之后客户端发来的消息
// 原样广播给组内其他连接（negotiation_update 语义）。
func Serve(h *Hub, snapshot SnapshotFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		roomHash := c.Param("room")
		snap, err := snapshot(roomHash)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		rh := h.GetRoom(roomHash)
		client := &Client{room: rh, conn: conn, send: make(chan []byte, 256)}
		rh.register <- client

		go client.writePump()

		if b, err := json.Marshal(map[string]interface{}{"type": "room_state", "data": snap}); err == nil {
			client.send <- b
		}

		client.readPump()
	}
}

func (c *Client) readPump() {
	defer func() {
		c.room.unregister <- c
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(64 << 10)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		var msg map[string]interface{}
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		evt := map[string]interface{}{"type": "negotiation_update", "data": msg}
		if b, err := json.Marshal(evt); err == nil {
			c.room.broadcast <- b
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(45 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
