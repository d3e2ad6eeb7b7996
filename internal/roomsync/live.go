package roomsync

import (
	"context"
	"encoding/json"
	"strings"

	clog "github.com/Wawayooo/ONLINE-INVOICING/internal/log"

	"github.com/gorilla/websocket"
)

// Event 是房间 websocket 推送的一条事件。
// type 为 room_state（连接快照）或 negotiation_update（协商变更）。
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Subscribe 订阅房间的实时推送。返回的 channel 在连接断开或
// ctx 取消后关闭；调用方收到 negotiation_update 后应重新 LoadRoom。
func (c *Client) Subscribe(ctx context.Context, roomHash string) (<-chan Event, error) {
	wsURL := strings.Replace(c.base, "http", "ws", 1) + "/ws/negotiation/" + roomHash + "/"
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, err
	}

	logger := clog.Component("roomsync")
	events := make(chan Event, 16)
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	go func() {
		defer close(events)
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					logger.Debug().Err(err).Str("room", roomHash).Msg("ws read")
				}
				return
			}
			var evt Event
			if err := json.Unmarshal(data, &evt); err != nil {
				continue
			}
			select {
			case events <- evt:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, nil
}
